package dbstore

import (
	"context"
	"database/sql"
	"fmt"
)

// MetaNamespace is the reserved namespace name for platform-owned tables
// (templates, environments, runs, api_keys, …), as opposed to a per-
// environment namespace.
const MetaNamespace = "meta"

// Session is a namespace-bound database session. Unqualified table names
// issued against it resolve within that namespace. Sessions are scoped
// resources: callers must Close them on every exit path, including error
// paths, exactly like the corpus's own per-request database handles.
type Session struct {
	conn      *sql.Conn
	Dialect   Dialect
	Namespace string
}

// ExecContext runs a statement against the bound namespace.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query against the bound namespace.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query against the bound namespace.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on this session's bound connection.
func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, opts)
}

// Close releases the underlying connection back to the pool. Safe to call
// more than once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Router hands out namespace-bound Sessions over a shared connection pool.
// "meta" resolves the platform-owned tables; any other name is an
// environment namespace. Binding is per-session via SET search_path
// (postgres) or USE (mysql) on acquisition, mirroring the request-scoped
// SET LOCAL search_path pattern used to bind agent traffic to a replica.
type Router struct {
	pool *Pool
}

// NewRouter creates a Router over pool.
func NewRouter(pool *Pool) *Router {
	return &Router{pool: pool}
}

// SessionFor acquires a connection from the shared pool and binds it to
// namespace. Pass dbstore.MetaNamespace for the platform metadata tables.
func (r *Router) SessionFor(ctx context.Context, namespace string) (*Session, error) {
	conn, err := r.pool.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if err := bindNamespace(ctx, conn, r.pool.Dialect, namespace); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind namespace %s: %w", namespace, err)
	}

	return &Session{conn: conn, Dialect: r.pool.Dialect, Namespace: namespace}, nil
}

func bindNamespace(ctx context.Context, conn *sql.Conn, dialect Dialect, namespace string) error {
	if namespace == MetaNamespace {
		namespace = "public"
	}
	switch dialect {
	case Postgres:
		// search_path entries cannot be parameterized; namespace names are
		// generated internally (state_<hex>) or validated identifiers, never
		// raw user input, so safe interpolation is acceptable here exactly as
		// in the session-binding code this is ported from.
		_, err := conn.ExecContext(ctx, fmt.Sprintf(`SET search_path TO "%s", public`, namespace))
		return err
	case MySQL:
		_, err := conn.ExecContext(ctx, fmt.Sprintf("USE `%s`", namespace))
		return err
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
}
