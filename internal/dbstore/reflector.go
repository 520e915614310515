package dbstore

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Column describes one column of a reflected user table.
type Column struct {
	Name string
	Type string
}

// Table describes a user table as discovered at runtime: just enough shape
// for the Differ to build snapshot/diff SQL without hard-coding anything
// about the template that produced it.
type Table struct {
	Name    string
	Columns []Column
	PK      []string // primary-key column names, in declared order; empty if none
}

// snapshotTablePattern excludes the Differ's own side-tables from user-table
// enumeration, per the "*_snapshot_*" exclusion rule.
var snapshotTablePattern = regexp.MustCompile(`_snapshot_`)

// Reflector enumerates user tables, their columns, and primary keys for a
// namespace, without assuming anything about which template produced it.
// Results are cached per (namespace, schema_version) so a fresh clone's
// first reflection populates the cache and later calls against the same
// template version are free.
type Reflector struct {
	pool  *Pool
	cache *reflectorCache
}

// NewReflector creates a Reflector backed by pool, with an in-memory cache
// sized maxEntries and bounded by ttl.
func NewReflector(pool *Pool, maxEntries int, ttl time.Duration) *Reflector {
	return &Reflector{pool: pool, cache: newReflectorCache(maxEntries, ttl)}
}

// Tables returns the user tables visible in the namespace bound to sess,
// keyed in the cache by (namespace, schemaVersion). Pass an empty
// schemaVersion to always bypass cache reuse across template revisions.
func (r *Reflector) Tables(ctx context.Context, sess *Session, schemaVersion string) ([]Table, error) {
	key := sess.Namespace + ":" + schemaVersion
	if schemaVersion != "" {
		if cached, ok := r.cache.get(key); ok {
			return cached, nil
		}
	}

	names, err := r.tableNames(ctx, sess)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := r.columns(ctx, sess, name)
		if err != nil {
			return nil, err
		}
		pk, err := r.primaryKey(ctx, sess, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols, PK: pk})
	}

	if schemaVersion != "" {
		r.cache.set(key, tables)
	}
	return tables, nil
}

// InvalidateNamespace drops every cached reflection for namespace.
// Environment deletion does not call it; cached entries of a deleted
// namespace stay until they expire or are evicted.
func (r *Reflector) InvalidateNamespace(namespace string) {
	r.cache.invalidateNamespace(namespace)
}

func (r *Reflector) schemaExpr() string {
	if r.pool.Dialect == MySQL {
		return "DATABASE()"
	}
	return "current_schema()"
}

func (r *Reflector) tableNames(ctx context.Context, sess *Session) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = %s AND table_type = 'BASE TABLE'
		ORDER BY table_name`, r.schemaExpr())

	rows, err := sess.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("enumerate tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if snapshotTablePattern.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *Reflector) columns(ctx context.Context, sess *Session, table string) ([]Column, error) {
	query := fmt.Sprintf(`
		SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = %s AND table_name = ?
		ORDER BY ordinal_position`, r.schemaExpr())

	rows, err := sess.QueryContext(ctx, rebind(r.pool.Dialect, query), table)
	if err != nil {
		return nil, fmt.Errorf("enumerate columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (r *Reflector) primaryKey(ctx context.Context, sess *Session, table string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = %s
			AND tc.table_name = ?
		ORDER BY kcu.ordinal_position`, r.schemaExpr())

	rows, err := sess.QueryContext(ctx, rebind(r.pool.Dialect, query), table)
	if err != nil {
		return nil, fmt.Errorf("enumerate primary key of %s: %w", table, err)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan pk column of %s: %w", table, err)
		}
		pk = append(pk, col)
	}
	return pk, rows.Err()
}

// rebind rewrites "?" placeholders to "$1", "$2", … for postgres; mysql and
// the "?" form are left untouched since lib/pq is the only driver here that
// doesn't accept "?".
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	n := 0
	out := make([]byte, 0, len(query)+8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
