package isolation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftlane/driftlane/internal/apierr"
	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/platformdb"
)

// Engine allocates, seeds, and tears down per-environment namespaces.
type Engine struct {
	pool   *dbstore.Pool
	router *dbstore.Router
	store  *platformdb.Store
	log    *slog.Logger
}

// New creates an Engine over the shared pool/router/metadata store.
func New(pool *dbstore.Pool, router *dbstore.Router, store *platformdb.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{pool: pool, router: router, store: store, log: log}
}

// CreateEnvironment clones templateID into a fresh namespace, seeds it, and
// records an Environment row, per §4.E step (1)-(5). All-or-nothing: any
// failure drops the partially-created namespace and persists nothing.
func (e *Engine) CreateEnvironment(ctx context.Context, templateID string, ttl time.Duration, owner, impersonate string) (*platformdb.Environment, error) {
	template, err := e.store.GetTemplate(templateID)
	if err != nil {
		return nil, fmt.Errorf("lookup template: %w", err)
	}
	if template == nil {
		return nil, apierr.Newf(apierr.NotFound, "template %q not found", templateID)
	}

	var structural StructuralDefinition
	if err := json.Unmarshal([]byte(template.StructuralDefinition), &structural); err != nil {
		return nil, apierr.Newf(apierr.Internal, "template %q has invalid structural_definition: %v", templateID, err)
	}
	var seed SeedBundle
	if template.SeedBundle != "" {
		if err := json.Unmarshal([]byte(template.SeedBundle), &seed); err != nil {
			return nil, apierr.Newf(apierr.Internal, "template %q has invalid seed_bundle: %v", templateID, err)
		}
	}

	namespace := newNamespaceName()
	if err := e.createNamespace(ctx, namespace); err != nil {
		return nil, fmt.Errorf("create namespace: %w", err)
	}

	env, err := e.materialize(ctx, namespace, structural, seed, templateID, owner, impersonate, ttl)
	if err != nil {
		e.dropNamespaceBestEffort(context.WithoutCancel(ctx), namespace)
		return nil, err
	}
	return env, nil
}

func (e *Engine) materialize(ctx context.Context, namespace string, structural StructuralDefinition, seed SeedBundle, templateID, owner, impersonate string, ttl time.Duration) (*platformdb.Environment, error) {
	sess, err := e.router.SessionFor(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("bind session to new namespace: %w", err)
	}
	defer sess.Close()

	for _, t := range structural {
		if err := e.createTable(ctx, sess, t); err != nil {
			return nil, fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}

	for _, st := range seed {
		if err := e.seedTable(ctx, sess, st); err != nil {
			return nil, fmt.Errorf("seed table %s: %w", st.Table, err)
		}
	}

	if sess.Dialect == dbstore.Postgres {
		tableNames := make([]string, len(structural))
		for i, t := range structural {
			tableNames[i] = t.Name
		}
		if err := resetSequences(ctx, sess, tableNames); err != nil {
			return nil, fmt.Errorf("reset sequences: %w", err)
		}
	}

	now := time.Now()
	env := &platformdb.Environment{
		EnvironmentID:        uuid.NewString(),
		NamespaceName:        namespace,
		TemplateID:           templateID,
		Owner:                owner,
		ImpersonatedIdentity: impersonate,
		Status:               platformdb.EnvReady,
		ExpiresAt:            now.Add(ttl),
	}
	if err := e.store.CreateEnvironment(env); err != nil {
		return nil, fmt.Errorf("persist environment: %w", err)
	}
	return env, nil
}

// DeleteEnvironment marks an environment deleting, drops its namespace
// (cascading all snapshot side-tables), then marks it deleted. Idempotent:
// an already-deleted or unknown environment id is a no-op success.
func (e *Engine) DeleteEnvironment(ctx context.Context, environmentID string) error {
	env, err := e.store.GetEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("lookup environment: %w", err)
	}
	if env == nil || env.Status == platformdb.EnvDeleted {
		return nil
	}

	if err := e.store.UpdateEnvironmentStatus(environmentID, platformdb.EnvDeleting); err != nil {
		return fmt.Errorf("mark deleting: %w", err)
	}
	if err := e.dropNamespace(ctx, env.NamespaceName); err != nil {
		return fmt.Errorf("drop namespace %s: %w", env.NamespaceName, err)
	}
	if err := e.store.UpdateEnvironmentStatus(environmentID, platformdb.EnvDeleted); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return nil
}

// ExpirePass reaps every environment whose expires_at has passed, returning
// the ids it successfully deleted. Safe under concurrent invocations: each
// DeleteEnvironment call is independently idempotent.
func (e *Engine) ExpirePass(ctx context.Context) ([]string, error) {
	expired, err := e.store.ListExpired(time.Now())
	if err != nil {
		return nil, fmt.Errorf("list expired environments: %w", err)
	}

	var reaped []string
	for _, env := range expired {
		if err := e.DeleteEnvironment(ctx, env.EnvironmentID); err != nil {
			e.log.Error("expire pass: failed to delete environment", "environment_id", env.EnvironmentID, "error", err)
			continue
		}
		reaped = append(reaped, env.EnvironmentID)
	}
	return reaped, nil
}

func newNamespaceName() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "state_" + hex.EncodeToString(buf)
}

func (e *Engine) createNamespace(ctx context.Context, namespace string) error {
	var q string
	switch e.pool.Dialect {
	case dbstore.MySQL:
		q = fmt.Sprintf("CREATE DATABASE %s", e.pool.QuoteIdent(namespace))
	default:
		q = fmt.Sprintf("CREATE SCHEMA %s", e.pool.QuoteIdent(namespace))
	}
	_, err := e.pool.DB.ExecContext(ctx, q)
	return err
}

func (e *Engine) dropNamespace(ctx context.Context, namespace string) error {
	var q string
	switch e.pool.Dialect {
	case dbstore.MySQL:
		q = fmt.Sprintf("DROP DATABASE IF EXISTS %s", e.pool.QuoteIdent(namespace))
	default:
		q = fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", e.pool.QuoteIdent(namespace))
	}
	_, err := e.pool.DB.ExecContext(ctx, q)
	return err
}

// dropNamespaceBestEffort is used on the creation-failure rollback path:
// the namespace may not fully exist yet, so a drop error there is logged,
// not propagated (the caller already has the real error to return).
func (e *Engine) dropNamespaceBestEffort(ctx context.Context, namespace string) {
	if err := e.dropNamespace(ctx, namespace); err != nil {
		e.log.Error("rollback: failed to drop namespace after failed create_environment", "namespace", namespace, "error", err)
	}
}

func (e *Engine) createTable(ctx context.Context, sess *dbstore.Session, t TableDef) error {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", e.pool.QuoteIdent(c.Name), c.Type))
	}
	if len(t.PrimaryKey) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(e.pool, t.PrimaryKey)))
	}
	for _, u := range t.Unique {
		cols = append(cols, fmt.Sprintf("UNIQUE (%s)", quoteList(e.pool, u)))
	}
	for _, fk := range t.ForeignKeys {
		cols = append(cols, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteList(e.pool, fk.Columns), e.pool.QuoteIdent(fk.RefTable), quoteList(e.pool, fk.RefColumns)))
	}

	q := fmt.Sprintf("CREATE TABLE %s (%s)", e.pool.QuoteIdent(t.Name), strings.Join(cols, ", "))
	_, err := sess.ExecContext(ctx, q)
	return err
}

func (e *Engine) seedTable(ctx context.Context, sess *dbstore.Session, st SeedTable) error {
	for _, row := range st.Rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}

		placeholders := make([]string, len(cols))
		args := make([]any, len(cols))
		quotedCols := make([]string, len(cols))
		for i, c := range cols {
			quotedCols[i] = e.pool.QuoteIdent(c)
			args[i] = row[c]
			if sess.Dialect == dbstore.Postgres {
				placeholders[i] = fmt.Sprintf("$%d", i+1)
			} else {
				placeholders[i] = "?"
			}
		}

		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			e.pool.QuoteIdent(st.Table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
		if _, err := sess.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

// resetSequences advances each table's `id` sequence past the max seeded
// value, so subsequent application inserts don't collide with seed data.
func resetSequences(ctx context.Context, sess *dbstore.Session, tables []string) error {
	for _, tbl := range tables {
		var seqName *string
		row := sess.QueryRowContext(ctx, "SELECT pg_get_serial_sequence($1, 'id')", tbl)
		if err := row.Scan(&seqName); err != nil {
			return fmt.Errorf("lookup sequence for %s: %w", tbl, err)
		}
		if seqName == nil || *seqName == "" {
			continue // table has no serial `id` column
		}
		q := fmt.Sprintf("SELECT setval($1, COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)", quoteIdentPG(tbl))
		if _, err := sess.ExecContext(ctx, q, *seqName); err != nil {
			return fmt.Errorf("reset sequence for %s: %w", tbl, err)
		}
	}
	return nil
}

func quoteIdentPG(name string) string { return `"` + name + `"` }

func quoteList(pool *dbstore.Pool, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pool.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
