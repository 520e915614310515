package differ

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftlane/driftlane/internal/dbstore"
)

func quote(dialect dbstore.Dialect, ident string) string {
	if dialect == dbstore.MySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

func columnList(t dbstore.Table) []string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	return cols
}

func prefixColumns(alias string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s", alias, c)
	}
	return strings.Join(parts, ", ")
}

func joinCondition(dialect dbstore.Dialect, pk []string, left, right string) string {
	parts := make([]string, len(pk))
	for i, c := range pk {
		col := quote(dialect, c)
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", left, col, right, col)
	}
	return strings.Join(parts, " AND ")
}

func orderBy(dialect dbstore.Dialect, pk []string, alias string) string {
	if len(pk) == 0 {
		return "1"
	}
	parts := make([]string, len(pk))
	for i, c := range pk {
		parts[i] = fmt.Sprintf("%s.%s", alias, quote(dialect, c))
	}
	return strings.Join(parts, ", ")
}

// notEqualNullSafe returns a dialect-appropriate fragment equivalent to
// "a IS DISTINCT FROM b": true when exactly one side is NULL, or both are
// non-NULL and unequal.
func notEqualNullSafe(dialect dbstore.Dialect, a, b string) string {
	if dialect == dbstore.MySQL {
		return fmt.Sprintf("NOT (%s <=> %s)", a, b)
	}
	return fmt.Sprintf("%s IS DISTINCT FROM %s", a, b)
}

func scanAllRows(ctx context.Context, sess *dbstore.Session, table, entity string) ([]Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY 1", quote(sess.Dialect, table))
	rows, err := sess.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("scan all rows of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return scanToRows(rows, cols, entity)
}

// rowsScanner is the subset of *sql.Rows used by scanToRows, so callers
// that already hold an open *sql.Rows can share the scanning logic.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanToRows(rows rowsScanner, cols []string, entity string) ([]Row, error) {
	var out []Row
	n := len(cols)
	for rows.Next() {
		ptrs := make([]any, n)
		vals := make([]any, n)
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values := make(map[string]any, n)
		for i, c := range cols {
			values[c] = normalize(vals[i])
		}
		out = append(out, Row{Entity: entity, Values: values})
	}
	return out, rows.Err()
}

// normalize converts driver-returned []byte (common for text/numeric types
// under lib/pq and go-sql-driver/mysql) into string so Diff values compare
// and JSON-encode predictably.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func marshalFlat(entity string, values map[string]any) ([]byte, error) {
	flat := make(map[string]any, len(values)+1)
	for k, v := range values {
		flat[k] = v
	}
	flat["__entity__"] = entity
	return json.Marshal(flat)
}
