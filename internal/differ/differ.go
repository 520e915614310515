// Package differ implements the Differ: namespace snapshotting and
// primary-key-keyed diffing between two snapshots, computed as pure SQL
// against side-tables rather than row-by-row in application code.
package differ

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/driftlane/driftlane/internal/apierr"
	"github.com/driftlane/driftlane/internal/dbstore"
)

// Row is a full row projection, tagged with the table it came from.
type Row struct {
	Entity string         `json:"__entity__"`
	Values map[string]any `json:"-"`
}

// MarshalJSON flattens Values alongside __entity__, matching the wire shape
// every Diff row carries per the data model.
func (r Row) MarshalJSON() ([]byte, error) {
	return marshalFlat(r.Entity, r.Values)
}

// Update describes one changed row between two snapshots.
type Update struct {
	Entity        string         `json:"__entity__"`
	PK            map[string]any `json:"pk"`
	Before        map[string]any `json:"before"`
	After         map[string]any `json:"after"`
	ChangedFields []string       `json:"changed_fields"`
}

// Diff is the pure-value result of comparing two snapshots.
type Diff struct {
	Inserts []Row    `json:"inserts"`
	Updates []Update `json:"updates"`
	Deletes []Row    `json:"deletes"`
}

// Differ creates and compares namespace snapshots.
type Differ struct {
	reflector *dbstore.Reflector
}

// New creates a Differ backed by reflector.
func New(reflector *dbstore.Reflector) *Differ {
	return &Differ{reflector: reflector}
}

func snapshotTable(table, suffix string) string {
	return fmt.Sprintf("%s_snapshot_%s", table, suffix)
}

// Snapshot creates `{T}_snapshot_{suffix}` for every user table visible in
// sess's namespace, as a full structure+row copy, inside one transaction.
// Creating an already-used suffix is a conflict error.
func (d *Differ) Snapshot(ctx context.Context, sess *dbstore.Session, suffix string) error {
	tables, err := d.reflector.Tables(ctx, sess, "")
	if err != nil {
		return fmt.Errorf("reflect tables: %w", err)
	}

	for _, t := range tables {
		snap := snapshotTable(t.Name, suffix)
		exists, err := tableExists(ctx, sess, snap)
		if err != nil {
			return err
		}
		if exists {
			return apierr.Newf(apierr.Conflict, "snapshot suffix %s already in use (table %s exists)", suffix, snap)
		}
	}

	tx, err := sess.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		snap := snapshotTable(t.Name, suffix)
		q := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quote(sess.Dialect, snap), quote(sess.Dialect, t.Name))
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("snapshot table %s (suffix %s already in use?): %w", t.Name, suffix, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Drop removes every `{T}_snapshot_{suffix}` side-table for suffix,
// independent of environment deletion (snapshot archival / GC).
func (d *Differ) Drop(ctx context.Context, sess *dbstore.Session, suffix string) error {
	tables, err := d.reflector.Tables(ctx, sess, "")
	if err != nil {
		return fmt.Errorf("reflect tables: %w", err)
	}
	for _, t := range tables {
		snap := snapshotTable(t.Name, suffix)
		q := fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(sess.Dialect, snap))
		if _, err := sess.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("drop snapshot table %s: %w", snap, err)
		}
	}
	return nil
}

// Diff computes inserts/updates/deletes between two snapshot suffixes for
// every user table, in the order the Reflector returns them. ignoreColumns
// is a per-column exclusion set applied across all tables (e.g. audit
// timestamps masked out of update detection).
func (d *Differ) Diff(ctx context.Context, sess *dbstore.Session, before, after string, ignoreColumns map[string]bool) (*Diff, error) {
	tables, err := d.reflector.Tables(ctx, sess, "")
	if err != nil {
		return nil, fmt.Errorf("reflect tables: %w", err)
	}

	result := &Diff{}
	for _, t := range tables {
		beforeExists, err := tableExists(ctx, sess, snapshotTable(t.Name, before))
		if err != nil {
			return nil, err
		}
		afterExists, err := tableExists(ctx, sess, snapshotTable(t.Name, after))
		if err != nil {
			return nil, err
		}
		if !beforeExists && !afterExists {
			continue
		}

		switch {
		case beforeExists && !afterExists:
			// Table dropped between snapshots: every row is a delete.
			rows, err := scanAllRows(ctx, sess, snapshotTable(t.Name, before), t.Name)
			if err != nil {
				return nil, err
			}
			result.Deletes = append(result.Deletes, rows...)
		case !beforeExists && afterExists:
			rows, err := scanAllRows(ctx, sess, snapshotTable(t.Name, after), t.Name)
			if err != nil {
				return nil, err
			}
			result.Inserts = append(result.Inserts, rows...)
		case len(t.PK) == 0:
			ins, del, err := d.diffNoPK(ctx, sess, t, before, after, ignoreColumns)
			if err != nil {
				return nil, err
			}
			result.Inserts = append(result.Inserts, ins...)
			result.Deletes = append(result.Deletes, del...)
		default:
			ins, upd, del, err := d.diffWithPK(ctx, sess, t, before, after, ignoreColumns)
			if err != nil {
				return nil, err
			}
			result.Inserts = append(result.Inserts, ins...)
			result.Updates = append(result.Updates, upd...)
			result.Deletes = append(result.Deletes, del...)
		}
	}

	return result, nil
}

func tableExists(ctx context.Context, sess *dbstore.Session, name string) (bool, error) {
	var q string
	if sess.Dialect == dbstore.MySQL {
		q = "SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	} else {
		q = "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}
	row := sess.QueryRowContext(ctx, q, name)
	var one int
	if err := row.Scan(&one); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, fmt.Errorf("check table exists %s: %w", name, err)
	}
	return true, nil
}

// diffWithPK computes inserts/updates/deletes for a table with a declared
// primary key using set-keyed outer joins, per §4.G.
func (d *Differ) diffWithPK(ctx context.Context, sess *dbstore.Session, t dbstore.Table, before, after string, ignore map[string]bool) ([]Row, []Update, []Row, error) {
	beforeTbl := snapshotTable(t.Name, before)
	afterTbl := snapshotTable(t.Name, after)

	ins, err := diffOneSided(ctx, sess, t, afterTbl, beforeTbl, t.Name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("inserts for %s: %w", t.Name, err)
	}
	del, err := diffOneSided(ctx, sess, t, beforeTbl, afterTbl, t.Name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("deletes for %s: %w", t.Name, err)
	}
	upd, err := diffUpdates(ctx, sess, t, beforeTbl, afterTbl, ignore)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("updates for %s: %w", t.Name, err)
	}
	return ins, upd, del, nil
}

// diffOneSided returns rows present in `present` whose PK is absent from
// `absent` (used for both inserts and deletes, with arguments swapped).
func diffOneSided(ctx context.Context, sess *dbstore.Session, t dbstore.Table, present, absent, entity string) ([]Row, error) {
	cols := columnList(t)
	aCols := prefixColumns("p", cols)
	on := joinCondition(sess.Dialect, t.PK, "p", "b")
	nullCheck := make([]string, len(t.PK))
	for i, pk := range t.PK {
		nullCheck[i] = fmt.Sprintf("b.%s IS NULL", quote(sess.Dialect, pk))
	}

	q := fmt.Sprintf(
		"SELECT %s FROM %s p LEFT JOIN %s b ON %s WHERE %s ORDER BY %s",
		aCols,
		quote(sess.Dialect, present),
		quote(sess.Dialect, absent),
		on,
		strings.Join(nullCheck, " AND "),
		orderBy(sess.Dialect, t.PK, "p"),
	)

	rows, err := sess.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanToRows(rows, cols, entity)
}

// diffUpdates returns rows present in both snapshots with the same PK where
// at least one non-ignored, non-PK column differs.
func diffUpdates(ctx context.Context, sess *dbstore.Session, t dbstore.Table, beforeTbl, afterTbl string, ignore map[string]bool) ([]Update, error) {
	pkSet := toSet(t.PK)
	var compareCols []string
	for _, c := range t.Columns {
		if pkSet[c.Name] || ignore[c.Name] {
			continue
		}
		compareCols = append(compareCols, c.Name)
	}

	on := joinCondition(sess.Dialect, t.PK, "b", "a")

	var distinctClauses []string
	for _, c := range compareCols {
		distinctClauses = append(distinctClauses, notEqualNullSafe(sess.Dialect, "b."+quote(sess.Dialect, c), "a."+quote(sess.Dialect, c)))
	}
	if len(distinctClauses) == 0 {
		// No comparable columns (e.g. table is all-PK): nothing can change.
		return nil, nil
	}

	cols := columnList(t)
	bCols := prefixColumns("b", cols)
	aCols := prefixColumns("a", cols)

	q := fmt.Sprintf(
		"SELECT %s, %s FROM %s b JOIN %s a ON %s WHERE %s ORDER BY %s",
		bCols, aCols,
		quote(sess.Dialect, beforeTbl),
		quote(sess.Dialect, afterTbl),
		on,
		strings.Join(distinctClauses, " OR "),
		orderBy(sess.Dialect, t.PK, "b"),
	)

	rows, err := sess.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []Update
	n := len(cols)
	for rows.Next() {
		ptrs := make([]any, 2*n)
		vals := make([]any, 2*n)
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan update row: %w", err)
		}

		before := make(map[string]any, n)
		after := make(map[string]any, n)
		for i, c := range cols {
			before[c] = normalize(vals[i])
			after[c] = normalize(vals[n+i])
		}

		var changed []string
		for _, c := range compareCols {
			if !valuesEqual(before[c], after[c]) {
				changed = append(changed, c)
			}
		}
		if len(changed) == 0 {
			continue
		}

		pk := make(map[string]any, len(t.PK))
		for _, p := range t.PK {
			pk[p] = after[p]
		}

		updates = append(updates, Update{
			Entity:        t.Name,
			PK:            pk,
			Before:        before,
			After:         after,
			ChangedFields: changed,
		})
	}
	return updates, rows.Err()
}

// diffNoPK handles tables without a declared primary key: a synthetic hash
// key over non-ignored columns stands in for identity, and set algebra
// (golang-set) over the two hash-key sets yields inserts/deletes. Updates
// are not meaningful for such tables (a changed row looks like a
// delete+insert under a content hash) and are always reported empty.
func (d *Differ) diffNoPK(ctx context.Context, sess *dbstore.Session, t dbstore.Table, before, after string, ignore map[string]bool) ([]Row, []Row, error) {
	beforeRows, err := scanAllRows(ctx, sess, snapshotTable(t.Name, before), t.Name)
	if err != nil {
		return nil, nil, err
	}
	afterRows, err := scanAllRows(ctx, sess, snapshotTable(t.Name, after), t.Name)
	if err != nil {
		return nil, nil, err
	}

	beforeSet := mapset.NewThreadUnsafeSet[string]()
	beforeByHash := map[string]Row{}
	for _, r := range beforeRows {
		h := rowHash(r.Values, ignore)
		beforeSet.Add(h)
		beforeByHash[h] = r
	}
	afterSet := mapset.NewThreadUnsafeSet[string]()
	afterByHash := map[string]Row{}
	for _, r := range afterRows {
		h := rowHash(r.Values, ignore)
		afterSet.Add(h)
		afterByHash[h] = r
	}

	insHashes := afterSet.Difference(beforeSet).ToSlice()
	delHashes := beforeSet.Difference(afterSet).ToSlice()
	sort.Strings(insHashes)
	sort.Strings(delHashes)

	var ins, del []Row
	for _, h := range insHashes {
		ins = append(ins, afterByHash[h])
	}
	for _, h := range delHashes {
		del = append(del, beforeByHash[h])
	}
	return ins, del, nil
}

func rowHash(values map[string]any, ignore map[string]bool) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if ignore[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v\x00", k, values[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
