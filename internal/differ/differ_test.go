package differ_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/differ"
)

func newMockSession(t *testing.T) (*dbstore.Session, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)

	mock.ExpectExec(`SET search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	sess, err := router.SessionFor(context.Background(), "state_aaaa")
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess, mock
}

func TestRowMarshalJSONFlattensValuesWithEntityTag(t *testing.T) {
	row := differ.Row{Entity: "messages", Values: map[string]any{"id": 1, "text": "hi"}}
	b, err := json.Marshal(row)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "messages", decoded["__entity__"])
	require.Equal(t, "hi", decoded["text"])
	require.Equal(t, float64(1), decoded["id"])
}

func TestDiffDetectsInsertsUpdatesAndDeletesForPKTable(t *testing.T) {
	sess, mock := newMockSession(t)
	pool := &dbstore.Pool{DB: nil, Dialect: dbstore.Postgres}
	reflector := dbstore.NewReflector(pool, 64, time.Minute)
	d := differ.New(reflector)

	mock.ExpectQuery(`SELECT table_name FROM information_schema\.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("messages"))

	mock.ExpectQuery(`SELECT column_name, data_type FROM information_schema\.columns`).
		WithArgs("messages").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "integer").
			AddRow("text", "text").
			AddRow("status", "text"))

	mock.ExpectQuery(`PRIMARY KEY`).
		WithArgs("messages").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))

	mock.ExpectQuery(`SELECT 1 FROM information_schema\.tables`).
		WithArgs("messages_snapshot_before").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT 1 FROM information_schema\.tables`).
		WithArgs("messages_snapshot_after").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))

	mock.ExpectQuery(`LEFT JOIN .*messages_snapshot_before`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "status"}).
			AddRow(int64(2), "new message", "open"))

	mock.ExpectQuery(`LEFT JOIN .*messages_snapshot_after`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "status"}))

	mock.ExpectQuery(`IS DISTINCT FROM`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "status", "id", "text", "status"}).
			AddRow(int64(1), "hello", "open", int64(1), "hello", "closed"))

	diff, err := d.Diff(context.Background(), sess, "before", "after", nil)
	require.NoError(t, err)

	require.Len(t, diff.Inserts, 1)
	require.Equal(t, "messages", diff.Inserts[0].Entity)
	require.Equal(t, "new message", diff.Inserts[0].Values["text"])

	require.Empty(t, diff.Deletes)

	require.Len(t, diff.Updates, 1)
	require.Equal(t, []string{"status"}, diff.Updates[0].ChangedFields)
	require.Equal(t, "open", diff.Updates[0].Before["status"])
	require.Equal(t, "closed", diff.Updates[0].After["status"])

	require.NoError(t, mock.ExpectationsWereMet())
}
