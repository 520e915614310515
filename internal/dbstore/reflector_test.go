package dbstore_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/dbstore"
)

func newReflectorSession(t *testing.T) (*dbstore.Session, sqlmock.Sqlmock) {
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

func expectOneTableReflection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT table_name FROM information_schema\.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("messages"))
	mock.ExpectQuery(`SELECT column_name, data_type FROM information_schema\.columns`).
		WithArgs("messages").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "integer"))
	mock.ExpectQuery(`PRIMARY KEY`).
		WithArgs("messages").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
}

func TestTablesCachesSecondCallForSameNamespaceAndVersion(t *testing.T) {
	sess, mock := newReflectorSession(t)
	pool := &dbstore.Pool{Dialect: dbstore.Postgres}
	reflector := dbstore.NewReflector(pool, 64, time.Minute)

	expectOneTableReflection(mock)

	tables, err := reflector.Tables(context.Background(), sess, "v1")
	require.NoError(t, err)
	require.Len(t, tables, 1)

	// Second call for the same (namespace, schemaVersion): no SQL should be
	// issued, since the expectations above are only set up once.
	tables2, err := reflector.Tables(context.Background(), sess, "v1")
	require.NoError(t, err)
	require.Equal(t, tables, tables2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTablesBypassesCacheForEmptySchemaVersion(t *testing.T) {
	sess, mock := newReflectorSession(t)
	pool := &dbstore.Pool{Dialect: dbstore.Postgres}
	reflector := dbstore.NewReflector(pool, 64, time.Minute)

	expectOneTableReflection(mock)
	expectOneTableReflection(mock)

	_, err := reflector.Tables(context.Background(), sess, "")
	require.NoError(t, err)
	_, err = reflector.Tables(context.Background(), sess, "")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateNamespaceForcesReReflection(t *testing.T) {
	sess, mock := newReflectorSession(t)
	pool := &dbstore.Pool{Dialect: dbstore.Postgres}
	reflector := dbstore.NewReflector(pool, 64, time.Minute)

	expectOneTableReflection(mock)
	expectOneTableReflection(mock)

	_, err := reflector.Tables(context.Background(), sess, "v1")
	require.NoError(t, err)

	reflector.InvalidateNamespace(sess.Namespace)

	_, err = reflector.Tables(context.Background(), sess, "v1")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
