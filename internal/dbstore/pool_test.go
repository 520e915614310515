package dbstore_test

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/dbstore"
)

func TestOpenRejectsUnsupportedDatabaseType(t *testing.T) {
	_, err := dbstore.Open("oracle", "dsn")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database type")
}

func TestQuoteIdentPerDialect(t *testing.T) {
	pg := &dbstore.Pool{Dialect: dbstore.Postgres}
	require.Equal(t, `"messages"`, pg.QuoteIdent("messages"))

	my := &dbstore.Pool{Dialect: dbstore.MySQL}
	require.Equal(t, "`messages`", my.QuoteIdent("messages"))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)

	mock.ExpectExec(`SET search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	sess, err := router.SessionFor(context.Background(), "state_aaaa")
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}
