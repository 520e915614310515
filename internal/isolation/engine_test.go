package isolation_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/isolation"
	"github.com/driftlane/driftlane/internal/platformdb"
)

func newTestStore(t *testing.T) *platformdb.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := platformdb.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func templateJSON(t *testing.T) (string, string) {
	t.Helper()
	structural := isolation.StructuralDefinition{
		{
			Name: "users",
			Columns: []isolation.Column{
				{Name: "id", Type: "SERIAL"},
				{Name: "email", Type: "TEXT"},
			},
			PrimaryKey: []string{"id"},
		},
	}
	seed := isolation.SeedBundle{
		{Table: "users", Rows: []map[string]any{{"email": "seed@example.com"}}},
	}
	sb, err := json.Marshal(structural)
	require.NoError(t, err)
	sd, err := json.Marshal(seed)
	require.NoError(t, err)
	return string(sb), string(sd)
}

func TestCreateEnvironmentHappyPath(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)
	store := newTestStore(t)

	structural, seed := templateJSON(t)
	require.NoError(t, store.CreateTemplate(&platformdb.Template{
		ID:                   "tmpl-1",
		ServiceName:          "slack",
		TemplateName:         "default",
		StructuralDefinition: structural,
		SeedBundle:           seed,
		Visibility:           "public",
	}))

	mock.ExpectExec(`CREATE SCHEMA`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`pg_get_serial_sequence`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_get_serial_sequence"}).AddRow(nil))

	engine := isolation.New(pool, router, store, nil)
	env, err := engine.CreateEnvironment(context.Background(), "tmpl-1", time.Hour, "owner-1", "")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, platformdb.EnvReady, env.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEnvironmentUnknownTemplate(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)
	store := newTestStore(t)

	engine := isolation.New(pool, router, store, nil)
	_, err = engine.CreateEnvironment(context.Background(), "does-not-exist", time.Hour, "owner", "")
	require.Error(t, err)
}

func TestCreateEnvironmentRollsBackNamespaceOnSeedFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)
	store := newTestStore(t)

	structural, seed := templateJSON(t)
	require.NoError(t, store.CreateTemplate(&platformdb.Template{
		ID:                   "tmpl-2",
		StructuralDefinition: structural,
		SeedBundle:           seed,
	}))

	mock.ExpectExec(`CREATE SCHEMA`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO`).WillReturnError(assertErr{"duplicate key"})
	mock.ExpectExec(`DROP SCHEMA IF EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))

	engine := isolation.New(pool, router, store, nil)
	_, err = engine.CreateEnvironment(context.Background(), "tmpl-2", time.Hour, "owner", "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEnvironmentIdempotentOnUnknownID(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	pool := &dbstore.Pool{DB: sqlDB, Dialect: dbstore.Postgres}
	router := dbstore.NewRouter(pool)
	store := newTestStore(t)

	engine := isolation.New(pool, router, store, nil)
	require.NoError(t, engine.DeleteEnvironment(context.Background(), "nope"))
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
