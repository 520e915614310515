// Package dbstore implements the Schema Reflector and Session Router: the
// two components that let the rest of the system talk to namespace-scoped
// tables in the relational Store without hard-coding table names or caring
// which dialect (postgres/mysql) backs a given deployment.
package dbstore

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Dialect distinguishes the two supported Store backends. The snapshot/diff
// SQL and namespace-binding strategy differ enough between them that nearly
// every query in this package switches on it.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Pool wraps a single shared *sql.DB and the dialect it speaks. Namespace
// binding is per-session (see session.go); the pool itself holds no
// namespace-scoped state.
type Pool struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open establishes the shared connection pool for dbType ("postgres" or
// "mysql") against dsn.
func Open(dbType, dsn string) (*Pool, error) {
	var dialect Dialect
	var driver string
	switch dbType {
	case "postgres", "":
		dialect = Postgres
		driver = "postgres"
	case "mysql":
		dialect = MySQL
		driver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported database type %q (want postgres or mysql)", dbType)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbType, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s database: %w", dbType, err)
	}

	return &Pool{DB: db, Dialect: dialect}, nil
}

// Close closes the underlying connection pool.
func (p *Pool) Close() error {
	return p.DB.Close()
}

// QuoteIdent quotes an identifier (table/column/schema name) for the pool's
// dialect.
func (p *Pool) QuoteIdent(name string) string {
	switch p.Dialect {
	case MySQL:
		return "`" + name + "`"
	default:
		return `"` + name + `"`
	}
}
