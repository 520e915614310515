package platformdb

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open establishes a GORM connection to the platform metadata database for
// dbType ("postgres" or "mysql"). This is a separate logical connection
// from dbstore.Pool's raw *sql.DB: GORM owns the platform-metadata CRUD
// surface, while dbstore owns namespace-scoped raw SQL.
func Open(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (want postgres or mysql)", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open platform database: %w", err)
	}
	return db, nil
}
