package database

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported SQL backends.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	MySQL    = "mysql"
)

var driverNames = map[string]string{
	Postgres: "pgx",
	SQLite:   "sqlite",
	MySQL:    "mysql",
}

func init() {
	// sqlx does not know the modernc driver name; it takes ? placeholders.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// IsSQL reports whether backend is served by Connect.
func IsSQL(backend string) bool {
	_, ok := driverNames[backend]
	return ok
}

// Connect opens the SQL database for backend using the provided DSN.
func Connect(backend, dsn string) (*sqlx.DB, error) {
	driver, ok := driverNames[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", backend, err)
	}
	if backend == SQLite {
		// one connection serializes writers, which SQLite needs anyway
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
		return db, nil
	}
	db.SetMaxOpenConns(10)
	return db, nil
}
