package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"medipos/m/internal/database"
)

// Run creates the document table every SQL backend stores collections in.
func Run(db *sqlx.DB, backend string) error {
	var schema []string
	switch backend {
	case database.MySQL:
		schema = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				collection VARCHAR(64) NOT NULL,
				id VARCHAR(64) NOT NULL,
				body LONGTEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
				PRIMARY KEY (collection, id)
			);`,
		}
	case database.Postgres:
		schema = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				collection VARCHAR(64) NOT NULL,
				id VARCHAR(64) NOT NULL,
				body TEXT NOT NULL,
				updated_at TIMESTAMPTZ DEFAULT NOW(),
				PRIMARY KEY (collection, id)
			);`,
		}
	case database.SQLite:
		schema = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				body TEXT NOT NULL,
				updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (collection, id)
			);`,
		}
	default:
		return fmt.Errorf("no migrations for backend %q", backend)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
