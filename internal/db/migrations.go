package db

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migrations is an ordered list of SQL statements to run. {{id}} is replaced
// by the driver's auto-increment primary key definition.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id           {{id}},
		source       TEXT      NOT NULL,
		mutation_id  TEXT      NOT NULL,
		address      TEXT      NOT NULL DEFAULT '',
		city         TEXT      NOT NULL DEFAULT '',
		postal_code  TEXT      NOT NULL DEFAULT '',
		commune_code TEXT      NOT NULL DEFAULT '',
		price        BIGINT    CHECK (price IS NULL OR price >= 0),
		sale_date    TIMESTAMP NOT NULL,
		surface      DOUBLE PRECISION,
		rooms        INTEGER,
		type         TEXT      NOT NULL DEFAULT '',
		longitude    DOUBLE PRECISION,
		latitude     DOUBLE PRECISION,
		fetched_at   TIMESTAMP NOT NULL,
		enriched_at  TIMESTAMP,
		UNIQUE (source, mutation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id                 {{id}},
		uuid               TEXT      NOT NULL UNIQUE,
		dedup_key          TEXT      NOT NULL UNIQUE,
		transaction_id     BIGINT    REFERENCES transactions(id) ON DELETE SET NULL,
		address            TEXT      NOT NULL,
		city               TEXT      NOT NULL DEFAULT '',
		postal_code        TEXT      NOT NULL DEFAULT '',
		commune_code       TEXT      NOT NULL DEFAULT '',
		address_key        TEXT      NOT NULL DEFAULT '',
		address_confidence DOUBLE PRECISION,
		type               TEXT      NOT NULL DEFAULT '',
		rooms              INTEGER,
		surface            DOUBLE PRECISION,
		price              BIGINT    CHECK (price IS NULL OR price >= 0),
		sale_date          TIMESTAMP NOT NULL,
		estimated_price    BIGINT    CHECK (estimated_price IS NULL OR estimated_price >= 0),
		price_per_sqm      DOUBLE PRECISION,
		reference_level    TEXT      NOT NULL DEFAULT '',
		dpe_energy_class   TEXT      NOT NULL DEFAULT '',
		dpe_ges_class      TEXT      NOT NULL DEFAULT '',
		dpe_energy_value   DOUBLE PRECISION,
		dpe_ges_value      DOUBLE PRECISION,
		dpe_date           TIMESTAMP,
		latitude           DOUBLE PRECISION,
		longitude          DOUBLE PRECISION,
		enriched_at        TIMESTAMP NOT NULL,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_commune ON properties (commune_code)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_enriched_at ON properties (enriched_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_transaction ON properties (transaction_id)`,
	`CREATE TABLE IF NOT EXISTS reference_prices (
		id            {{id}},
		level         TEXT      NOT NULL CHECK (level IN ('street', 'commune', 'department')),
		area          TEXT      NOT NULL,
		property_type TEXT      NOT NULL,
		price_per_sqm DOUBLE PRECISION NOT NULL CHECK (price_per_sqm > 0),
		source        TEXT      NOT NULL DEFAULT '',
		fetched_at    TIMESTAMP NOT NULL,
		UNIQUE (level, area, property_type)
	)`,
	`CREATE TABLE IF NOT EXISTS report_history (
		id             {{id}},
		customer_id    TEXT      NOT NULL,
		email          TEXT      NOT NULL,
		subject        TEXT      NOT NULL DEFAULT '',
		property_count INTEGER   NOT NULL DEFAULT 0,
		sent_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_report_history_customer ON report_history (customer_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS sent_properties (
		customer_id   TEXT      NOT NULL,
		property_uuid TEXT      NOT NULL,
		sent_at       TIMESTAMP NOT NULL,
		PRIMARY KEY (customer_id, property_uuid)
	)`,
}

// idColumn returns the auto-increment primary key definition for a driver.
func idColumn(driver string) string {
	if driver == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// migrate runs all migrations in order.
func migrate(db *sqlx.DB) error {
	id := idColumn(db.DriverName())
	for i, m := range migrations {
		if _, err := db.Exec(strings.ReplaceAll(m, "{{id}}", id)); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	// Column additions (idempotent, checks if column exists first)
	columnMigrations := []struct {
		table, column, definition string
	}{
		{"transactions", "skip_reason", "TEXT NOT NULL DEFAULT ''"},
		{"report_history", "test", "INTEGER NOT NULL DEFAULT 0"},
	}

	for _, cm := range columnMigrations {
		if err := addColumnIfNotExists(db, cm.table, cm.column, cm.definition); err != nil {
			return fmt.Errorf("adding %s.%s: %w", cm.table, cm.column, err)
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(db *sqlx.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

func columnExists(db *sqlx.DB, table, column string) (bool, error) {
	if db.DriverName() == Postgres {
		var n int
		err := db.Get(&n, `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`, table, column)
		if err != nil {
			return false, fmt.Errorf("checking table info: %w", err)
		}
		return n > 0, nil
	}

	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("checking table info: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			slog.Warn("closing rows", "table", table, "err", cerr)
		}
	}()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scanning column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterating columns: %w", err)
	}
	return false, nil
}
