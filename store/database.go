// database.go - SQLite-Datenbank fuer gespeicherte Evaluierungen
// Enthaelt: database struct, newDatabase, Close, Schema, Migrationen

package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion wird bei Schema-Aenderungen erhoeht, die Migrationen
// erfordern.
const currentSchemaVersion = 1

// database umhuellt die SQLite-Verbindung. SQLite serialisiert Schreiber
// selbst, im WAL-Modus blockieren Leser keine Schreiber.
type database struct {
	conn *sql.DB
}

func newDatabase(dbPath string) (*database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &database{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

func (db *database) Close() error {
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return db.conn.Close()
}

func (db *database) init() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	INSERT OR IGNORE INTO settings (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		program_key TEXT NOT NULL,
		config TEXT NOT NULL,
		backend TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		num_genomes INTEGER NOT NULL,
		num_weights INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		fitness BLOB NOT NULL,
		best_index INTEGER NOT NULL DEFAULT -1,
		best_fitness REAL NOT NULL DEFAULT 0,
		mean_fitness REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`, currentSchemaVersion)

	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}

	if err := db.migrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// migrate rejects databases written by a newer schema. Upgrades from older
// versions are added here as the schema changes.
func (db *database) migrate() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

func (db *database) getSchemaVersion() (int, error) {
	var version int
	if err := db.conn.QueryRow("SELECT schema_version FROM settings").Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
