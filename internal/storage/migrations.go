package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationV1Up = `
-- Catalog records, one per identifier
CREATE TABLE IF NOT EXISTS records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    authors TEXT NOT NULL DEFAULT '[]',
    resource_type TEXT NOT NULL DEFAULT 'EBOOK',
    origin_type TEXT NOT NULL DEFAULT 'PURCHASE',
    percent_read INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_title ON records(title COLLATE NOCASE);

-- Enrichment metadata, at most one per record
CREATE TABLE IF NOT EXISTS enrichments (
    record_id TEXT PRIMARY KEY,
    catalog_key TEXT,
    description TEXT,
    subjects TEXT NOT NULL DEFAULT '[]',
    isbn TEXT,
    publish_year INTEGER,
    enriched_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_enrichments_year ON enrichments(publish_year);

-- Definitive "no match" answers from the catalog service
CREATE TABLE IF NOT EXISTS enrichment_misses (
    record_id TEXT PRIMARY KEY,
    attempts INTEGER NOT NULL DEFAULT 1,
    last_attempt_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

-- Vectors, at most one per record
CREATE TABLE IF NOT EXISTS embeddings (
    record_id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    recipe TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

-- Keyword index derived from records and enrichments
CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
    title, authors, description, subjects,
    tokenize = 'unicode61 remove_diacritics 2'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
    INSERT INTO records_fts(rowid, title, authors, description, subjects)
    VALUES (
        new.seq,
        new.title,
        (SELECT COALESCE(group_concat(value, ' '), '') FROM json_each(new.authors)),
        '',
        ''
    );
END;

CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
    DELETE FROM records_fts WHERE rowid = old.seq;
END;

CREATE TRIGGER IF NOT EXISTS records_au AFTER UPDATE OF title, authors ON records BEGIN
    UPDATE records_fts SET
        title = new.title,
        authors = (SELECT COALESCE(group_concat(value, ' '), '') FROM json_each(new.authors))
    WHERE rowid = new.seq;
END;

CREATE TRIGGER IF NOT EXISTS enrichments_ai AFTER INSERT ON enrichments BEGIN
    UPDATE records_fts SET
        description = COALESCE(new.description, ''),
        subjects = (SELECT COALESCE(group_concat(value, ' '), '') FROM json_each(new.subjects))
    WHERE rowid = (SELECT seq FROM records WHERE id = new.record_id);
END;

CREATE TRIGGER IF NOT EXISTS enrichments_au AFTER UPDATE ON enrichments BEGIN
    UPDATE records_fts SET
        description = COALESCE(new.description, ''),
        subjects = (SELECT COALESCE(group_concat(value, ' '), '') FROM json_each(new.subjects))
    WHERE rowid = (SELECT seq FROM records WHERE id = new.record_id);
END;

CREATE TRIGGER IF NOT EXISTS enrichments_ad AFTER DELETE ON enrichments BEGIN
    UPDATE records_fts SET description = '', subjects = ''
    WHERE rowid = (SELECT seq FROM records WHERE id = old.record_id);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS enrichments_ad;
DROP TRIGGER IF EXISTS enrichments_au;
DROP TRIGGER IF EXISTS enrichments_ai;
DROP TRIGGER IF EXISTS records_au;
DROP TRIGGER IF EXISTS records_ad;
DROP TRIGGER IF EXISTS records_ai;

DROP TABLE IF EXISTS records_fts;
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS enrichment_misses;
DROP TABLE IF EXISTS enrichments;
DROP TABLE IF EXISTS records;
`

// 1.1.0 indexes the columns the work queues filter on
const migrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_embeddings_generation ON embeddings(model, recipe);
CREATE INDEX IF NOT EXISTS idx_misses_last_attempt ON enrichment_misses(last_attempt_at);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_misses_last_attempt;
DROP INDEX IF EXISTS idx_embeddings_generation;
`

// currentVersion returns the highest applied migration version
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	current := semver.MustParse("0.0.0")

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations. Each migration and its
// version record commit together, so a failed migration leaves the
// schema at the previous version.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
		current = migrationVersion
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
	}
	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion reports the applied schema version
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (string, error) {
	v, err := currentVersion(ctx, s.db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// 1.2.0 keeps cover images and counts every change that can alter a query
// result. Readers in any process compare the counter to tell whether
// cached answers are still current.
const migrationV12Up = `
ALTER TABLE records ADD COLUMN cover_url TEXT;

CREATE TABLE IF NOT EXISTS store_generation (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    value INTEGER NOT NULL
);
INSERT OR IGNORE INTO store_generation (id, value) VALUES (1, 0);

CREATE TRIGGER IF NOT EXISTS records_gen_ai AFTER INSERT ON records BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS records_gen_au AFTER UPDATE ON records BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS records_gen_ad AFTER DELETE ON records BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS enrichments_gen_ai AFTER INSERT ON enrichments BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS enrichments_gen_au AFTER UPDATE ON enrichments BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS enrichments_gen_ad AFTER DELETE ON enrichments BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS embeddings_gen_ai AFTER INSERT ON embeddings BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS embeddings_gen_au AFTER UPDATE ON embeddings BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
CREATE TRIGGER IF NOT EXISTS embeddings_gen_ad AFTER DELETE ON embeddings BEGIN
    UPDATE store_generation SET value = value + 1 WHERE id = 1;
END;
`

const migrationV12Down = `
DROP TRIGGER IF EXISTS embeddings_gen_ad;
DROP TRIGGER IF EXISTS embeddings_gen_au;
DROP TRIGGER IF EXISTS embeddings_gen_ai;
DROP TRIGGER IF EXISTS enrichments_gen_ad;
DROP TRIGGER IF EXISTS enrichments_gen_au;
DROP TRIGGER IF EXISTS enrichments_gen_ai;
DROP TRIGGER IF EXISTS records_gen_ad;
DROP TRIGGER IF EXISTS records_gen_au;
DROP TRIGGER IF EXISTS records_gen_ai;
DROP TABLE IF EXISTS store_generation;
ALTER TABLE records DROP COLUMN cover_url;
`
