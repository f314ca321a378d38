package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when saving enrichment over an existing one
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidVector is returned for empty or mis-sized vectors
	ErrInvalidVector = errors.New("invalid vector")
)

// defaultPageSize bounds the work-queue pages when the caller gives none
const defaultPageSize = 200

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from a single writer. One connection also keeps
	// :memory: databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens the database at dbPath and applies pending migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Generation returns a counter that grows with every committed change to
// records, enrichments or embeddings, whichever process made it
func (s *SQLiteStorage) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_generation WHERE id = 1").Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("failed to read store generation: %w", err)
	}
	return gen, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, committing only if fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Record operations

func (s *SQLiteStorage) UpsertRecords(ctx context.Context, candidates []types.Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(q querier) error {
		query := `
			INSERT INTO records (id, title, authors, resource_type, origin_type, percent_read, cover_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`
		now := s.now().Unix()
		for i := range candidates {
			c := candidates[i]
			c.Normalize()
			if err := c.Validate(); err != nil {
				return fmt.Errorf("candidate %d: %w", i, err)
			}

			authors, err := encodeList(c.Authors)
			if err != nil {
				return err
			}

			result, err := q.ExecContext(ctx, query,
				c.ID, c.Title, authors, c.ResourceType, c.OriginType, nullInt(c.PercentRead), nullString(c.CoverURL), now)
			if err != nil {
				return fmt.Errorf("failed to insert record %s: %w", c.ID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// bookSelect hydrates a record with its enrichment and embedding presence
const bookSelect = `
	SELECT r.id, r.title, r.authors, r.resource_type, r.origin_type, r.percent_read, r.cover_url, r.created_at,
	       e.record_id IS NOT NULL, e.catalog_key, e.description, e.subjects, e.isbn,
	       e.publish_year, e.enriched_at,
	       v.record_id IS NOT NULL
	FROM records r
	LEFT JOIN enrichments e ON e.record_id = r.id
	LEFT JOIN embeddings v ON v.record_id = r.id
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (*types.Book, error) {
	var (
		book                          types.Book
		authors                       string
		percentRead                   sql.NullInt64
		coverURL                      sql.NullString
		createdAt                     int64
		enriched, embedded            bool
		catalogKey, description, isbn sql.NullString
		subjects                      sql.NullString
		publishYear, enrichedAt       sql.NullInt64
	)

	err := row.Scan(
		&book.ID, &book.Title, &authors, &book.ResourceType, &book.OriginType, &percentRead, &coverURL, &createdAt,
		&enriched, &catalogKey, &description, &subjects, &isbn,
		&publishYear, &enrichedAt,
		&embedded,
	)
	if err != nil {
		return nil, err
	}

	if book.Authors, err = decodeList(authors); err != nil {
		return nil, fmt.Errorf("record %s authors: %w", book.ID, err)
	}
	if percentRead.Valid {
		v := int(percentRead.Int64)
		book.PercentRead = &v
	}
	book.CoverURL = coverURL.String
	book.CreatedAt = time.Unix(createdAt, 0).UTC()
	book.Embedded = embedded

	if enriched {
		e := &types.Enrichment{
			CatalogKey:  catalogKey.String,
			Description: description.String,
			ISBN:        isbn.String,
			EnrichedAt:  time.Unix(enrichedAt.Int64, 0).UTC(),
		}
		if e.Subjects, err = decodeList(subjects.String); err != nil {
			return nil, fmt.Errorf("record %s subjects: %w", book.ID, err)
		}
		if publishYear.Valid {
			y := int(publishYear.Int64)
			e.PublishYear = &y
		}
		book.Enrichment = e
	}

	return &book, nil
}

func (s *SQLiteStorage) GetBook(ctx context.Context, id string) (*types.Book, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx, bookSelect+" WHERE r.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetBooks hydrates the given ids. Unknown ids are absent from the map.
func (s *SQLiteStorage) GetBooks(ctx context.Context, ids []string) (map[string]*types.Book, error) {
	books := make(map[string]*types.Book, len(ids))
	for _, batch := range chunkStrings(ids, 500) {
		query := bookSelect + " WHERE r.id IN (" + placeholders(len(batch)) + ")"
		if err := s.collectBooks(ctx, query, stringArgs(batch), func(b *types.Book) {
			books[b.ID] = b
		}); err != nil {
			return nil, err
		}
	}
	return books, nil
}

func (s *SQLiteStorage) collectBooks(ctx context.Context, query string, args []interface{}, fn func(*types.Book)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return err
		}
		fn(book)
	}
	return rows.Err()
}

// Work queues

// missingEnrichmentWhere selects records without enrichment whose last miss,
// if any, is older than the cutoff
const missingEnrichmentWhere = `
	e.record_id IS NULL
	AND NOT EXISTS (
		SELECT 1 FROM enrichment_misses m
		WHERE m.record_id = r.id AND m.last_attempt_at >= ?
	)
`

// missingEmbeddingWhere selects records with no vector or a stale one
const missingEmbeddingWhere = `
	(v.record_id IS NULL OR v.model <> ? OR v.recipe <> ?)
`

func (s *SQLiteStorage) missCutoff(opts MissingOptions) int64 {
	if opts.RetryNotFoundAfter <= 0 {
		// every miss is old enough
		return s.now().Unix() + 1
	}
	return s.now().Add(-opts.RetryNotFoundAfter).Unix()
}

func (s *SQLiteStorage) MissingEnrichment(ctx context.Context, opts MissingOptions) iter.Seq2[*types.Book, error] {
	cutoff := s.missCutoff(opts)
	return s.pagedBooks(ctx, opts.PageSize, missingEnrichmentWhere, cutoff)
}

func (s *SQLiteStorage) CountMissingEnrichment(ctx context.Context, opts MissingOptions) (int, error) {
	return s.countBooks(ctx, missingEnrichmentWhere, s.missCutoff(opts))
}

func (s *SQLiteStorage) MissingEmbedding(ctx context.Context, opts MissingOptions) iter.Seq2[*types.Book, error] {
	return s.pagedBooks(ctx, opts.PageSize, missingEmbeddingWhere, opts.Model, opts.Recipe)
}

func (s *SQLiteStorage) CountMissingEmbedding(ctx context.Context, opts MissingOptions) (int, error) {
	return s.countBooks(ctx, missingEmbeddingWhere, opts.Model, opts.Recipe)
}

func (s *SQLiteStorage) countBooks(ctx context.Context, where string, args ...interface{}) (int, error) {
	query := `
		SELECT COUNT(*) FROM records r
		LEFT JOIN enrichments e ON e.record_id = r.id
		LEFT JOIN embeddings v ON v.record_id = r.id
		WHERE ` + where
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// pagedBooks yields matching records in id order, one page at a time. Each
// page is read fully before yielding so the consumer may write between
// items. Paging resumes after the last yielded id, so rows that stop
// matching mid-walk are not revisited.
func (s *SQLiteStorage) pagedBooks(ctx context.Context, pageSize int, where string, args ...interface{}) iter.Seq2[*types.Book, error] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	query := bookSelect + " WHERE " + where + " AND r.id > ? ORDER BY r.id LIMIT ?"

	return func(yield func(*types.Book, error) bool) {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page := make([]*types.Book, 0, pageSize)
			pageArgs := append(append([]interface{}{}, args...), after, pageSize)
			if err := s.collectBooks(ctx, query, pageArgs, func(b *types.Book) {
				page = append(page, b)
			}); err != nil {
				yield(nil, err)
				return
			}

			for _, b := range page {
				if !yield(b, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// Enrichment operations

// SaveEnrichment stores enrichment for a record that has none. Existing
// enrichment is never overwritten; clear it first to re-enrich. The
// record's vector is dropped in the same transaction because its text
// changed, and any not-found marker is removed.
func (s *SQLiteStorage) SaveEnrichment(ctx context.Context, id string, enrichment *types.Enrichment) error {
	if enrichment == nil {
		return fmt.Errorf("nil enrichment for %s", id)
	}

	subjects, err := encodeList(enrichment.Subjects)
	if err != nil {
		return err
	}
	enrichedAt := enrichment.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = s.now()
	}

	return s.withTx(ctx, func(q querier) error {
		if err := recordExists(ctx, q, id); err != nil {
			return err
		}

		result, err := q.ExecContext(ctx, `
			INSERT INTO enrichments (record_id, catalog_key, description, subjects, isbn, publish_year, enriched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO NOTHING
		`, id, nullString(enrichment.CatalogKey), nullString(enrichment.Description), subjects,
			nullString(enrichment.ISBN), nullInt(enrichment.PublishYear), enrichedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to save enrichment for %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("enrichment for %s: %w", id, ErrAlreadyExists)
		}

		if _, err := q.ExecContext(ctx, "DELETE FROM embeddings WHERE record_id = ?", id); err != nil {
			return fmt.Errorf("failed to drop stale embedding for %s: %w", id, err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM enrichment_misses WHERE record_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear miss for %s: %w", id, err)
		}
		return nil
	})
}

// RecordEnrichmentMiss notes that the catalog service definitively had no match
func (s *SQLiteStorage) RecordEnrichmentMiss(ctx context.Context, id string) error {
	return s.withTx(ctx, func(q querier) error {
		if err := recordExists(ctx, q, id); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO enrichment_misses (record_id, attempts, last_attempt_at)
			VALUES (?, 1, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				attempts = attempts + 1,
				last_attempt_at = excluded.last_attempt_at
		`, id, s.now().Unix())
		if err != nil {
			return fmt.Errorf("failed to record miss for %s: %w", id, err)
		}
		return nil
	})
}

// ClearEnrichment removes enrichment, not-found markers and vectors for the
// given records, or for every record when ids is empty. It returns how many
// enrichments were removed.
func (s *SQLiteStorage) ClearEnrichment(ctx context.Context, ids []string) (int, error) {
	cleared := 0
	err := s.withTx(ctx, func(q querier) error {
		if len(ids) == 0 {
			for _, stmt := range []string{"DELETE FROM embeddings", "DELETE FROM enrichment_misses"} {
				if _, err := q.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			result, err := q.ExecContext(ctx, "DELETE FROM enrichments")
			if err != nil {
				return fmt.Errorf("failed to clear enrichments: %w", err)
			}
			n, _ := result.RowsAffected()
			cleared = int(n)
			return nil
		}

		for _, batch := range chunkStrings(ids, 500) {
			in := " WHERE record_id IN (" + placeholders(len(batch)) + ")"
			args := stringArgs(batch)
			for _, table := range []string{"embeddings", "enrichment_misses"} {
				if _, err := q.ExecContext(ctx, "DELETE FROM "+table+in, args...); err != nil {
					return err
				}
			}
			result, err := q.ExecContext(ctx, "DELETE FROM enrichments"+in, args...)
			if err != nil {
				return fmt.Errorf("failed to clear enrichments: %w", err)
			}
			n, _ := result.RowsAffected()
			cleared += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// Embedding operations

func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, embedding *Embedding) error {
	if embedding == nil || len(embedding.Vector) == 0 {
		return ErrInvalidVector
	}
	createdAt := embedding.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	return s.withTx(ctx, func(q querier) error {
		if err := recordExists(ctx, q, embedding.RecordID); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO embeddings (record_id, vector, dimension, model, recipe, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				vector = excluded.vector,
				dimension = excluded.dimension,
				model = excluded.model,
				recipe = excluded.recipe,
				created_at = excluded.created_at
		`, embedding.RecordID, serializeVector(embedding.Vector), len(embedding.Vector),
			embedding.Model, embedding.Recipe, createdAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to save embedding for %s: %w", embedding.RecordID, err)
		}
		return nil
	})
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, id string) (*Embedding, error) {
	var (
		emb       Embedding
		blob      []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, vector, dimension, model, recipe, created_at
		FROM embeddings WHERE record_id = ?
	`, id).Scan(&emb.RecordID, &blob, &emb.Dimension, &emb.Model, &emb.Recipe, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	emb.Vector = deserializeVector(blob)
	emb.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &emb, nil
}

// Status operations

func (s *SQLiteStorage) Stats(ctx context.Context) (*types.Stats, error) {
	var stats types.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM records),
			(SELECT COUNT(*) FROM enrichments),
			(SELECT COUNT(*) FROM embeddings),
			(SELECT COUNT(*) FROM enrichment_misses)
	`).Scan(&stats.TotalRecords, &stats.EnrichedCount, &stats.EmbeddedCount, &stats.NotFoundCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return &stats, nil
}

// Subjects lists every distinct subject, case-insensitively sorted
func (s *SQLiteStorage) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.value
		FROM enrichments e, json_each(e.subjects) s
		ORDER BY s.value COLLATE NOCASE, s.value
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subjects := make([]string, 0)
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// Helper functions

func recordExists(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM records WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return err
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for len(values) > size {
		chunks = append(chunks, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}
