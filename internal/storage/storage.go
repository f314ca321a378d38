package storage

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying the catalog
type Storage interface {
	// Record operations
	UpsertRecords(ctx context.Context, candidates []types.Candidate) (inserted int, err error)
	GetBook(ctx context.Context, id string) (*types.Book, error)
	GetBooks(ctx context.Context, ids []string) (map[string]*types.Book, error)

	// Work queues
	MissingEnrichment(ctx context.Context, opts MissingOptions) iter.Seq2[*types.Book, error]
	CountMissingEnrichment(ctx context.Context, opts MissingOptions) (int, error)
	MissingEmbedding(ctx context.Context, opts MissingOptions) iter.Seq2[*types.Book, error]
	CountMissingEmbedding(ctx context.Context, opts MissingOptions) (int, error)

	// Enrichment operations
	SaveEnrichment(ctx context.Context, id string, enrichment *types.Enrichment) error
	RecordEnrichmentMiss(ctx context.Context, id string) error
	ClearEnrichment(ctx context.Context, ids []string) (int, error)

	// Embedding operations
	SaveEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)

	// Query operations
	Query(ctx context.Context, req BrowseRequest) (*Page, error)
	Nearest(ctx context.Context, vector []float32, k int, model, recipe string) ([]Neighbor, error)
	KeywordSearch(ctx context.Context, text string, limit int) ([]KeywordHit, error)
	Subjects(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Export(ctx context.Context, w io.Writer, includeEnrichment bool) (int, error)

	// Database operations
	Generation(ctx context.Context) (int64, error)
	Close() error
}

// MissingOptions shapes the missing-enrichment and missing-embedding sequences
type MissingOptions struct {
	// PageSize bounds how many rows are held in memory at once
	PageSize int

	// RetryNotFoundAfter hides records whose last lookup found no match more
	// recently than this. Zero retries them on every pass.
	RetryNotFoundAfter time.Duration

	// Model and Recipe identify the current embedding generation. Vectors
	// produced by any other generation count as missing.
	Model  string
	Recipe string
}

// Embedding is a stored vector for one record
type Embedding struct {
	RecordID  string
	Vector    []float32
	Dimension int
	Model     string
	Recipe    string
	CreatedAt time.Time
}

// Filter is a single browse predicate
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Filter fields
const (
	FieldAll         = "all"
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldDescription = "description"
	FieldSubject     = "subject"
)

// Filter operators
const (
	OpContains = "contains"
	OpHas      = "has"
)

// Sort keys and directions
const (
	SortTitle  = "title"
	SortAuthor = "author"
	SortYear   = "year"
	SortAsc    = "asc"
	SortDesc   = "desc"
)

// Pagination limits
const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// BrowseRequest is a structured filter/sort/page query
type BrowseRequest struct {
	Filters []Filter `json:"filters"`
	SortBy  string   `json:"sort_by"`
	SortDir string   `json:"sort_dir"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
}

// Page is one page of browse results
type Page struct {
	Items      []*types.Book `json:"items"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
}

// Neighbor is a nearest-neighbor hit
type Neighbor struct {
	RecordID string
	Distance float64
}

// KeywordHit is a full-text hit; higher Rank is better
type KeywordHit struct {
	RecordID string
	Rank     float64
}
