package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// Mode selects how a query is answered
type Mode string

const (
	ModeAuto     Mode = ""         // Semantic when the model is available, keyword otherwise
	ModeSemantic Mode = "semantic" // Vector similarity only
	ModeFTS      Mode = "fts"      // Full-text keyword search only
	ModeKeyword  Mode = "keyword"  // Alias of ModeFTS
)

// Result limits
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrInvalidMode is returned for an unrecognized search mode
var ErrInvalidMode = errors.New("invalid search mode")

// ParseMode maps user input onto a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto, "auto":
		return ModeAuto, nil
	case ModeSemantic:
		return ModeSemantic, nil
	case ModeFTS, ModeKeyword:
		return ModeFTS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Request contains parameters for a search operation
type Request struct {
	Query string
	Mode  Mode
	Limit int
}

// Response contains search results and metadata
type Response struct {
	Results  []*types.Book `json:"results"`
	Mode     Mode          `json:"mode"`
	FellBack bool          `json:"fell_back"`
	CacheHit bool          `json:"-"`
	Duration time.Duration `json:"-"`
}

// Options tunes the result cache
type Options struct {
	DefaultLimit int
	CacheSize    int
	CacheTTL     time.Duration // zero disables caching
}

// cacheEntry represents a cached search response with expiration time and
// the store generation it was read at
type cacheEntry struct {
	response   *Response
	expiresAt  time.Time
	generation int64
}

// Searcher answers read queries against the catalog. It never writes.
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	opts     Options
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
	now      func() time.Time
}

// NewSearcher creates a new Searcher. embedder may be nil, in which case
// only keyword search is available.
func NewSearcher(store storage.Storage, emb embedder.Embedder, opts Options) *Searcher {
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > MaxLimit {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  store,
		embedder: emb,
		opts:     opts,
		cache:    cache,
		now:      time.Now,
	}
}

// Search runs a semantic or keyword query. An empty query yields no
// results. An explicit semantic query while the model is unavailable also
// yields no results; an unpinned one falls back to keyword search and
// reports FellBack.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := s.now()

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode
	req.Query = strings.TrimSpace(req.Query)
	if req.Limit <= 0 {
		req.Limit = s.opts.DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Query == "" {
		resolved := req.Mode
		if resolved == ModeAuto {
			resolved = ModeFTS
		}
		return &Response{Results: []*types.Book{}, Mode: resolved}, nil
	}

	available := s.modelAvailable()
	resp := &Response{Mode: req.Mode}
	if req.Mode == ModeAuto {
		if available {
			resp.Mode = ModeSemantic
		} else {
			resp.Mode = ModeFTS
			resp.FellBack = true
			logger.Debug("embedding model unavailable, falling back to keyword search")
		}
	}

	if resp.Mode == ModeSemantic && !available {
		resp.Results = []*types.Book{}
		return resp, nil
	}

	gen, err := s.storage.Generation(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(req.Query, resp.Mode, req.Limit)
	if cached := s.checkCache(key, gen); cached != nil {
		cached.FellBack = resp.FellBack
		cached.CacheHit = true
		cached.Duration = s.now().Sub(start)
		return cached, nil
	}

	switch resp.Mode {
	case ModeSemantic:
		resp.Results, err = s.semanticSearch(ctx, req.Query, req.Limit)
		if embedder.IsUnavailable(err) {
			// the files are present but the model would not load
			if req.Mode != ModeAuto {
				resp.Results = []*types.Book{}
				return resp, nil
			}
			logger.Debug("embedding model failed to load, falling back to keyword search: %v", err)
			resp.Mode = ModeFTS
			resp.FellBack = true
			key = cacheKey(req.Query, resp.Mode, req.Limit)
			resp.Results, err = s.keywordSearch(ctx, req.Query, req.Limit)
		}
	default:
		resp.Results, err = s.keywordSearch(ctx, req.Query, req.Limit)
	}
	if err != nil {
		return nil, err
	}

	resp.Duration = s.now().Sub(start)
	s.storeInCache(key, gen, resp)
	return resp, nil
}

func (s *Searcher) modelAvailable() bool {
	return s.embedder != nil && s.embedder.Status().Available
}

// semanticSearch embeds the query and returns the nearest books in
// ascending distance order
func (s *Searcher) semanticSearch(ctx context.Context, query string, limit int) ([]*types.Book, error) {
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	neighbors, err := s.storage.Nearest(ctx, emb.Vector, limit, s.embedder.Model(), embedder.RecipeVersion)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.RecordID
	}
	books, err := s.storage.GetBooks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*types.Book, 0, len(neighbors))
	for _, n := range neighbors {
		book, ok := books[n.RecordID]
		if !ok {
			continue
		}
		distance := n.Distance
		score := Score(distance)
		book.Distance = &distance
		book.Score = &score
		results = append(results, book)
	}
	return results, nil
}

// keywordSearch returns full-text matches in descending rank order
func (s *Searcher) keywordSearch(ctx context.Context, query string, limit int) ([]*types.Book, error) {
	hits, err := s.storage.KeywordSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.RecordID
	}
	books, err := s.storage.GetBooks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*types.Book, 0, len(hits))
	for _, h := range hits {
		book, ok := books[h.RecordID]
		if !ok {
			continue
		}
		rank := h.Rank
		book.Rank = &rank
		results = append(results, book)
	}
	return results, nil
}

// Score maps a cosine distance in [0, 2] onto a 0-100 display score
func Score(distance float64) int {
	distance = math.Max(0, math.Min(2, distance))
	return int(math.Round((2 - distance) * 50))
}

// Browse pages through the catalog with structured filters
func (s *Searcher) Browse(ctx context.Context, req storage.BrowseRequest) (*storage.Page, error) {
	return s.storage.Query(ctx, req)
}

// Subjects lists every distinct subject
func (s *Searcher) Subjects(ctx context.Context) ([]string, error) {
	return s.storage.Subjects(ctx)
}

// Book returns one hydrated book
func (s *Searcher) Book(ctx context.Context, id string) (*types.Book, error) {
	return s.storage.GetBook(ctx, strings.TrimSpace(id))
}

// checkCache returns a copy of a live cached response, or nil. Entries read
// at an older store generation are stale even before they expire.
func (s *Searcher) checkCache(key [32]byte, generation int64) *Response {
	if s.opts.CacheTTL <= 0 {
		return nil
	}

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if s.now().After(entry.expiresAt) || entry.generation != generation {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

func (s *Searcher) storeInCache(key [32]byte, generation int64, response *Response) {
	if s.opts.CacheTTL <= 0 {
		return
	}
	entry := &cacheEntry{
		response:   copyResponse(response),
		expiresAt:  s.now().Add(s.opts.CacheTTL),
		generation: generation,
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Writes made anywhere already
// retire affected entries through the store generation; this frees memory.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copyResponse deep-copies the result books so cached entries cannot be
// mutated through a returned response
func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = make([]*types.Book, len(src.Results))
	for i, book := range src.Results {
		dst.Results[i] = copyBook(book)
	}
	return &dst
}

func copyBook(src *types.Book) *types.Book {
	b := *src
	b.Authors = slices.Clone(src.Authors)
	if src.PercentRead != nil {
		v := *src.PercentRead
		b.PercentRead = &v
	}
	if src.Distance != nil {
		v := *src.Distance
		b.Distance = &v
	}
	if src.Rank != nil {
		v := *src.Rank
		b.Rank = &v
	}
	if src.Score != nil {
		v := *src.Score
		b.Score = &v
	}
	if src.Enrichment != nil {
		e := *src.Enrichment
		e.Subjects = slices.Clone(src.Enrichment.Subjects)
		if src.Enrichment.PublishYear != nil {
			y := *src.Enrichment.PublishYear
			e.PublishYear = &y
		}
		b.Enrichment = &e
	}
	return &b
}

func cacheKey(query string, mode Mode, limit int) [32]byte {
	return sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", strings.ToLower(query), mode, limit))
}
