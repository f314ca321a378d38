package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/retry"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	// ErrNotFound means the catalog has no acceptable match
	ErrNotFound = errors.New("no catalog match")
	// ErrTransient means the catalog could not be reached reliably
	ErrTransient = errors.New("transient catalog failure")
	// ErrRequest means the catalog rejected the request
	ErrRequest = errors.New("catalog request rejected")
)

const (
	searchLimit  = 5
	searchFields = "key,title,author_name,subject,isbn,first_publish_year,publish_date"
	maxBodyBytes = 4 << 20
)

// Config configures the Open Library client
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration // per request
	RequestsPerSecond float64       // zero or less disables limiting
	MatchThreshold    float64
	Retry             retry.Config
}

// DefaultConfig returns settings suitable for the public Open Library API
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://openlibrary.org",
		UserAgent:         "bookshelf-mcp/1.0 (personal library indexer)",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 4,
		MatchThreshold:    0.6,
		Retry:             retry.Default(),
	}
}

// Client performs rate-limited lookups against Open Library
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a client. A nil httpClient uses a default one.
func New(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Client{
		config:  config,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Lookup finds enrichment for a title and its authors
func (c *Client) Lookup(ctx context.Context, title string, authors []string) (*types.Enrichment, error) {
	query := NormalizeTitle(title)
	if query == "" {
		return nil, ErrNotFound
	}

	var best *searchDoc
	if author := firstAuthor(authors); author != "" {
		docs, err := c.search(ctx, query, author)
		if err != nil {
			return nil, err
		}
		best = pickBest(docs, title, authors, c.config.MatchThreshold)
	}
	if best == nil {
		docs, err := c.search(ctx, query, "")
		if err != nil {
			return nil, err
		}
		best = pickBest(docs, title, authors, c.config.MatchThreshold)
	}
	if best == nil {
		return nil, ErrNotFound
	}

	description, err := c.description(ctx, best.Key)
	if err != nil {
		return nil, err
	}

	enrichment := buildEnrichment(best, description)
	enrichment.EnrichedAt = c.now().UTC()
	return enrichment, nil
}

func firstAuthor(authors []string) string {
	for _, a := range authors {
		if a = NormalizeAuthor(a); a != "" {
			return a
		}
	}
	return ""
}

func (c *Client) search(ctx context.Context, title, author string) ([]searchDoc, error) {
	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", strconv.Itoa(searchLimit))
	params.Set("fields", searchFields)

	var resp searchResponse
	if err := c.getJSON(ctx, c.config.BaseURL+"/search.json?"+params.Encode(), &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Docs, nil
}

// description fetches a work's description. A missing work has none.
func (c *Client) description(ctx context.Context, workKey string) (string, error) {
	if !strings.HasPrefix(workKey, "/") {
		return "", nil
	}

	var work workResponse
	err := c.getJSON(ctx, c.config.BaseURL+workKey+".json", &work)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(work.Description)), nil
}

// getJSON fetches and decodes u with rate limiting and retries
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	_, err := retry.Do(ctx, c.config.Retry, func(ctx context.Context) (struct{}, error) {
		err := c.fetch(ctx, u, out)
		if err != nil && errors.Is(err, ErrTransient) {
			logger.Debug("catalog request %s: %v", u, err)
		}
		return struct{}{}, err
	})
	return err
}

// fetch performs one attempt, classifying failures for retry.Do
func (c *Client) fetch(ctx context.Context, u string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrRequest, err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return classifyTransportError(err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", ErrTransient, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("%w: rate limited", ErrTransient)
		return retry.After(err, retryAfter(resp.Header.Get("Retry-After"), c.now()))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode))
	}
}

// classifyTransportError treats every transport failure as transient. A
// cancelled parent context is still reported as such by retry.Do.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
