// Package apptest provides fake upstream services and fixtures for tests
// that exercise a fully wired App.
package apptest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/bookshelf-mcp/internal/config"
	"github.com/dshills/bookshelf-mcp/internal/embedder"
)

// Work is a catalog entry served by Upstream
type Work struct {
	Key         string
	Title       string
	Authors     []string
	Subjects    []string
	Description string
	Year        int
}

// Upstream fakes Open Library and the model file host on one server.
// Model files live under /model/.
type Upstream struct {
	*httptest.Server
	Works []Work
	Model map[string]string
}

// ModelFiles is a minimal installable embedding model, keyed by path under
// the model base URL. Its graph only runs on Runtime.
var ModelFiles = map[string]string{
	"config.json":     `{"model_type": "bert", "hidden_size": 32}`,
	"onnx/model.onnx": "bag-of-tokens",
	"vocab.txt":       "[PAD]\n[UNK]\n[CLS]\n[SEP]\nthe\nof\ndune\ndesert\nplanet\nspice\nfoundation\nempire\ngalactic\nfalls\nscience\nfiction\nby\nfrank\nherbert\nisaac\nasimov\n.\n,\n:\n",
}

// Runtime executes ModelFiles' graph: each token's hidden state is a
// one-hot vector at its id modulo the hidden size, so pooled vectors are
// bags of tokens and texts sharing words score closer
var Runtime embedder.RuntimeFactory = func(_ string, hidden int) (embedder.Runtime, error) {
	return bagOfTokens{hidden: hidden}, nil
}

type bagOfTokens struct {
	hidden int
}

func (b bagOfTokens) Run(ids, _, _ []int64, batch, seqLen int) ([]float32, error) {
	states := make([]float32, batch*seqLen*b.hidden)
	for i, id := range ids {
		states[i*b.hidden+int(id)%b.hidden] = 1
	}
	return states, nil
}

func (bagOfTokens) Close() error { return nil }

// NewUpstream starts a fake upstream serving works
func NewUpstream(t *testing.T, works ...Work) *Upstream {
	t.Helper()
	u := &Upstream{Works: works, Model: ModelFiles}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/model/"):
		body, ok := u.Model[strings.TrimPrefix(r.URL.Path, "/model/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))

	case r.URL.Path == "/search.json":
		title := strings.ToLower(r.URL.Query().Get("title"))
		docs := []map[string]any{}
		for _, work := range u.Works {
			if strings.ToLower(work.Title) == title {
				docs = append(docs, map[string]any{
					"key":                work.Key,
					"title":              work.Title,
					"author_name":        work.Authors,
					"subject":            work.Subjects,
					"first_publish_year": work.Year,
				})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"numFound": len(docs), "docs": docs})

	default:
		for _, work := range u.Works {
			if r.URL.Path == work.Key+".json" {
				_ = json.NewEncoder(w).Encode(map[string]any{"description": work.Description})
				return
			}
		}
		http.NotFound(w, r)
	}
}

// Config returns settings that keep every file under dir and every
// network call on the upstream
func (u *Upstream) Config(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "library.db")
	cfg.ModelDir = filepath.Join(dir, "model")
	cfg.Enricher.BaseURL = u.URL
	cfg.Enricher.RequestsPerSecond = 1000
	cfg.Enricher.Timeout = config.Duration(5 * time.Second)
	cfg.Embedder.ModelBaseURL = u.URL + "/model"
	cfg.Embedder.DownloadTimeout = config.Duration(5 * time.Second)
	cfg.Search.CacheTTL = config.Duration(time.Minute)
	return cfg
}

// Book is one entry in a generated library page
type Book struct {
	ID       string
	Title    string
	Authors  []string
	CoverURL string
}

// WriteLibraryPage writes a saved library page listing books and returns
// its path
func WriteLibraryPage(t *testing.T, dir string, books ...Book) string {
	t.Helper()

	type item struct {
		ASIN       string   `json:"asin"`
		Title      string   `json:"title"`
		Authors    []string `json:"authors"`
		ProductURL string   `json:"productUrl,omitempty"`
	}
	items := make([]item, len(books))
	for i, b := range books {
		items[i] = item{ASIN: b.ID, Title: b.Title, Authors: b.Authors, ProductURL: b.CoverURL}
	}
	payload, err := json.Marshal(map[string]any{"itemsList": items})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html><html><head><title>Your Library</title></head><body>\n")
	fmt.Fprintf(&page, "<script id=\"itemViewResponse\" type=\"application/json\">%s</script>\n", payload)
	for _, b := range books {
		fmt.Fprintf(&page, "<div id=\"title-%s\"><p>%s</p></div>\n", b.ID, html.EscapeString(b.Title))
	}
	page.WriteString("</body></html>")

	path := filepath.Join(dir, "library.html")
	if err := os.WriteFile(path, []byte(page.String()), 0o644); err != nil {
		t.Fatalf("write library page: %v", err)
	}
	return path
}
