// Package app wires configuration into the storage, enrichment, embedding,
// search and sync components shared by the CLI and the MCP server.
package app

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dshills/bookshelf-mcp/internal/config"
	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/enricher"
	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/pipeline"
	"github.com/dshills/bookshelf-mcp/internal/retry"
	"github.com/dshills/bookshelf-mcp/internal/searcher"
	"github.com/dshills/bookshelf-mcp/internal/source"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// App holds one open library and the components that operate on it
type App struct {
	Config     *config.Config
	Store      *storage.SQLiteStorage
	Embedder   *embedder.LocalProvider
	Enricher   *enricher.Client
	Searcher   *searcher.Searcher
	Pipeline   *pipeline.Pipeline
	Downloader *embedder.Downloader
}

// Option customizes New
type Option func(*options)

type options struct {
	runtime embedder.RuntimeFactory
}

// WithRuntime runs the embedding model on f instead of ONNX Runtime
func WithRuntime(f embedder.RuntimeFactory) Option {
	return func(o *options) { o.runtime = f }
}

// New opens the database named by cfg and builds every component. A nil
// httpClient uses a default one for catalog lookups and model downloads.
func New(cfg *config.Config, httpClient *http.Client, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var lease pipeline.Lease = &pipeline.MemoryLease{}
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		lease = pipeline.NewFileLease(cfg.DBPath + ".sync.lock")
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embCfg := embedder.Config{
		ModelDir:       cfg.ModelDir,
		CacheSize:      cfg.Embedder.CacheSize,
		RuntimeLibrary: cfg.Embedder.RuntimeLibrary,
	}
	var embOpts []embedder.Option
	if o.runtime != nil {
		embOpts = append(embOpts, embedder.WithRuntime(o.runtime))
	}
	emb := embedder.New(embCfg, embOpts...)

	retryCfg := retry.Default()
	retryCfg.MaxAttempts = cfg.Enricher.MaxRetries
	catalog := enricher.New(enricher.Config{
		BaseURL:           cfg.Enricher.BaseURL,
		UserAgent:         cfg.Enricher.UserAgent,
		Timeout:           cfg.Enricher.Timeout.Std(),
		RequestsPerSecond: cfg.Enricher.RequestsPerSecond,
		MatchThreshold:    cfg.Enricher.MatchThreshold,
		Retry:             retryCfg,
	}, httpClient)

	downloader := embedder.NewDownloader(embedder.DownloadConfig{
		BaseURL: cfg.Embedder.ModelBaseURL,
		Dir:     cfg.ModelDir,
		Timeout: cfg.Embedder.DownloadTimeout.Std(),
	}, httpClient)

	return &App{
		Config:   cfg,
		Store:    store,
		Embedder: emb,
		Enricher: catalog,
		Searcher: searcher.NewSearcher(store, emb, searcher.Options{
			DefaultLimit: cfg.Search.DefaultLimit,
			CacheSize:    cfg.Search.CacheSize,
			CacheTTL:     cfg.Search.CacheTTL.Std(),
		}),
		Pipeline: pipeline.New(store, catalog, emb, lease, pipeline.Config{
			BatchSize:          cfg.Embedder.BatchSize,
			PageSize:           cfg.Sync.PageSize,
			RetryNotFoundAfter: cfg.Enricher.RetryNotFoundAfter.Std(),
		}),
		Downloader: downloader,
	}, nil
}

// Sync imports the export at path, or only resumes outstanding work when
// path is empty
func (a *App) Sync(ctx context.Context, path string, sink pipeline.ProgressSink) (*pipeline.Result, error) {
	var src pipeline.Source
	if path != "" {
		export, err := source.Open(path)
		if err != nil {
			return nil, err
		}
		src = export
	}

	result, err := a.Pipeline.RunSync(ctx, src, sink)
	if result != nil {
		a.Searcher.InvalidateCache()
	}
	return result, err
}

// ModelStatus reports whether the embedding model is installed
func (a *App) ModelStatus() embedder.Status {
	return a.Embedder.Status()
}

// DownloadModel installs the embedding model artifacts
func (a *App) DownloadModel(ctx context.Context, progress func(embedder.DownloadProgress)) (embedder.Status, error) {
	if err := a.Downloader.Download(ctx, progress); err != nil {
		return a.ModelStatus(), err
	}
	a.Embedder.Reset()
	a.Searcher.InvalidateCache()
	return a.ModelStatus(), nil
}

// ClearEnrichment forgets enrichment for ids, or for every record when
// ids is empty, so the next sync looks them up again
func (a *App) ClearEnrichment(ctx context.Context, ids []string) (int, error) {
	n, err := a.Store.ClearEnrichment(ctx, ids)
	if err != nil {
		return 0, err
	}
	a.Searcher.InvalidateCache()
	logger.Info("cleared enrichment for %d records", n)
	return n, nil
}

// Stats summarizes catalog coverage
func (a *App) Stats(ctx context.Context) (*types.Stats, error) {
	return a.Store.Stats(ctx)
}

// ExportFile writes the catalog as CSV to path
func (a *App) ExportFile(ctx context.Context, path string, includeEnrichment bool) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	n, err := a.Store.Export(ctx, w, includeEnrichment)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Close releases the database and model
func (a *App) Close() error {
	_ = a.Embedder.Close()
	return a.Store.Close()
}
