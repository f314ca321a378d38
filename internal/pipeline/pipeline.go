package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/enricher"
	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/source"
	"github.com/dshills/bookshelf-mcp/internal/storage"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// Source is a readable library export
type Source interface {
	Name() string
	Load(ctx context.Context) (*source.Result, error)
}

// Enricher looks up bibliographic metadata for one book
type Enricher interface {
	Lookup(ctx context.Context, title string, authors []string) (*types.Enrichment, error)
}

// Config contains configuration for the pipeline
type Config struct {
	BatchSize          int           // Books per embedding call (default: 32)
	PageSize           int           // Rows held per work-queue page (default: 200)
	RetryNotFoundAfter time.Duration // Optional cooldown before retrying a catalog miss (default: none)
	MaxErrors          int           // Error messages kept in a Result (default: 20)
}

// Result summarizes one sync invocation
type Result struct {
	RunID             string   `json:"run_id"`
	Imported          int      `json:"imported"`
	Enriched          int      `json:"enriched"`
	Embedded          int      `json:"embedded"`
	SkippedCandidates int      `json:"skipped_candidates"`
	NotFound          int      `json:"not_found"`
	EnrichFailed      int      `json:"enrich_failed"`
	EmbedFailed       int      `json:"embed_failed"`
	EmbedSkipped      bool     `json:"embed_skipped"`
	Cancelled         bool     `json:"cancelled"`
	DurationMS        int64    `json:"duration_ms"`
	Errors            []string `json:"errors"`
}

// Pipeline sequences import, enrichment and embedding against one store
type Pipeline struct {
	store    storage.Storage
	enricher Enricher
	embedder embedder.Embedder
	lease    Lease
	config   Config
	now      func() time.Time
}

// New creates a pipeline. A nil enricher skips the enrich stage, a nil
// embedder skips the embed stage and a nil lease uses a MemoryLease.
func New(store storage.Storage, enr Enricher, emb embedder.Embedder, lease Lease, config Config) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.BatchSize > embedder.MaxBatchSize {
		config.BatchSize = embedder.MaxBatchSize
	}
	if config.PageSize <= 0 {
		config.PageSize = 200
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = 20
	}
	if lease == nil {
		lease = &MemoryLease{}
	}
	return &Pipeline{
		store:    store,
		enricher: enr,
		embedder: emb,
		lease:    lease,
		config:   config,
		now:      time.Now,
	}
}

// run carries the state of one invocation
type run struct {
	result *Result
	emit   ProgressSink
	max    int
}

func (r *run) addError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("%s", msg)
	if len(r.result.Errors) < r.max {
		r.result.Errors = append(r.result.Errors, msg)
	}
}

// RunSync imports src when given, then enriches and embeds every record
// still missing that data. Only a failure to read src or to store its
// records is returned as an error; per-record failures are tallied in the
// Result. When ctx is cancelled the partial Result is returned with
// Cancelled set, alongside the context error.
func (p *Pipeline) RunSync(ctx context.Context, src Source, sink ProgressSink) (*Result, error) {
	ok, err := p.lease.TryAcquire()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := p.lease.Release(); err != nil {
			logger.Warn("failed to release sync lease: %v", err)
		}
	}()

	if sink == nil {
		sink = func(types.Progress) {}
	}
	start := p.now()
	r := &run{
		result: &Result{RunID: uuid.NewString(), Errors: []string{}},
		emit:   sink,
		max:    p.config.MaxErrors,
	}
	logger.Info("sync %s started", r.result.RunID)

	if src != nil {
		if err := p.importSource(ctx, r, src); err != nil {
			return nil, err
		}
	}

	stages := []func(context.Context, *run) error{p.enrich, p.embed}
	for _, stage := range stages {
		if err := stage(ctx, r); err != nil {
			r.result.Cancelled = true
			r.result.DurationMS = p.now().Sub(start).Milliseconds()
			logger.Warn("sync %s cancelled", r.result.RunID)
			return r.result, err
		}
	}

	r.result.DurationMS = p.now().Sub(start).Milliseconds()
	sink(types.Note(types.StageComplete, fmt.Sprintf("Sync complete: %d imported, %d enriched, %d embedded",
		r.result.Imported, r.result.Enriched, r.result.Embedded)))
	logger.Info("sync %s finished in %dms: %d imported, %d enriched, %d embedded",
		r.result.RunID, r.result.DurationMS, r.result.Imported, r.result.Enriched, r.result.Embedded)
	return r.result, nil
}

// importSource merges the export's candidates into the store
func (p *Pipeline) importSource(ctx context.Context, r *run, src Source) error {
	logger.Section("Import")
	r.emit(types.Note(types.StageImport, fmt.Sprintf("Reading %s...", src.Name())))

	loaded, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", src.Name(), err)
	}
	r.result.SkippedCandidates = loaded.Skipped
	r.emit(types.Note(types.StageImport, fmt.Sprintf("Found %d books", len(loaded.Candidates))))
	if loaded.Skipped > 0 {
		logger.Warn("skipped %d malformed entries in %s", loaded.Skipped, src.Name())
	}

	if len(loaded.Candidates) == 0 {
		return nil
	}
	inserted, err := p.store.UpsertRecords(ctx, loaded.Candidates)
	if err != nil {
		return fmt.Errorf("failed to import records: %w", err)
	}
	r.result.Imported = inserted

	if inserted > 0 {
		r.emit(types.Note(types.StageImport, fmt.Sprintf("Imported %d new books", inserted)))
	} else {
		r.emit(types.Note(types.StageImport, "No new books to import"))
	}
	return nil
}

// outcome of enriching one record
type outcome int

const (
	outcomeEnriched outcome = iota
	outcomeNotFound
	outcomeFailed
)

// enrich looks up every record lacking enrichment, one at a time
func (p *Pipeline) enrich(ctx context.Context, r *run) error {
	logger.Section("Enrich")
	if p.enricher == nil {
		r.emit(types.Note(types.StageEnrich, "Skipping enrichment (no catalog configured)"))
		return nil
	}

	opts := storage.MissingOptions{PageSize: p.config.PageSize, RetryNotFoundAfter: p.config.RetryNotFoundAfter}
	total, err := p.store.CountMissingEnrichment(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.addError("enrich: %v", err)
		return nil
	}
	if total == 0 {
		r.emit(types.Note(types.StageEnrich, "All books already enriched"))
		return nil
	}

	r.emit(types.Counted(types.StageEnrich, fmt.Sprintf("Enriching %d books...", total), 0, total))
	t := newTracker(types.StageEnrich, total, p.now)
	current := 0

	for book, err := range p.store.MissingEnrichment(ctx, opts) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.addError("enrich: %v", err)
			break
		}
		if current == total {
			// Records imported by someone else mid-walk wait for the next run
			break
		}

		switch p.enrichOne(ctx, r, book) {
		case outcomeEnriched:
			r.result.Enriched++
		case outcomeNotFound:
			r.result.NotFound++
		case outcomeFailed:
			r.result.EnrichFailed++
		}
		current++
		r.emit(t.step(current, book.Title))

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	r.emit(types.Counted(types.StageEnrich, fmt.Sprintf("Enriched %d/%d books", r.result.Enriched, total), current, total))
	return nil
}

// enrichOne runs a single lookup and persists its answer. The lookup and
// save are shielded from cancellation so a record is never left half done.
func (p *Pipeline) enrichOne(ctx context.Context, r *run, book *types.Book) outcome {
	ctx = context.WithoutCancel(ctx)

	data, err := p.enricher.Lookup(ctx, book.Title, book.Authors)
	switch {
	case errors.Is(err, enricher.ErrNotFound):
		logger.Debug("no catalog match for %s %q", book.ID, book.Title)
		if err := p.store.RecordEnrichmentMiss(ctx, book.ID); err != nil {
			r.addError("%s: failed to record miss: %v", book.ID, err)
		}
		return outcomeNotFound
	case err != nil:
		r.addError("%s: lookup failed: %v", book.ID, err)
		return outcomeFailed
	}

	if data.EnrichedAt.IsZero() {
		data.EnrichedAt = p.now()
	}
	if err := p.store.SaveEnrichment(ctx, book.ID, data); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return outcomeEnriched
		}
		r.addError("%s: failed to save enrichment: %v", book.ID, err)
		return outcomeFailed
	}
	return outcomeEnriched
}

// embed vectorizes every record lacking a current embedding, in batches
func (p *Pipeline) embed(ctx context.Context, r *run) error {
	logger.Section("Embed")
	if p.embedder == nil || !p.embedder.Status().Available {
		r.result.EmbedSkipped = true
		r.emit(types.Note(types.StageEmbed, "Skipping embeddings (model not downloaded)"))
		return nil
	}

	opts := storage.MissingOptions{
		PageSize: p.config.PageSize,
		Model:    p.embedder.Model(),
		Recipe:   embedder.RecipeVersion,
	}
	total, err := p.store.CountMissingEmbedding(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.addError("embed: %v", err)
		return nil
	}
	if total == 0 {
		r.emit(types.Note(types.StageEmbed, "All books already have embeddings"))
		return nil
	}

	r.emit(types.Counted(types.StageEmbed, fmt.Sprintf("Generating embeddings for %d books...", total), 0, total))
	t := newTracker(types.StageEmbed, total, p.now)
	current := 0
	batch := make([]*types.Book, 0, p.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.embedBatch(ctx, r, batch); err != nil {
			return err
		}
		current += len(batch)
		r.emit(t.step(current, batch[len(batch)-1].Title))
		batch = batch[:0]
		return ctx.Err()
	}

	for book, err := range p.store.MissingEmbedding(ctx, opts) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.addError("embed: %v", err)
			break
		}
		if current+len(batch) == total {
			break
		}
		batch = append(batch, book)
		if len(batch) == p.config.BatchSize {
			if err := flush(); err != nil {
				if errors.Is(err, embedder.ErrModelUnavailable) {
					return nil
				}
				return err
			}
		}
	}
	if err := flush(); err != nil {
		if errors.Is(err, embedder.ErrModelUnavailable) {
			return nil
		}
		return err
	}

	r.emit(types.Counted(types.StageEmbed, fmt.Sprintf("Generated %d embeddings", r.result.Embedded), current, total))
	return nil
}

// embedBatch embeds and saves one batch. A failed batch call is retried
// item by item so each record is counted on its own. Returns
// ErrModelUnavailable if the model disappeared mid-run.
func (p *Pipeline) embedBatch(ctx context.Context, r *run, batch []*types.Book) error {
	ctx = context.WithoutCancel(ctx)

	texts := make([]string, len(batch))
	for i, book := range batch {
		texts[i] = embedder.Text(book)
	}

	resp, err := p.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err == nil && len(resp.Embeddings) == len(batch) {
		for i, book := range batch {
			p.saveVector(ctx, r, book, resp.Embeddings[i])
		}
		return nil
	}
	if embedder.IsUnavailable(err) {
		r.result.EmbedSkipped = true
		r.addError("embed: %v", err)
		return err
	}
	if err != nil {
		logger.Debug("batch of %d failed, retrying one by one: %v", len(batch), err)
	}

	for i, book := range batch {
		emb, err := p.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: texts[i]})
		if err != nil {
			r.result.EmbedFailed++
			r.addError("%s: embedding failed: %v", book.ID, err)
			continue
		}
		p.saveVector(ctx, r, book, emb)
	}
	return nil
}

func (p *Pipeline) saveVector(ctx context.Context, r *run, book *types.Book, emb *embedder.Embedding) {
	err := p.store.SaveEmbedding(ctx, &storage.Embedding{
		RecordID: book.ID,
		Vector:   emb.Vector,
		Model:    p.embedder.Model(),
		Recipe:   embedder.RecipeVersion,
	})
	if err != nil {
		r.result.EmbedFailed++
		r.addError("%s: failed to save embedding: %v", book.ID, err)
		return
	}
	r.result.Embedded++
}
