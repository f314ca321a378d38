package app

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookshelf-mcp/internal/app/apptest"
	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/pipeline"
	"github.com/dshills/bookshelf-mcp/internal/searcher"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var dune = apptest.Work{
	Key:         "/works/OL893415W",
	Title:       "Dune",
	Authors:     []string{"Frank Herbert"},
	Subjects:    []string{"Science fiction", "Desert"},
	Description: "A desert planet and its spice.",
	Year:        1965,
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	upstream := apptest.NewUpstream(t, dune)

	a, err := New(upstream.Config(dir), upstream.Client(), WithRuntime(apptest.Runtime))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	page := apptest.WriteLibraryPage(t, dir,
		apptest.Book{ID: "X1", Title: "Dune", Authors: []string{"Frank Herbert"}, CoverURL: "https://m.media-amazon.com/images/I/dune.jpg"},
		apptest.Book{ID: "X2", Title: "Foundation", Authors: []string{"Isaac Asimov"}},
	)
	return a, page
}

func TestAppSyncWithoutModel(t *testing.T) {
	a, page := newTestApp(t)
	ctx := context.Background()

	var events []types.Progress
	result, err := a.Sync(ctx, page, func(p types.Progress) { events = append(events, p) })
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Enriched)
	assert.Equal(t, 1, result.NotFound)
	assert.Equal(t, 0, result.Embedded)
	assert.True(t, result.EmbedSkipped)
	require.NotEmpty(t, events)
	assert.Equal(t, types.StageComplete, events[len(events)-1].Stage)

	book, err := a.Searcher.Book(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, "https://m.media-amazon.com/images/I/dune.jpg", book.CoverURL)
	require.NotNil(t, book.Enrichment)
	assert.Equal(t, "A desert planet and its spice.", book.Enrichment.Description)
	assert.Equal(t, []string{"Science fiction", "Desert"}, book.Enrichment.Subjects)
	require.NotNil(t, book.Enrichment.PublishYear)
	assert.Equal(t, 1965, *book.Enrichment.PublishYear)

	resp, err := a.Searcher.Search(ctx, searcher.Request{Query: "spice"})
	require.NoError(t, err)
	assert.True(t, resp.FellBack)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "X1", resp.Results[0].ID)
}

func TestAppModelLifecycle(t *testing.T) {
	a, page := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, page, nil)
	require.NoError(t, err)
	assert.False(t, a.ModelStatus().Available)

	var progress []embedder.DownloadProgress
	status, err := a.DownloadModel(ctx, func(p embedder.DownloadProgress) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.NotEmpty(t, progress)

	// Resume-only sync embeds the existing records
	result, err := a.Sync(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 2, result.Embedded)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.EnrichedCount)
	assert.Equal(t, 2, stats.EmbeddedCount)

	resp, err := a.Searcher.Search(ctx, searcher.Request{Query: "desert planet spice"})
	require.NoError(t, err)
	assert.Equal(t, searcher.ModeSemantic, resp.Mode)
	assert.False(t, resp.FellBack)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "X1", resp.Results[0].ID)
	assert.NotNil(t, resp.Results[0].Score)
}

func TestAppClearEnrichment(t *testing.T) {
	a, page := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, page, nil)
	require.NoError(t, err)

	n, err := a.ClearEnrichment(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EnrichedCount)

	// Cleared records are looked up again
	result, err := a.Sync(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enriched)
}

func TestAppExportFile(t *testing.T) {
	a, page := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, page, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.csv")
	n, err := a.ExportFile(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "X1", rows[1][0])
	assert.Contains(t, rows[1], "A desert planet and its spice.")

	_, err = a.ExportFile(ctx, filepath.Join(t.TempDir(), "missing", "out.csv"), false)
	assert.Error(t, err)
}

func TestAppSyncErrors(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, filepath.Join(t.TempDir(), "nope.html"), nil)
	assert.Error(t, err)

	lease := pipeline.NewFileLease(a.Config.DBPath + ".sync.lock")
	ok, err := lease.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = lease.Release() }()

	_, err = a.Sync(ctx, "", nil)
	assert.ErrorIs(t, err, pipeline.ErrSyncInProgress)
}

func TestAppRetriesNotFoundByDefault(t *testing.T) {
	a, page := newTestApp(t)
	ctx := context.Background()

	first, err := a.Sync(ctx, page, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.NotFound)

	// Foundation is looked up again without any cooldown configured
	second, err := a.Sync(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 1, second.NotFound)
	assert.Equal(t, 0, second.Enriched)
}

func TestAppSearchSeesSyncFromAnotherProcess(t *testing.T) {
	dir := t.TempDir()
	upstream := apptest.NewUpstream(t, dune)
	ctx := context.Background()

	// A long-running server and a one-shot CLI share the database file
	server, err := New(upstream.Config(dir), upstream.Client(), WithRuntime(apptest.Runtime))
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	before, err := server.Searcher.Search(ctx, searcher.Request{Query: "Dune"})
	require.NoError(t, err)
	assert.Empty(t, before.Results)

	cli, err := New(upstream.Config(dir), upstream.Client(), WithRuntime(apptest.Runtime))
	require.NoError(t, err)
	page := apptest.WriteLibraryPage(t, dir, apptest.Book{ID: "X1", Title: "Dune", Authors: []string{"Frank Herbert"}})
	_, err = cli.Sync(ctx, page, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Close())

	after, err := server.Searcher.Search(ctx, searcher.Request{Query: "Dune"})
	require.NoError(t, err)
	assert.False(t, after.CacheHit)
	require.Len(t, after.Results, 1)
	assert.Equal(t, "X1", after.Results[0].ID)
}
