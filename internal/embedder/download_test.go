package embedder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookshelf-mcp/internal/retry"
)

// testArtifacts are keyed by path under the base URL
var testArtifacts = map[string]string{
	"config.json":     `{"hidden_size": 16}`,
	"vocab.txt":       testVocab,
	"onnx/model.onnx": "onnx-graph",
}

type artifactServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
	failures atomic.Int32 // 503s to serve before succeeding
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()
	s := &artifactServer{requests: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		s.mu.Lock()
		s.requests[name]++
		s.mu.Unlock()

		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, ok := testArtifacts[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *artifactServer) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[name]
}

func testDownloadConfig(baseURL, dir string) DownloadConfig {
	return DownloadConfig{
		BaseURL: baseURL,
		Dir:     dir,
		Timeout: 5 * time.Second,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2,
		},
	}
}

func TestDownload(t *testing.T) {
	srv := newArtifactServer(t)
	dir := filepath.Join(t.TempDir(), "model")

	var events []DownloadProgress
	d := NewDownloader(testDownloadConfig(srv.URL, dir), srv.Client())
	err := d.Download(context.Background(), func(p DownloadProgress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	for _, a := range Artifacts {
		got, err := os.ReadFile(filepath.Join(dir, a.Name))
		require.NoError(t, err)
		assert.Equal(t, testArtifacts[a.RemotePath()], string(got))
		assert.NoFileExists(t, filepath.Join(dir, a.Name+".part"))
	}
	assert.Equal(t, 1, srv.count("onnx/model.onnx"))
	assert.NoDirExists(t, filepath.Join(dir, "onnx"))

	completed := map[string]bool{}
	for _, e := range events {
		if e.Percent == 100 {
			completed[e.File] = true
			assert.Equal(t, e.TotalBytes, e.BytesDownloaded)
		}
	}
	assert.Len(t, completed, len(Artifacts))
	assert.True(t, completed["model.onnx"])

	// Installed artifacts make the provider available
	assert.True(t, NewLocalProvider(dir, "", nil).Status().Available)
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	srv := newArtifactServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"hidden_size": 8}`), 0o644))

	var events []DownloadProgress
	d := NewDownloader(testDownloadConfig(srv.URL, dir), srv.Client())
	require.NoError(t, d.Download(context.Background(), func(p DownloadProgress) {
		events = append(events, p)
	}))

	assert.Equal(t, 0, srv.count("config.json"))
	assert.Equal(t, 1, srv.count("vocab.txt"))
	assert.Equal(t, 1, srv.count("onnx/model.onnx"))

	got, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"hidden_size": 8}`, string(got))

	var sawConfig bool
	for _, e := range events {
		if e.File == "config.json" {
			sawConfig = true
			assert.Equal(t, 100.0, e.Percent)
		}
	}
	assert.True(t, sawConfig)
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	srv := newArtifactServer(t)
	srv.failures.Store(2)

	cfg := testDownloadConfig(srv.URL, t.TempDir())
	cfg.Files = []Artifact{{Name: "vocab.txt"}}
	cfg.Retry.MaxAttempts = 5

	require.NoError(t, NewDownloader(cfg, srv.Client()).Download(context.Background(), nil))
	assert.Equal(t, 3, srv.count("vocab.txt"))
}

func TestDownloadNotFoundIsPermanent(t *testing.T) {
	srv := newArtifactServer(t)
	dir := t.TempDir()

	cfg := testDownloadConfig(srv.URL, dir)
	cfg.Files = []Artifact{{Name: "missing.bin"}}

	err := NewDownloader(cfg, srv.Client()).Download(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, 1, srv.count("missing.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "missing.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "missing.bin.part"))
}

func TestDownloadCancelled(t *testing.T) {
	srv := newArtifactServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewDownloader(testDownloadConfig(srv.URL, t.TempDir()), srv.Client()).Download(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
