package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/retry"
)

// ErrDownloadFailed wraps any artifact download failure
var ErrDownloadFailed = errors.New("model download failed")

const (
	// DefaultModelBaseURL serves the artifact files
	DefaultModelBaseURL = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main"

	downloadConcurrency = 2
	progressEvery       = 256 * 1024
)

// DownloadProgress is reported while artifact files download
type DownloadProgress struct {
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	Percent         float64 `json:"percent"`
	File            string  `json:"file"`
}

// DownloadConfig configures a Downloader
type DownloadConfig struct {
	BaseURL string
	Dir     string
	Files   []Artifact    // defaults to Artifacts
	Timeout time.Duration // per file
	Retry   retry.Config
}

// Downloader installs model artifacts into a directory
type Downloader struct {
	config DownloadConfig
	http   *http.Client
}

// NewDownloader creates a downloader. A nil httpClient uses a default one.
func NewDownloader(config DownloadConfig, httpClient *http.Client) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultModelBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if len(config.Files) == 0 {
		config.Files = Artifacts
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.Default()
	}
	return &Downloader{config: config, http: httpClient}
}

// Download fetches every missing artifact file. Files already present are
// reported as complete without a request. Each file is written to a .part
// file and renamed into place once complete. progress may be nil and is
// never called concurrently.
func (d *Downloader) Download(ctx context.Context, progress func(DownloadProgress)) error {
	if err := os.MkdirAll(d.config.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	var mu sync.Mutex
	emit := func(p DownloadProgress) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(p)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for _, artifact := range d.config.Files {
		g.Go(func() error {
			return d.fetchFile(ctx, artifact, emit)
		})
	}
	return g.Wait()
}

func (d *Downloader) fetchFile(ctx context.Context, artifact Artifact, emit func(DownloadProgress)) error {
	name := artifact.Name
	dest := filepath.Join(d.config.Dir, name)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		emit(DownloadProgress{BytesDownloaded: info.Size(), TotalBytes: info.Size(), Percent: 100, File: name})
		return nil
	}

	logger.Info("downloading %s", name)
	_, err := retry.Do(ctx, d.config.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.fetchOnce(ctx, artifact, dest, emit)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, name, err)
	}
	return nil
}

func (d *Downloader) fetchOnce(ctx context.Context, artifact Artifact, dest string, emit func(DownloadProgress)) (err error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.BaseURL+"/"+artifact.RemotePath(), nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return retry.Permanent(err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(part)
		}
	}()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	w := &progressWriter{file: artifact.Name, total: total, emit: emit}
	_, copyErr := io.Copy(io.MultiWriter(f, w), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if total > 0 && w.written != total {
		return fmt.Errorf("short download: %d of %d bytes", w.written, total)
	}

	if err := os.Rename(part, dest); err != nil {
		return retry.Permanent(err)
	}
	w.finish()
	return nil
}

// progressWriter counts bytes and emits progress every progressEvery bytes
type progressWriter struct {
	file     string
	total    int64
	written  int64
	reported int64
	emit     func(DownloadProgress)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.written-p.reported >= progressEvery {
		p.report(p.percent())
	}
	return len(b), nil
}

func (p *progressWriter) percent() float64 {
	if p.total <= 0 {
		return 0
	}
	return float64(p.written) / float64(p.total) * 100
}

func (p *progressWriter) report(percent float64) {
	p.reported = p.written
	p.emit(DownloadProgress{
		BytesDownloaded: p.written,
		TotalBytes:      p.total,
		Percent:         percent,
		File:            p.file,
	})
}

func (p *progressWriter) finish() {
	if p.total == 0 {
		p.total = p.written
	}
	p.report(100)
}
