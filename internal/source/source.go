package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	// ErrUnsupported is returned for a directory that is not a known export
	ErrUnsupported = errors.New("unsupported export")
	// ErrUndecodable is returned when a container holds no readable page
	ErrUndecodable = errors.New("undecodable export")
)

// Format identifies the detected input format
type Format string

const (
	FormatAmazonExport Format = "amazon_export"
	FormatWebArchive   Format = "webarchive"
	FormatMHTML        Format = "mhtml"
	FormatHTML         Format = "html"
)

// Result is the outcome of reading one export
type Result struct {
	Candidates []types.Candidate
	Skipped    int
	Format     Format
}

// Export is a library export on disk
type Export struct {
	path string
}

// Open checks that path exists and returns an Export for it
func Open(path string) (*Export, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	if info.IsDir() && !isAmazonExport(path) {
		return nil, fmt.Errorf("%w: %s has no %s folder", ErrUnsupported, path, ownershipDir)
	}
	return &Export{path: path}, nil
}

// Name returns the export's base name
func (e *Export) Name() string {
	return filepath.Base(e.path)
}

// Path returns the export location
func (e *Export) Path() string {
	return e.path
}

// Load parses the export
func (e *Export) Load(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isAmazonExport(e.path) {
		return loadAmazonExport(ctx, e.path)
	}

	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return Parse(data)
}

// Parse detects the format of a single-file export and extracts candidates
func Parse(data []byte) (*Result, error) {
	format := DetectFormat(data)
	logger.Debug("detected export format %s (%d bytes)", format, len(data))

	var page []byte
	switch format {
	case FormatWebArchive:
		html, err := webArchiveHTML(data)
		if err != nil {
			return nil, err
		}
		page = html
	case FormatMHTML:
		html, err := mhtmlHTML(data)
		if err != nil {
			return nil, err
		}
		page = html
	default:
		page = data
	}

	candidates, skipped, err := extractCandidates(page)
	if err != nil {
		return nil, err
	}
	return &Result{Candidates: candidates, Skipped: skipped, Format: format}, nil
}
