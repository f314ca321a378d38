package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

const (
	kindleResourceType = "KindleEBook"
	activeRight        = "Active"
	unknownTitle       = "Not Available"
	defaultOrigin      = "Purchase"
)

var authorCSV = filepath.Join(
	"Kindle.UnifiedLibraryIndex",
	"datasets",
	"Kindle.UnifiedLibraryIndex.CustomerAuthorNameRelationship",
	"Kindle.UnifiedLibraryIndex.CustomerAuthorNameRelationship.csv",
)

// ownership is one Digital.Content.Ownership document
type ownership struct {
	Resource *struct {
		ASIN         string `json:"asin"`
		ProductName  string `json:"productName"`
		ResourceType string `json:"resourceType"`
	} `json:"resource"`
	Rights []struct {
		RightStatus string `json:"rightStatus"`
		Origin      *struct {
			OriginType string `json:"originType"`
		} `json:"origin"`
	} `json:"rights"`
}

func loadAmazonExport(ctx context.Context, root string) (*Result, error) {
	authors, err := loadAuthors(filepath.Join(root, authorCSV))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(root, ownershipDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ownershipDir, err)
	}

	result := &Result{Format: FormatAmazonExport}
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate, ok, err := readOwnership(filepath.Join(root, ownershipDir, entry.Name()))
		if err != nil {
			logger.Debug("skipping %s: %v", entry.Name(), err)
			result.Skipped++
			continue
		}
		if !ok || seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true
		candidate.Authors = authors[candidate.ID]
		candidate.Normalize()
		result.Candidates = append(result.Candidates, candidate)
	}

	logger.Info("read %d books from Amazon export (%d skipped)", len(result.Candidates), result.Skipped)
	return result, nil
}

// readOwnership returns ok=false for entries that are not active Kindle books
func readOwnership(path string) (types.Candidate, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Candidate{}, false, err
	}

	var doc ownership
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.Candidate{}, false, err
	}
	if doc.Resource == nil || doc.Resource.ResourceType != kindleResourceType {
		return types.Candidate{}, false, nil
	}

	origin := ""
	active := false
	for _, right := range doc.Rights {
		if right.RightStatus != activeRight {
			continue
		}
		active = true
		if right.Origin != nil {
			origin = right.Origin.OriginType
		}
		break
	}
	if !active {
		return types.Candidate{}, false, nil
	}

	asin := strings.TrimSpace(doc.Resource.ASIN)
	if asin == "" {
		return types.Candidate{}, false, types.ErrMissingID
	}

	title := strings.TrimSpace(doc.Resource.ProductName)
	if title == "" {
		title = unknownTitle
	}
	if origin == "" {
		origin = defaultOrigin
	}

	return types.Candidate{
		ID:           asin,
		Title:        title,
		ResourceType: types.DefaultResourceType,
		OriginType:   origin,
	}, true, nil
}

// loadAuthors maps ASIN to ordered, distinct author names. A missing file
// means no author data.
func loadAuthors(path string) (map[string][]string, error) {
	authors := make(map[string][]string)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("author file not found at %s, books will have no authors", path)
		return authors, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open author file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read author file: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(record) < 3 {
			continue
		}

		asin := strings.TrimSpace(record[1])
		name := strings.TrimSpace(strings.Join(record[2:], ","))
		if asin == "" || name == "" || slices.Contains(authors[asin], name) {
			continue
		}
		authors[asin] = append(authors[asin], name)
	}
	return authors, nil
}
