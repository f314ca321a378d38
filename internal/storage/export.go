package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var (
	exportHeader         = []string{"id", "title", "authors", "resource_type", "origin_type", "percent_read", "cover_url"}
	exportEnrichedHeader = []string{"description", "subjects", "isbn", "publish_year", "catalog_key"}
)

// Export writes every record as CSV in id order. Multi-valued fields are
// joined with "; ". It returns the number of rows written.
func (s *SQLiteStorage) Export(ctx context.Context, w io.Writer, includeEnrichment bool) (int, error) {
	cw := csv.NewWriter(w)

	header := exportHeader
	if includeEnrichment {
		header = append(append([]string{}, exportHeader...), exportEnrichedHeader...)
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	written := 0
	var writeErr error
	err := s.collectBooks(ctx, bookSelect+" ORDER BY r.id", nil, func(b *types.Book) {
		if writeErr != nil {
			return
		}
		if writeErr = cw.Write(exportRow(b, includeEnrichment)); writeErr == nil {
			written++
		}
	})
	if err != nil {
		return written, fmt.Errorf("failed to export: %w", err)
	}
	if writeErr != nil {
		return written, writeErr
	}

	cw.Flush()
	return written, cw.Error()
}

func exportRow(b *types.Book, includeEnrichment bool) []string {
	row := []string{
		b.ID,
		b.Title,
		strings.Join(b.Authors, "; "),
		b.ResourceType,
		b.OriginType,
		optionalInt(b.PercentRead),
		b.CoverURL,
	}
	if !includeEnrichment {
		return row
	}

	e := b.Enrichment
	if e == nil {
		e = &types.Enrichment{}
	}
	return append(row,
		e.Description,
		strings.Join(e.Subjects, "; "),
		e.ISBN,
		optionalInt(e.PublishYear),
		e.CatalogKey,
	)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
