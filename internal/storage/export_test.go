package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

func TestExport(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedRecords(t, storage,
		types.Candidate{ID: "X2", Title: "Foundation, Book One", Authors: []string{"Isaac Asimov"}, CoverURL: "https://m.media-amazon.com/images/I/X2.jpg"},
		types.Candidate{ID: "X1", Title: "Good Omens", Authors: []string{"Terry Pratchett", "Neil Gaiman"}, PercentRead: intPtr(12)},
	)
	require.NoError(t, storage.SaveEnrichment(ctx, "X1", &types.Enrichment{
		Subjects: []string{"Fantasy", "Humor"}, PublishYear: intPtr(1990), ISBN: "0060853980",
	}))

	t.Run("records only", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := storage.Export(ctx, &buf, false)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, exportHeader, rows[0])
		assert.Equal(t, []string{"X1", "Good Omens", "Terry Pratchett; Neil Gaiman", "EBOOK", "PURCHASE", "12", ""}, rows[1])
		assert.Equal(t, "Foundation, Book One", rows[2][1])
		assert.Equal(t, "", rows[2][5])
		assert.Equal(t, "https://m.media-amazon.com/images/I/X2.jpg", rows[2][6])
	})

	t.Run("with enrichment", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := storage.Export(ctx, &buf, true)
		require.NoError(t, err)

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Len(t, rows[0], len(exportHeader)+len(exportEnrichedHeader))
		assert.Equal(t, []string{"", "Fantasy; Humor", "0060853980", "1990", ""}, rows[1][7:])
		assert.Equal(t, []string{"", "", "", "", ""}, rows[2][7:])
	})
}
