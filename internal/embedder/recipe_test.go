package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		book *types.Book
		want string
	}{
		{
			name: "title only",
			book: &types.Book{Title: "Dune"},
			want: "Dune",
		},
		{
			name: "title and authors",
			book: &types.Book{Title: "Good Omens", Authors: []string{"Terry Pratchett", " ", "Neil Gaiman"}},
			want: "Good Omens. by Terry Pratchett, Neil Gaiman",
		},
		{
			name: "enriched",
			book: &types.Book{
				Title:   "Dune",
				Authors: []string{"Frank Herbert"},
				Enrichment: &types.Enrichment{
					Description: "Desert planet",
					Subjects:    []string{"Science fiction", "Ecology"},
				},
			},
			want: "Dune. by Frank Herbert. Desert planet. Subjects: Science fiction, Ecology",
		},
		{
			name: "enrichment without description",
			book: &types.Book{
				Title:      "Dune",
				Enrichment: &types.Enrichment{Subjects: []string{"Ecology"}},
			},
			want: "Dune. Subjects: Ecology",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.book))
		})
	}
}
