package embedder

import (
	"strings"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// RecipeVersion identifies the text layout below. Vectors stored under a
// different version are re-embedded.
const RecipeVersion = "v1"

// Text builds the text embedded for a book: title, "by" authors,
// description, then subjects, joined by ". " with empty parts omitted.
func Text(book *types.Book) string {
	parts := make([]string, 0, 4)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(book.Title)
	if authors := joinNonEmpty(book.Authors); authors != "" {
		add("by " + authors)
	}
	add(book.Description())
	if subjects := joinNonEmpty(book.Subjects()); subjects != "" {
		add("Subjects: " + subjects)
	}
	return strings.Join(parts, ". ")
}

func joinNonEmpty(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}
