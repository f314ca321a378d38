package enricher

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSubjects(t *testing.T) {
	got := normalizeSubjects([]string{" Fiction ", "fiction", "", "Science Fiction", "FICTION", "Space"})
	assert.Equal(t, []string{"Fiction", "Science Fiction", "Space"}, got)

	many := make([]string, 30)
	for i := range many {
		many[i] = fmt.Sprintf("Subject %d", i)
	}
	assert.Len(t, normalizeSubjects(many), maxSubjects)
	assert.Empty(t, normalizeSubjects(nil))
}

func TestPickISBN(t *testing.T) {
	assert.Equal(t, "9780441013593", pickISBN([]string{"0441013597", "978-0-441-01359-3"}))
	assert.Equal(t, "0441013597", pickISBN([]string{" ", "0441013597"}))
	assert.Equal(t, "", pickISBN(nil))
}

func TestPublishYear(t *testing.T) {
	tests := []struct {
		name string
		doc  searchDoc
		want int
	}{
		{"first publish year", searchDoc{FirstPublishYear: 1965, PublishDate: []string{"2005"}}, 1965},
		{"from date string", searchDoc{PublishDate: []string{"Unknown", "March 12, 1951", "1960"}}, 1951},
		{"iso date", searchDoc{PublishDate: []string{"1999-03-01"}}, 1999},
		{"no year", searchDoc{PublishDate: []string{"n.d."}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publishYear(&tt.doc))
		})
	}
}

func TestTextValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"description": "Plain text."}`, "Plain text."},
		{`{"description": {"type": "/type/text", "value": "Typed text."}}`, "Typed text."},
		{`{"description": null}`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var work workResponse
			require.NoError(t, json.Unmarshal([]byte(tt.input), &work))
			assert.Equal(t, tt.want, string(work.Description))
		})
	}
}

func TestBuildEnrichment(t *testing.T) {
	doc := &searchDoc{
		Key:         "/works/OL45883W",
		Subject:     []string{"Fantasy", "fantasy"},
		ISBN:        []string{"9780547928227"},
		PublishDate: []string{"September 21, 1937"},
	}

	e := buildEnrichment(doc, "  There and back again.  ")
	assert.Equal(t, "There and back again.", e.Description)
	assert.Equal(t, []string{"Fantasy"}, e.Subjects)
	assert.Equal(t, "9780547928227", e.ISBN)
	assert.Equal(t, "/works/OL45883W", e.CatalogKey)
	require.NotNil(t, e.PublishYear)
	assert.Equal(t, 1937, *e.PublishYear)

	assert.Nil(t, buildEnrichment(&searchDoc{Key: "/works/x"}, "").PublishYear)
}
