package enricher

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// maxSubjects caps the subjects kept per book
const maxSubjects = 20

var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []searchDoc `json:"docs"`
}

type searchDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	Subject          []string `json:"subject"`
	ISBN             []string `json:"isbn"`
	FirstPublishYear int      `json:"first_publish_year"`
	PublishDate      []string `json:"publish_date"`
}

type workResponse struct {
	Description textValue `json:"description"`
}

// textValue accepts either "text" or {"type": ..., "value": "text"}
type textValue string

func (t *textValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textValue(s)
		return nil
	}
	var typed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	*t = textValue(typed.Value)
	return nil
}

func buildEnrichment(doc *searchDoc, description string) *types.Enrichment {
	e := &types.Enrichment{
		Description: strings.TrimSpace(description),
		Subjects:    normalizeSubjects(doc.Subject),
		ISBN:        pickISBN(doc.ISBN),
		CatalogKey:  strings.TrimSpace(doc.Key),
	}
	if year := publishYear(doc); year > 0 {
		e.PublishYear = &year
	}
	return e
}

// normalizeSubjects trims, drops empties and case-insensitive duplicates
// (first spelling wins) and caps the list
func normalizeSubjects(subjects []string) []string {
	fold := cases.Fold()
	seen := make(map[string]bool, len(subjects))
	out := make([]string, 0, min(len(subjects), maxSubjects))
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := fold.String(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == maxSubjects {
			break
		}
	}
	return out
}

// pickISBN prefers the first ISBN-13
func pickISBN(isbns []string) string {
	first := ""
	for _, raw := range isbns {
		isbn := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
		if isbn == "" {
			continue
		}
		if len(isbn) == 13 {
			return isbn
		}
		if first == "" {
			first = isbn
		}
	}
	return first
}

// publishYear uses first_publish_year, else the first year found in any
// publish_date string
func publishYear(doc *searchDoc) int {
	if doc.FirstPublishYear > 0 {
		return doc.FirstPublishYear
	}
	for _, date := range doc.PublishDate {
		if m := yearPattern.FindString(date); m != "" {
			if year, err := strconv.Atoi(m); err == nil {
				return year
			}
		}
	}
	return 0
}
