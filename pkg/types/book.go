package types

import (
	"strings"
	"time"
)

// Default classifications applied when an export omits them
const (
	DefaultResourceType = "EBOOK"
	DefaultOriginType   = "PURCHASE"
)

// Candidate is an unvalidated catalog entry produced by a source adapter
type Candidate struct {
	ID           string
	Title        string
	Authors      []string
	ResourceType string
	OriginType   string
	PercentRead  *int
	CoverURL     string
}

// Validate checks that the candidate can become a Record
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(c.Title) == "" {
		return ErrMissingTitle
	}
	return nil
}

// Normalize trims fields and fills in default classifications
func (c *Candidate) Normalize() {
	c.ID = strings.TrimSpace(c.ID)
	c.Title = strings.TrimSpace(c.Title)
	c.CoverURL = strings.TrimSpace(c.CoverURL)
	authors := c.Authors[:0:0]
	for _, a := range c.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	c.Authors = authors
	if c.ResourceType == "" {
		c.ResourceType = DefaultResourceType
	}
	if c.OriginType == "" {
		c.OriginType = DefaultOriginType
	}
}

// Enrichment is externally sourced bibliographic metadata for a record
type Enrichment struct {
	Description string    `json:"description,omitempty"`
	Subjects    []string  `json:"subjects,omitempty"`
	ISBN        string    `json:"isbn,omitempty"`
	PublishYear *int      `json:"publish_year,omitempty"`
	CatalogKey  string    `json:"catalog_key,omitempty"`
	EnrichedAt  time.Time `json:"enriched_at"`
}

// HasSubject reports exact membership of subject
func (e *Enrichment) HasSubject(subject string) bool {
	if e == nil {
		return false
	}
	for _, s := range e.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// Book is the hydrated view of a record and its enrichment
type Book struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Authors      []string    `json:"authors"`
	ResourceType string      `json:"resource_type"`
	OriginType   string      `json:"origin_type"`
	PercentRead  *int        `json:"percent_read,omitempty"`
	CoverURL     string      `json:"cover_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Enrichment   *Enrichment `json:"enrichment"`
	Embedded     bool        `json:"embedded"`

	// Search annotations
	Distance *float64 `json:"distance"`
	Rank     *float64 `json:"rank"`
	Score    *int     `json:"score,omitempty"`
}

// Description returns the enrichment description or an empty string
func (b *Book) Description() string {
	if b.Enrichment == nil {
		return ""
	}
	return b.Enrichment.Description
}

// Subjects returns the enrichment subjects or nil
func (b *Book) Subjects() []string {
	if b.Enrichment == nil {
		return nil
	}
	return b.Enrichment.Subjects
}
