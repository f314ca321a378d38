package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

const (
	payloadScriptID = "itemViewResponse"
	titlePrefix     = "title-"
	authorPrefix    = "author-"
	coverPrefix     = "cover-"
)

// itemView is the embedded initial payload
type itemView struct {
	ItemsList []payloadItem `json:"itemsList"`
}

type payloadItem struct {
	ASIN           string   `json:"asin"`
	Title          string   `json:"title"`
	Authors        []string `json:"authors"`
	PercentageRead *float64 `json:"percentageRead"`
	ResourceType   string   `json:"resourceType"`
	OriginType     string   `json:"originType"`
	ProductURL     string   `json:"productUrl"` // cover image
}

// pageExtractor collects the payload and rendered fragments in one walk
type pageExtractor struct {
	payload  string
	domOrder []string
	titles   map[string]string
	authors  map[string]string
	covers   map[string]string
}

func (p *pageExtractor) visit(n *html.Node) {
	if n.Type == html.ElementNode {
		id := attr(n, "id")
		switch {
		case n.DataAtom == atom.Script && id == payloadScriptID && p.payload == "":
			p.payload = textContent(n)
		case strings.HasPrefix(id, titlePrefix):
			asin := strings.TrimPrefix(id, titlePrefix)
			if _, seen := p.titles[asin]; !seen {
				p.domOrder = append(p.domOrder, asin)
			}
			p.titles[asin] = firstParagraph(n)
		case strings.HasPrefix(id, authorPrefix):
			p.authors[strings.TrimPrefix(id, authorPrefix)] = firstParagraph(n)
		case strings.HasPrefix(id, coverPrefix):
			p.covers[strings.TrimPrefix(id, coverPrefix)] = imageSource(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.visit(c)
	}
}

// extractCandidates reads a library page. Payload entries come first, then
// rendered entries the payload did not include.
func extractCandidates(page []byte) ([]types.Candidate, int, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	p := &pageExtractor{
		titles:  make(map[string]string),
		authors: make(map[string]string),
		covers:  make(map[string]string),
	}
	p.visit(doc)

	var (
		merged  []types.Candidate
		index   = make(map[string]int)
		skipped int
	)
	add := func(c types.Candidate) {
		c.Normalize()
		if c.ID == "" {
			skipped++
			return
		}
		if i, ok := index[c.ID]; ok {
			// Payload wins, rendered text only fills gaps
			if merged[i].Title == "" {
				merged[i].Title = c.Title
			}
			if len(merged[i].Authors) == 0 {
				merged[i].Authors = c.Authors
			}
			if merged[i].CoverURL == "" {
				merged[i].CoverURL = c.CoverURL
			}
			return
		}
		index[c.ID] = len(merged)
		merged = append(merged, c)
	}

	for _, item := range p.payloadItems() {
		add(item.candidate())
	}
	for _, asin := range p.domOrder {
		add(types.Candidate{
			ID:       asin,
			Title:    p.titles[asin],
			Authors:  splitDOMAuthors(p.authors[asin]),
			CoverURL: p.covers[asin],
		})
	}

	candidates := make([]types.Candidate, 0, len(merged))
	for _, c := range merged {
		if err := c.Validate(); err != nil {
			skipped++
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, skipped, nil
}

func (p *pageExtractor) payloadItems() []payloadItem {
	if strings.TrimSpace(p.payload) == "" {
		return nil
	}
	var view itemView
	if err := json.Unmarshal([]byte(p.payload), &view); err != nil {
		logger.Warn("ignoring unreadable %s payload: %v", payloadScriptID, err)
		return nil
	}
	return view.ItemsList
}

func (item payloadItem) candidate() types.Candidate {
	c := types.Candidate{
		ID:           item.ASIN,
		Title:        item.Title,
		ResourceType: item.ResourceType,
		OriginType:   item.OriginType,
		CoverURL:     item.ProductURL,
	}
	for _, a := range item.Authors {
		c.Authors = append(c.Authors, strings.TrimSuffix(strings.TrimSpace(a), ":"))
	}
	if item.PercentageRead != nil {
		pct := int(math.Round(*item.PercentageRead))
		c.PercentRead = &pct
	}
	return c
}

// splitDOMAuthors splits rendered author text on ':' and ','
func splitDOMAuthors(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == ':' || r == ',' })
	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			authors = append(authors, p)
		}
	}
	return authors
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// imageSource returns the src of n, or of the first <img> under n
func imageSource(n *html.Node) string {
	if src := strings.TrimSpace(attr(n, "src")); src != "" {
		return src
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if src := imageSource(c); src != "" {
			return src
		}
	}
	return ""
}

// firstParagraph returns the text of the first <p> under n
func firstParagraph(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.P {
			return strings.TrimSpace(textContent(c))
		}
		if text := firstParagraph(c); text != "" {
			return text
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
