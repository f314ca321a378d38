package enricher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	titleWeight  = 0.75
	authorWeight = 0.25
)

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	subtitle      = regexp.MustCompile(`:.*$`)
)

// NormalizeTitle drops series info in parentheses and any subtitle
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	cleaned := strings.TrimSpace(subtitle.ReplaceAllString(parenthetical.ReplaceAllString(title, ""), ""))
	if cleaned == "" {
		return title
	}
	return cleaned
}

// NormalizeAuthor turns "Last, First" into "First Last"
func NormalizeAuthor(author string) string {
	author = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(author), ":"))
	last, first, ok := strings.Cut(author, ",")
	if !ok || strings.Contains(first, ",") {
		return author
	}
	last, first = strings.TrimSpace(last), strings.TrimSpace(first)
	if last == "" || first == "" {
		return strings.TrimSpace(last + first)
	}
	return first + " " + last
}

// tokens case-folds, strips diacritics and punctuation and splits on spaces
func tokens(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// dice is the Sørensen–Dice coefficient over distinct tokens
func dice(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}

// Score rates how well a catalog work matches the query, in [0, 1]. Author
// similarity only counts when both sides name authors.
func Score(queryTitle string, queryAuthors []string, docTitle string, docAuthors []string) float64 {
	titleScore := dice(tokens(NormalizeTitle(queryTitle)), tokens(NormalizeTitle(docTitle)))

	var queryNames []string
	for _, a := range queryAuthors {
		if a = NormalizeAuthor(a); a != "" {
			queryNames = append(queryNames, a)
		}
	}
	if len(queryNames) == 0 || len(docAuthors) == 0 {
		return titleScore
	}

	authorScore := 0.0
	for _, qa := range queryNames {
		for _, da := range docAuthors {
			if s := dice(tokens(qa), tokens(NormalizeAuthor(da))); s > authorScore {
				authorScore = s
			}
		}
	}
	return titleWeight*titleScore + authorWeight*authorScore
}

// pickBest returns the highest scoring doc at or above threshold. Earlier
// docs win ties.
func pickBest(docs []searchDoc, title string, authors []string, threshold float64) *searchDoc {
	var best *searchDoc
	bestScore := -1.0
	for i := range docs {
		if docs[i].Key == "" {
			continue
		}
		s := Score(title, authors, docs[i].Title, docs[i].AuthorName)
		if s >= threshold && s > bestScore {
			best, bestScore = &docs[i], s
		}
	}
	return best
}
