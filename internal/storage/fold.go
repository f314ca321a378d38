package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldFunction is the SQL name of foldText, registered with the driver.
// SQLite's LIKE folds ASCII only, so substring filters compare fold(column)
// against a folded pattern instead.
const foldFunction = "fold"

// foldText lower-cases s and strips combining marks, so "Émile",
// "EMILE" and "émile" all fold to "emile"
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
