package embedder

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	unknownToken       = "[UNK]"
	classToken         = "[CLS]"
	separatorToken     = "[SEP]"
	paddingToken       = "[PAD]"
	continuationPrefix = "##"
	maxWordRunes       = 100
)

// WordPiece splits text into vocabulary pieces the way BERT-style models
// expect: clean, lower-case, strip accents, split punctuation, then greedy
// longest-match against the vocabulary.
type WordPiece struct {
	vocab     map[string]int
	lowerCase bool
}

// LoadVocab reads a vocab.txt with one token per line. A token's id is its
// zero-based line number.
func LoadVocab(r io.Reader, lowerCase bool) (*WordPiece, error) {
	vocab := make(map[string]int)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 0; scanner.Scan(); line++ {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, ok := vocab[token]; !ok && token != "" {
			vocab[token] = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocab", ErrInvalidInput)
	}
	return &WordPiece{vocab: vocab, lowerCase: lowerCase}, nil
}

// Size returns the vocabulary size
func (w *WordPiece) Size() int {
	return len(w.vocab)
}

// ID returns the vocabulary id of token
func (w *WordPiece) ID(token string) (int64, bool) {
	id, ok := w.vocab[token]
	return int64(id), ok
}

// Encode returns model input ids for text: [CLS], the pieces truncated so
// the whole sequence fits maxLen, then [SEP]. Pieces missing from the
// vocabulary map to [UNK].
func (w *WordPiece) Encode(text string, maxLen int) []int64 {
	pieces := w.Tokenize(text)
	if maxLen > 2 && len(pieces) > maxLen-2 {
		pieces = pieces[:maxLen-2]
	}

	unk, _ := w.ID(unknownToken)
	lookup := func(token string) int64 {
		if id, ok := w.ID(token); ok {
			return id
		}
		return unk
	}

	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, lookup(classToken))
	for _, p := range pieces {
		ids = append(ids, lookup(p))
	}
	return append(ids, lookup(separatorToken))
}

// Tokenize returns the word pieces for text
func (w *WordPiece) Tokenize(text string) []string {
	var pieces []string
	for _, word := range w.basicTokens(text) {
		pieces = append(pieces, w.wordPieces(word)...)
	}
	return pieces
}

func (w *WordPiece) basicTokens(text string) []string {
	if w.lowerCase {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if stripped, _, err := transform.String(t, text); err == nil {
			text = stripped
		}
		text = strings.ToLower(text)
	}

	var (
		tokens  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// wordPieces applies greedy longest-match-first segmentation to one word
func (w *WordPiece) wordPieces(word string) []string {
	chars := []rune(word)
	if len(chars) > maxWordRunes {
		return []string{unknownToken}
	}

	var pieces []string
	for start := 0; start < len(chars); {
		end := len(chars)
		match := ""
		for ; end > start; end-- {
			candidate := string(chars[start:end])
			if start > 0 {
				candidate = continuationPrefix + candidate
			}
			if _, ok := w.vocab[candidate]; ok {
				match = candidate
				break
			}
		}
		if match == "" {
			return []string{unknownToken}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, as BERT does
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
