package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Bm25 column weights for title, authors, description and subjects
const bm25Weights = "10.0, 5.0, 1.0, 3.0"

// Nearest returns the k stored vectors closest to vector by cosine distance
// (1 - cosine similarity), closest first with ties broken by record id.
// Only vectors made by model under recipe with the same dimension are
// compared.
func (s *SQLiteStorage) Nearest(ctx context.Context, vector []float32, k int, model, recipe string) ([]Neighbor, error) {
	if len(vector) == 0 {
		return nil, ErrInvalidVector
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT record_id, vector FROM embeddings WHERE dimension = ? AND model = ? AND recipe = ?",
		len(vector), model, recipe)
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	neighbors := make([]Neighbor, 0)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		stored := deserializeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			RecordID: id,
			Distance: 1 - cosineSimilarity(vector, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// KeywordSearch ranks records against text using the weighted full-text
// index. Every token is matched as a prefix and all tokens must match.
func (s *SQLiteStorage) KeywordSearch(ctx context.Context, text string, limit int) ([]KeywordHit, error) {
	match := buildMatchQuery(text)
	if match == "" || limit <= 0 {
		return []KeywordHit{}, nil
	}

	query := `
		SELECT r.id, -bm25(records_fts, ` + bm25Weights + `) AS score
		FROM records_fts
		JOIN records r ON r.seq = records_fts.rowid
		WHERE records_fts MATCH ?
		ORDER BY score DESC, r.id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]KeywordHit, 0, limit)
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.RecordID, &hit.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan keyword hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// buildMatchQuery turns free text into an FTS5 expression of quoted prefix
// terms. Punctuation never reaches the FTS parser.
func buildMatchQuery(text string) string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " ")
}

func sortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].RecordID < neighbors[j].RecordID
	})
}

// serializeVector converts float32 slice to little-endian bytes
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts bytes back to float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity computes cosine similarity between two vectors.
// A zero vector is similar to nothing.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance exposes the distance used by Nearest
func CosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}
