package embedder

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeHash(""))

	dune := ComputeHash("Dune. by Frank Herbert")
	assert.Len(t, dune, 64)
	assert.Equal(t, dune, ComputeHash("Dune. by Frank Herbert"))
	assert.NotEqual(t, dune, ComputeHash("Dune Messiah. by Frank Herbert"))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "Foundation. by Isaac Asimov"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: " \n\t"}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid batch", []string{"Dune", "Foundation", "Hyperion"}, nil},
		{"no texts", nil, ErrInvalidInput},
		{"blank entry", []string{"Dune", "  ", "Hyperion"}, ErrInvalidInput},
		{"over the limit", make([]string, MaxBatchSize+1), ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		cache := NewCache(3)
		_, ok := cache.Get("missing")
		assert.False(t, ok)

		key := ComputeHash("Dune")
		cache.Set(key, &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Model: "all-MiniLM-L6-v2", Hash: key})

		got, ok := cache.Get(key)
		require.True(t, ok)
		assert.Equal(t, "all-MiniLM-L6-v2", got.Model)

		got.Vector[0] = 99
		again, _ := cache.Get(key)
		assert.Equal(t, float32(1), again.Vector[0])
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("dune", &Embedding{Hash: "dune"})
		cache.Set("foundation", &Embedding{Hash: "foundation"})
		_, _ = cache.Get("dune")
		cache.Set("hyperion", &Embedding{Hash: "hyperion"})

		_, ok := cache.Get("foundation")
		assert.False(t, ok)
		_, ok = cache.Get("dune")
		assert.True(t, ok)
		assert.Equal(t, 2, cache.Size())
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("dune", &Embedding{Hash: "dune"})
		cache.Clear()
		assert.Zero(t, cache.Size())
	})

	t.Run("concurrent use", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					key := ComputeHash(fmt.Sprintf("book-%d-%d", w, i))
					cache.Set(key, &Embedding{Vector: []float32{float32(w), float32(i)}, Dimension: 2, Hash: key})
					_, _ = cache.Get(key)
				}
			}(w)
		}
		wg.Wait()
		assert.Equal(t, 100, cache.Size())
	})
}

func TestNormalizeVector(t *testing.T) {
	norm := func(v []float32) float64 {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		return math.Sqrt(sum)
	}

	got := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)
	assert.InDelta(t, 1.0, norm(NormalizeVector([]float32{0.2, -1.5, 7})), 1e-6)

	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
