package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/bookshelf-mcp/internal/logger"
)

const (
	// DefaultModel is the sentence-transformers model the artifacts come from
	DefaultModel = "all-MiniLM-L6-v2"
	// DefaultDimension applies when config.json has no hidden_size
	DefaultDimension = 384
	// DefaultMaxSequenceLength caps tokens per text, [CLS] and [SEP] included
	DefaultMaxSequenceLength = 256
)

// Artifact is one model file. Name is its file name in the model
// directory; Path is its location under the download base URL and
// defaults to Name.
type Artifact struct {
	Name string
	Path string
}

// RemotePath returns the artifact's path under the download base URL
func (a Artifact) RemotePath() string {
	if a.Path != "" {
		return a.Path
	}
	return a.Name
}

// Artifacts must all be present in the model directory
var Artifacts = []Artifact{
	{Name: "config.json"},
	{Name: "vocab.txt"},
	{Name: "model.onnx", Path: "onnx/model.onnx"},
}

// modelConfig is the subset of config.json the provider reads
type modelConfig struct {
	HiddenSize            int    `json:"hidden_size"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	ModelType             string `json:"model_type"`
	DoLowerCase           *bool  `json:"do_lower_case"`
}

// loadedModel is an opened model directory
type loadedModel struct {
	tokenizer *WordPiece
	runtime   Runtime
	dimension int
	maxLen    int
	padID     int64
}

// Option configures a LocalProvider
type Option func(*LocalProvider)

// WithRuntime replaces the ONNX Runtime backend
func WithRuntime(f RuntimeFactory) Option {
	return func(l *LocalProvider) { l.runtime = f }
}

// WithMaxSequenceLength caps tokens per text
func WithMaxSequenceLength(n int) Option {
	return func(l *LocalProvider) {
		if n > 2 {
			l.maxSeqLen = n
		}
	}
}

// LocalProvider embeds text with a sentence-transformer installed in a
// model directory. Text is split into WordPiece ids with the model's
// vocabulary, run through the ONNX graph, mean-pooled over the attention
// mask and L2-normalized.
type LocalProvider struct {
	dir       string
	model     string
	cache     *Cache
	runtime   RuntimeFactory
	maxSeqLen int

	mu      sync.Mutex
	loaded  *loadedModel
	loadErr error
}

// NewLocalProvider creates an embedder over dir. It succeeds whether or not
// the artifacts are installed yet; Status tells.
func NewLocalProvider(dir, model string, cache *Cache, opts ...Option) *LocalProvider {
	if model == "" {
		model = DefaultModel
	}
	l := &LocalProvider{
		dir:       dir,
		model:     model,
		cache:     cache,
		runtime:   ONNXRuntime(""),
		maxSeqLen: DefaultMaxSequenceLength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the model directory
func (l *LocalProvider) Dir() string {
	return l.dir
}

// Status reports the artifacts as available when every file is present and
// the model has not failed to load since the last Reset
func (l *LocalProvider) Status() Status {
	status := artifactStatus(l.dir)
	if !status.Available {
		return status
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadErr != nil {
		status.Available = false
		status.Detail = l.loadErr.Error()
	}
	return status
}

// artifactStatus checks the required files and totals the directory size
func artifactStatus(dir string) Status {
	for _, a := range Artifacts {
		info, err := os.Stat(filepath.Join(dir, a.Name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			return Status{}
		}
	}

	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return Status{Available: true, ArtifactSizeMB: float64(total) / (1024 * 1024)}
}

// load returns the opened model, reading artifacts on first use. Artifacts
// that disappear make the model unavailable again. A failed load sticks
// until Reset.
func (l *LocalProvider) load() (*loadedModel, error) {
	if !artifactStatus(l.dir).Available {
		l.unload()
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, l.dir)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded != nil {
		return l.loaded, nil
	}
	if l.loadErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, l.loadErr)
	}

	m, err := l.open()
	if err != nil {
		logger.Warn("embedding model %s unusable: %v", l.model, err)
		l.loadErr = err
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	logger.Debug("loaded embedding model %s (%d tokens, %d dimensions)", l.model, m.tokenizer.Size(), m.dimension)
	l.loaded = m
	return m, nil
}

func (l *LocalProvider) open() (*loadedModel, error) {
	raw, err := os.ReadFile(filepath.Join(l.dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	var cfg modelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	dimension := cfg.HiddenSize
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	maxLen := l.maxSeqLen
	if cfg.MaxPositionEmbeddings > 2 && cfg.MaxPositionEmbeddings < maxLen {
		maxLen = cfg.MaxPositionEmbeddings
	}
	lowerCase := cfg.DoLowerCase == nil || *cfg.DoLowerCase

	f, err := os.Open(filepath.Join(l.dir, "vocab.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer func() { _ = f.Close() }()

	tokenizer, err := LoadVocab(f, lowerCase)
	if err != nil {
		return nil, err
	}
	padID, _ := tokenizer.ID(paddingToken)

	runtime, err := l.runtime(filepath.Join(l.dir, "model.onnx"), dimension)
	if err != nil {
		return nil, err
	}
	return &loadedModel{
		tokenizer: tokenizer,
		runtime:   runtime,
		dimension: dimension,
		maxLen:    maxLen,
		padID:     padID,
	}, nil
}

// embed runs texts through the model as one batch
func (m *loadedModel) embed(texts []string) ([][]float32, error) {
	sequences := make([][]int64, len(texts))
	for i, text := range texts {
		sequences[i] = m.tokenizer.Encode(text, m.maxLen)
	}
	ids, mask, types, seqLen := padBatch(sequences, m.padID)

	states, err := m.runtime.Run(ids, mask, types, len(texts), seqLen)
	if err != nil {
		return nil, err
	}
	if want := len(texts) * seqLen * m.dimension; len(states) != want {
		return nil, fmt.Errorf("model returned %d values, want %d", len(states), want)
	}

	pooled := meanPool(states, mask, len(texts), seqLen, m.dimension)
	for i := range pooled {
		pooled[i] = NormalizeVector(pooled[i])
	}
	return pooled, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := l.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	m, err := l.load()
	if err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var (
		pending []string
		slots   []int
	)
	for i, text := range req.Texts {
		hash := ComputeHash(text)
		if l.cache != nil {
			if emb, ok := l.cache.Get(hash); ok && emb.Dimension == m.dimension {
				embeddings[i] = emb
				continue
			}
		}
		pending = append(pending, text)
		slots = append(slots, i)
	}

	if len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors, err := m.embed(pending)
		if err != nil {
			return nil, err
		}
		for j, vector := range vectors {
			emb := &Embedding{
				Vector:    vector,
				Dimension: len(vector),
				Model:     l.model,
				Hash:      ComputeHash(pending[j]),
			}
			if l.cache != nil {
				cached := *emb
				cached.Vector = append([]float32(nil), vector...)
				l.cache.Set(emb.Hash, &cached)
			}
			embeddings[slots[j]] = emb
		}
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings, Model: l.model}, nil
}

// Dimension returns the loaded model's dimension, or the default before
// the model is available
func (l *LocalProvider) Dimension() int {
	m, err := l.load()
	if err != nil {
		return DefaultDimension
	}
	return m.dimension
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded != nil {
		_ = l.loaded.runtime.Close()
		l.loaded = nil
	}
}

// Reset drops the loaded model, any load failure and cached vectors so the
// next call reads the model directory again
func (l *LocalProvider) Reset() {
	l.unload()
	l.mu.Lock()
	l.loadErr = nil
	l.mu.Unlock()
	if l.cache != nil {
		l.cache.Clear()
	}
}

func (l *LocalProvider) Close() error {
	l.Reset()
	return nil
}

// IsUnavailable reports whether err means the model is not installed
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}
