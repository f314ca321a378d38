package embedder

// Config holds embedder configuration
type Config struct {
	ModelDir  string
	Model     string
	CacheSize int

	// RuntimeLibrary is the ONNX Runtime shared library; empty uses the
	// platform default
	RuntimeLibrary string
}

// New creates the local embedder described by cfg
func New(cfg Config, opts ...Option) *LocalProvider {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	opts = append([]Option{WithRuntime(ONNXRuntime(cfg.RuntimeLibrary))}, opts...)
	return NewLocalProvider(cfg.ModelDir, cfg.Model, cache, opts...)
}
