// Package embedder turns book text into unit-length vectors using a model
// installed on the local machine.
//
// # Availability
//
// The model is a directory of artifacts from
// sentence-transformers/all-MiniLM-L6-v2: config.json, vocab.txt and the
// model.onnx weights. Status inspects that directory on every call, so
// installing or removing the files takes effect without a restart:
//
//	emb := embedder.New(embedder.Config{ModelDir: dir, CacheSize: 10000})
//	if !emb.Status().Available {
//	    // skip embedding, search falls back to keywords
//	}
//
// Without the artifacts GenerateEmbedding and GenerateBatch return
// ErrModelUnavailable, as they do when the weights fail to load.
//
// # Inference
//
// Texts are WordPiece-encoded with the model's vocabulary, padded into one
// batch and run through ONNX Runtime. The last hidden state is averaged
// over the attention mask and L2-normalized, matching the
// sentence-transformers pooling for this model. ONNX Runtime needs a cgo
// build and its shared library; Config.RuntimeLibrary points at it.
//
// # Batch Processing
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{embedder.Text(book1), embedder.Text(book2)},
//	})
//
// Vectors come back in request order and are cached by text hash.
//
// # Text Recipe
//
// Text renders a book as "Title. by A, B. Description. Subjects: X, Y".
// The layout is versioned by RecipeVersion; stored vectors made under
// another version count as missing and are recomputed.
//
// # Installing the Model
//
// Downloader fetches the artifact files two at a time, each bounded by a
// timeout and retried, and reports DownloadProgress per file.
package embedder
