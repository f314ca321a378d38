// Package searcher answers read queries against the book catalog.
//
// Two retrieval modes are offered plus a mode-independent browse path:
//   - Semantic: embed the query, scan stored vectors for the nearest
//     books, attach distance and a 0-100 score
//   - FTS (alias "keyword"): FTS5 match ranked by bm25, attach rank
//   - Browse: structured filters, sort and pagination straight from storage
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, searcher.Options{CacheTTL: 10 * time.Minute})
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query: "desert planet politics",
//	    Limit: 20,
//	})
//
//	for _, book := range resp.Results {
//	    fmt.Printf("%s (%d)\n", book.Title, *book.Score)
//	}
//
// # Mode Selection
//
// An empty Mode consults the embedder's Status on every call. When the
// model is installed the query runs semantically; otherwise it runs as a
// keyword query and the response reports FellBack=true. Pinning
// ModeSemantic while the model is missing returns an empty result list
// rather than an error.
//
// Books without a stored vector are never returned by semantic search. They
// remain reachable through keyword search and Browse.
//
// # Scoring
//
// Vectors are unit length and distance is cosine distance in [0, 2]. The
// display score is round((2 - distance) * 50), so identical texts score 100
// and orthogonal ones 50.
//
// # Caching
//
// Responses are cached in an LRU keyed by query, resolved mode and limit
// for Options.CacheTTL. A zero TTL disables the cache. Anything that writes
// the catalog should call InvalidateCache afterwards.
package searcher
