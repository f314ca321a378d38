// Package enricher looks up bibliographic metadata on Open Library.
//
// A lookup searches by normalized title and first author, falling back to
// title alone, scores each returned work against the query and accepts
// the best one at or above the match threshold. The work's description is
// fetched separately.
//
// Errors:
//   - ErrNotFound: no acceptable match. Terminal, never retried.
//   - ErrTransient: rate limiting, server errors and timeouts that
//     persisted through every retry attempt.
//   - ErrRequest: any other rejected request.
//
// Requests share a client-side rate limiter and each one is bounded by
// its own timeout.
package enricher
