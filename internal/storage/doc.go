// Package storage provides SQLite-based persistence for the book catalog.
//
// The storage layer manages:
//   - Records imported from a library export
//   - Enrichment metadata from the catalog service
//   - Enrichment misses (definitive "no match" answers)
//   - Vector embeddings with the model and text recipe that produced them
//   - A full-text index over titles, authors, descriptions and subjects
//
// # Database Schema
//
// Tables:
//   - records: one row per identifier, never overwritten by re-import
//   - enrichments: at most one per record, cascades with the record
//   - enrichment_misses: attempt count and time of the last no-match
//   - embeddings: little-endian float32 BLOBs, at most one per record
//   - records_fts: FTS5 index kept current by triggers on records and enrichments
//   - schema_version: applied migration versions
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.bookshelf/library.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	inserted, err := db.UpsertRecords(ctx, candidates)
//
//	for book, err := range db.MissingEnrichment(ctx, storage.MissingOptions{}) {
//	    if err != nil {
//	        return err
//	    }
//	    // look up and SaveEnrichment
//	}
//
// # Work Queues
//
// MissingEnrichment and MissingEmbedding walk the catalog in identifier
// order one page at a time. Calling them again starts a fresh walk, so a
// sync interrupted halfway resumes where the data left off.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler. Build
// with the sqlite_cgo tag to use github.com/mattn/go-sqlite3 instead:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo sqlite_fts5"
//
// Vector search is an exact scan in Go under both drivers.
package storage
