// Package types provides shared type definitions for the bookshelf server.
//
// These types cross package boundaries: the source adapter produces
// Candidates, the store persists them as Records with an optional
// Enrichment, and the query engine returns hydrated Books.
//
// # Core Types
//
// Candidate is a raw entry parsed from a library export, before import:
//
//	c := types.Candidate{
//	    ID:      "B00ABC1234",
//	    Title:   "Dune",
//	    Authors: []string{"Frank Herbert"},
//	}
//
// Book is the hydrated read view of a Record. Enrichment is nil until the
// record has been enriched; Distance and Rank are set only by semantic and
// keyword search respectively:
//
//	if book.Enrichment == nil {
//	    // not yet enriched, still browsable and keyword-searchable
//	}
//
// # Progress
//
// Progress events are emitted by the sync pipeline for each stage. Current and
// Total are nil when a stage has no countable work.
package types
