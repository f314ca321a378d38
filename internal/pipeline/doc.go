// Package pipeline runs a library sync: import, enrich, embed.
//
// # Basic Usage
//
//	p := pipeline.New(store, catalog, emb, pipeline.NewFileLease(dbPath+".sync.lock"), pipeline.Config{})
//
//	export, _ := source.Open("~/Downloads/kindle.webarchive")
//	result, err := p.RunSync(ctx, export, func(e types.Progress) {
//	    fmt.Println(e.Stage, e.Message)
//	})
//
//	fmt.Printf("%d imported, %d enriched, %d embedded\n",
//	    result.Imported, result.Enriched, result.Embedded)
//
// # Stages
//
// Stages run strictly in order and each is skipped when it has no work:
//
//  1. Import: insert-if-absent of the export's candidates. Skipped when
//     RunSync is given a nil Source (resume-only mode).
//  2. Enrich: one catalog lookup per record lacking enrichment. A definite
//     miss is remembered and looked up again on the next sync, unless
//     RetryNotFoundAfter sets a cooldown.
//  3. Embed: records lacking a vector for the current model and recipe,
//     BatchSize at a time. Skipped without error while the model is not
//     installed.
//
// Only an unreadable source or a failed import aborts the run. Everything
// after that is counted per record and reported in the Result, with the
// first MaxErrors messages kept.
//
// # Exclusivity
//
// One sync runs at a time per Lease. MemoryLease covers a single process;
// FileLease also holds an advisory lock file so that a CLI sync and a
// running server cannot interleave on the same database.
//
// # Cancellation
//
// Cancellation is checked between records and between batches. A lookup or
// batch already started finishes and is saved. RunSync then returns the
// partial Result with Cancelled set together with the context error.
package pipeline
