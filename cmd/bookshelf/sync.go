package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/pipeline"
	"github.com/dshills/bookshelf-mcp/pkg/types"
)

var flagSyncSource string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import an export and bring enrichment and embeddings up to date",
	Long: `Import a saved Kindle library page, web archive, .mhtml file or Amazon data
export folder, then look up details for new books and embed them.
Without --source only the outstanding enrichment and embedding work runs.
Interrupting the command keeps everything saved so far.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&flagSyncSource, "source", "s", "", "library export to import")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	sink := func(p types.Progress) {
		if p.Current != nil && p.Total != nil {
			fmt.Fprintf(errOut, "[%s %d/%d] %s\n", p.Stage, *p.Current, *p.Total, p.Message)
			return
		}
		fmt.Fprintf(errOut, "[%s] %s\n", p.Stage, p.Message)
	}

	result, err := a.Sync(cmd.Context(), flagSyncSource, sink)
	if result != nil {
		if flagJSON {
			_ = printJSON(out, result)
		} else {
			printSyncResult(cmd, result)
		}
	}
	return err
}

func printSyncResult(cmd *cobra.Command, r *pipeline.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", r.RunID)
	fmt.Fprintf(out, "  imported:      %d (%d skipped)\n", r.Imported, r.SkippedCandidates)
	fmt.Fprintf(out, "  enriched:      %d (%d not found, %d failed)\n", r.Enriched, r.NotFound, r.EnrichFailed)
	fmt.Fprintf(out, "  embedded:      %d (%d failed)\n", r.Embedded, r.EmbedFailed)
	if r.EmbedSkipped {
		fmt.Fprintln(out, "  embedding skipped: model not installed (run \"bookshelf model download\")")
	}
	if r.Cancelled {
		fmt.Fprintln(out, "  cancelled before completion")
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
}
