package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	flagExportEnrichment bool
	flagClearAll         bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog coverage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		stats, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		model := a.ModelStatus()

		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, map[string]any{"statistics": stats, "model": model})
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "books\t%d\n", stats.TotalRecords)
		fmt.Fprintf(tw, "enriched\t%d\n", stats.EnrichedCount)
		fmt.Fprintf(tw, "not found\t%d\n", stats.NotFoundCount)
		fmt.Fprintf(tw, "embedded\t%d\n", stats.EmbeddedCount)
		fmt.Fprintf(tw, "model\t%s\n", modelLabel(model.Available, model.ArtifactSizeMB))
		return tw.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.csv>",
	Short: "Write the catalog as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.ExportFile(cmd.Context(), path, flagExportEnrichment)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d books to %s\n", n, path)
		return nil
	},
}

var clearEnrichmentCmd = &cobra.Command{
	Use:   "clear-enrichment [id...]",
	Short: "Forget looked-up details so the next sync fetches them again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !flagClearAll {
			return fmt.Errorf("name the books to clear or pass --all")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.ClearEnrichment(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared enrichment for %d books\n", n)
		return nil
	},
}

func init() {
	exportCmd.Flags().BoolVar(&flagExportEnrichment, "enrichment", false, "include description, subjects, ISBN and year")
	clearEnrichmentCmd.Flags().BoolVar(&flagClearAll, "all", false, "clear every book")
	rootCmd.AddCommand(statsCmd, exportCmd, clearEnrichmentCmd)
}

func modelLabel(available bool, sizeMB float64) string {
	if !available {
		return "not installed"
	}
	return fmt.Sprintf("installed (%.1f MB)", sizeMB)
}
