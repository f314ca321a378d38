package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
	"github.com/dshills/bookshelf-mcp/internal/storage"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bookshelf %s\n", version)
		fmt.Fprintf(out, "Build Time:     %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode:     %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver:  %s\n", storage.DriverName)
		fmt.Fprintf(out, "Embed Recipe:   %s\n", embedder.RecipeVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
