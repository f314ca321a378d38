package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/logger"
	"github.com/dshills/bookshelf-mcp/internal/mcp"
	"github.com/dshills/bookshelf-mcp/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		logger.Info("bookshelf %s starting (driver %s, build %s)", version, storage.DriverName, storage.BuildMode)
		if !a.ModelStatus().Available {
			logger.Warn("embedding model not installed; search falls back to keywords until download_model runs")
		}

		err = mcp.NewServer(a).Serve(cmd.Context())
		logger.Info("server stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
