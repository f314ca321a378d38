package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/embedder"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the local embedding model",
}

var modelStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the model is installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		status := a.ModelStatus()
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.Config.ModelDir, modelLabel(status.Available, status.ArtifactSizeMB))
		if status.Detail != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", status.Detail)
		}
		return nil
	},
}

var modelDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the model so semantic search becomes available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		errOut := cmd.ErrOrStderr()
		status, err := a.DownloadModel(cmd.Context(), func(p embedder.DownloadProgress) {
			fmt.Fprintf(errOut, "\r%-20s %5.1f%%", p.File, p.Percent)
		})
		fmt.Fprintln(errOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Model %s\n", modelLabel(status.Available, status.ArtifactSizeMB))
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelStatusCmd, modelDownloadCmd)
	rootCmd.AddCommand(modelCmd)
}
