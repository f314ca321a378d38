package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/bookshelf-mcp/internal/app"
	"github.com/dshills/bookshelf-mcp/internal/config"
	"github.com/dshills/bookshelf-mcp/internal/logger"
)

var (
	flagConfig  string
	flagVerbose bool
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "bookshelf",
	Short:         "Search your Kindle library by meaning",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `bookshelf imports a Kindle library export into a local SQLite catalog,
fills in descriptions and subjects from Open Library, embeds every book with
a local model, and answers semantic or keyword queries. Run "bookshelf serve"
to expose the catalog to an MCP client.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.bookshelf/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

// loadConfig reads settings and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	logger.SetVerbose(cfg.Verbose)
	return cfg, nil
}

// openApp loads settings and opens the library. The caller closes it.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.Debug("database: %s", cfg.DBPath)
	return app.New(cfg, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
