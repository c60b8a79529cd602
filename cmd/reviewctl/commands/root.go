package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/reco-agent/backend/internal/app"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "reviewctl",
	Short: "Operate the product review assistant",
	Long: `reviewctl loads reviews into the assistant's store and index, cleans stored reviews,
and asks questions or runs research sessions against them from the terminal.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// buildApp loads configuration and connects every backend.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	// keep stdout for command output
	if err := logger.Init(level, "console", "stderr"); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	return app.Build(ctx, cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
