package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/config"
)

var cfg *config.Config

// exitCode is set by commands that finished with partial failures
// (some sources or sends failed) so main can exit 3 instead of 0.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "brandreach",
	Short: "UMKM brand discovery and outreach pipeline",
	Long:  "Discovers Indonesian UMKM beauty brands from web sources, extracts and validates contact identifiers, and dispatches rate-limited WhatsApp outreach.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
