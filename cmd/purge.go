package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old outreach records and search history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if purgeDays <= 0 {
			return eris.Errorf("days must be > 0, got %d", purgeDays)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.Purge(ctx, time.Duration(purgeDays)*24*time.Hour)
		if err != nil {
			return err
		}

		zap.L().Info("purge complete", zap.Int("removed", removed), zap.Int("days", purgeDays))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]int{"removed": removed})
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 90, "delete outreach and search rows older than this many days")
	rootCmd.AddCommand(purgeCmd)
}
