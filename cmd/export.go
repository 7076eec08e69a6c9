package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the contact snapshot as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.Snapshot(ctx)
		if err != nil {
			return err
		}

		if exportOut == "" {
			return export.WriteCSV(os.Stdout, rows)
		}

		if err := export.WriteFile(exportOut, rows); err != nil {
			return err
		}
		zap.L().Info("snapshot exported",
			zap.String("path", exportOut),
			zap.Int("rows", len(rows)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (.csv or .xlsx, default CSV to stdout)")
	rootCmd.AddCommand(exportCmd)
}
