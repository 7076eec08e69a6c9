package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/saribumi/brandreach/internal/model"
)

var (
	bulkChannel  string
	bulkTemplate string
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Dispatch one batch of outreach to pending contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		channel, err := parseChannel(bulkChannel)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sched, err := initScheduler(st)
		if err != nil {
			return err
		}

		report, err := sched.RunBatch(ctx, channel, bulkTemplate)
		if err != nil {
			return err
		}

		if report.Failed > 0 {
			exitCode = 3
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func parseChannel(s string) (model.Channel, error) {
	switch model.Channel(s) {
	case model.ChannelPhone, model.ChannelEmail, model.ChannelSocial:
		return model.Channel(s), nil
	default:
		return "", eris.Errorf("unknown channel: %s", s)
	}
}

func init() {
	bulkCmd.Flags().StringVar(&bulkChannel, "channel", "phone", "contact channel to dispatch on (phone|email|social)")
	bulkCmd.Flags().StringVar(&bulkTemplate, "template", "introduction", "message template id")
	rootCmd.AddCommand(bulkCmd)
}
