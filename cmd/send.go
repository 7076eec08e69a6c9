package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/model"
)

var sendTemplate string

var sendCmd = &cobra.Command{
	Use:   "send <contact-id>",
	Short: "Send one outreach message to a single contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sched, err := initScheduler(st)
		if err != nil {
			return err
		}

		rec, err := sched.Send(ctx, args[0], sendTemplate)
		if err != nil {
			return err
		}

		if rec.Outcome == model.OutcomeFailed {
			zap.L().Warn("send failed",
				zap.String("contact_id", rec.ContactID),
				zap.String("detail", rec.ErrorDetail),
			)
			exitCode = 3
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTemplate, "template", "introduction", "message template id")
	rootCmd.AddCommand(sendCmd)
}
