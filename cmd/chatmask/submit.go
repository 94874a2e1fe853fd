package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/report"
)

func submitCmd() *cobra.Command {
	var participant string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send selected conversations, masked, to the configured collection endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.session()
			if err != nil {
				return err
			}
			p, err := export.Serialize(s.Conversations(), s.Mask())
			if err != nil {
				return err
			}

			if participant == "" {
				participant = a.cfg.ParticipantID
			}
			sub := export.NewSubmission(p, participant, time.Now())
			if err := report.NewSubmitter(a.cfg.SubmitURL, a.log).Submit(cmd.Context(), sub); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Printf("Submitted %d conversations (%d messages), session %s\n",
				sub.TotalConversations, sub.TotalMessages, sub.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "Participant ID (default: participant_id from config)")

	return cmd
}
