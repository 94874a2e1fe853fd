package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/report"
)

func helpRequestCmd() *cobra.Command {
	var email, message string

	cmd := &cobra.Command{
		Use:   "help-request",
		Short: "Send a support request to the configured help endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := report.NewHelp(a.cfg.HelpURL, a.log).Send(cmd.Context(), email, message); err != nil {
				return fmt.Errorf("help request: %w", err)
			}
			fmt.Println("Message sent.")
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Your email address")
	cmd.Flags().StringVar(&message, "message", "", "What went wrong")

	return cmd
}
