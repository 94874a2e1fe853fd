package main

import (
	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/tui"
)

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Interactively select conversations and add mask rules",
		Long: `Opens a TUI listing every loaded conversation with a masked preview.
Space toggles a conversation, a/n select all or none, m adds a mask rule,
/ filters, y copies the masked conversation. Changes are saved on exit.`,
		Args: cobra.NoArgs,
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
			return tui.Run(s, a.db)
		},
	}
}
