package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/render"
)

func showCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one conversation with mask rules applied",
		Args:  cobra.ExactArgs(1),
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
			c, err := s.Get(args[0])
			if err != nil {
				return fmt.Errorf("%w: %s", err, args[0])
			}

			out, _ := render.Conversation(c, s.Mask(), render.Options{
				Width: terminalWidth(),
				Query: query,
				Color: stdoutIsTerminal(),
			})
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Highlight this text")

	return cmd
}
