package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/render"
)

const (
	lColorDim   = "\033[2m"
	lColorReset = "\033[0m"
)

func listCmd() *cobra.Command {
	var full, selectedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded conversations and their selection state",
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

			color := stdoutIsTerminal()
			width := terminalWidth()
			m := s.Mask()
			for _, c := range s.Conversations() {
				if selectedOnly && !c.Included {
					continue
				}
				if full {
					fmt.Print(render.Preview(c, m, width, color))
					fmt.Println()
					continue
				}
				fmt.Println(render.Line(c, width))
				if len(c.Messages) > 0 {
					snippet := m.Preview(c.Messages[0].Content, 72)
					if color {
						snippet = lColorDim + snippet + lColorReset
					}
					fmt.Println("    " + snippet)
				}
			}
			fmt.Println(s.Counts())
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Show the first messages of each conversation")
	cmd.Flags().BoolVar(&selectedOnly, "selected", false, "Only list selected conversations")

	return cmd
}
