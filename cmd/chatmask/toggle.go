package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func toggleCmd() *cobra.Command {
	var all, none bool

	cmd := &cobra.Command{
		Use:   "toggle [id...]",
		Short: "Flip whether conversations are included in the export",
		Long:  `Flips the selection of each given conversation. --all and --none select or deselect everything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && none {
				return fmt.Errorf("--all and --none are mutually exclusive")
			}
			if !all && !none && len(args) == 0 {
				return fmt.Errorf("give conversation ids, --all or --none")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.session()
			if err != nil {
				return err
			}

			switch {
			case all:
				s.SetAll(true)
			case none:
				s.SetAll(false)
			}
			for _, id := range args {
				included, err := s.Toggle(id)
				if err != nil {
					return fmt.Errorf("%w: %s", err, id)
				}
				mark := "[ ]"
				if included {
					mark = "[x]"
				}
				fmt.Printf("%s %s\n", mark, id)
			}

			if err := a.db.SaveSelection(s); err != nil {
				return fmt.Errorf("save selection: %w", err)
			}
			fmt.Println(s.Counts())
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Select every conversation")
	cmd.Flags().BoolVar(&none, "none", false, "Deselect every conversation")

	return cmd
}
