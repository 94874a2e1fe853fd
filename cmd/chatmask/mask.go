package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/mask"
)

func maskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Manage mask rules",
		Long: `Mask rules are case-insensitive literal texts. Every occurrence in message
content is replaced with one block character per character before display,
search snippets and export.`,
	}
	cmd.AddCommand(maskAddCmd(), maskRmCmd(), maskLsCmd())
	return cmd
}

// editRules applies fn to the stored rule set and saves it.
func editRules(fn func(e *mask.Engine) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.db.Rules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	e := mask.New(rules...)
	if err := fn(e); err != nil {
		return err
	}
	return a.db.SaveRules(e.Patterns())
}

func maskAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>...",
		Short: "Add mask rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRules(func(e *mask.Engine) error {
				for _, p := range args {
					if e.AddRule(p) {
						fmt.Printf("+ %s\n", mask.Normalize(p))
					} else {
						fmt.Printf("= %s (already present or empty)\n", mask.Normalize(p))
					}
				}
				return nil
			})
		},
	}
}

func maskRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <text>...",
		Short: "Remove mask rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRules(func(e *mask.Engine) error {
				for _, p := range args {
					if !e.RemoveRule(p) {
						return fmt.Errorf("no such rule: %s", mask.Normalize(p))
					}
					fmt.Printf("- %s\n", mask.Normalize(p))
				}
				return nil
			})
		},
	}
}

func maskLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List mask rules in the order they apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.db.Rules()
			if err != nil {
				return err
			}
			for _, r := range rules {
				fmt.Println(r)
			}
			return nil
		},
	}
}
