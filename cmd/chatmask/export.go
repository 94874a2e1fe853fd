package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/open"
)

func exportCmd() *cobra.Command {
	var out string
	var openAfter bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write selected conversations, masked, to a JSON file",
		Long: `Writes every selected conversation with mask rules applied to
chatgpt-export-filtered-YYYY-MM-DD.json in export_dir, or to --output.`,
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
			p, err := export.Serialize(s.Conversations(), s.Mask())
			if err != nil {
				return err
			}
			path, err := export.Write(p, a.cfg.ExportDir, out, time.Now())
			if err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Printf("Exported %d conversations (%d messages) to %s\n", len(p), p.MessageCount(), path)
			if openAfter {
				return open.File(path, 1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: dated file in export_dir)")
	cmd.Flags().BoolVar(&openAfter, "open", false, "Open the written file in $EDITOR")

	return cmd
}
