package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/ingest"
	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/report"
)

func ingestCmd() *cobra.Command {
	var sortByTime bool

	cmd := &cobra.Command{
		Use:   "ingest <export.zip>",
		Short: "Load conversations from a ChatGPT data export",
		Long: `Reads a ChatGPT data export ZIP, extracts every conversation it can find
and stores them as the current session. Every conversation starts selected;
existing mask rules are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			in := &ingest.Ingester{
				Logger:   a.log,
				Reporter: report.NewDiagnostics(a.cfg.DiagnosticsURL, a.cfg.ParticipantID, a.log),
				Options:  parse.Options{SortByCreateTime: a.cfg.SortByCreateTime || sortByTime},
			}

			path := args[0]
			res, err := in.IngestFile(cmd.Context(), path)
			if err != nil {
				var aerr *archive.Error
				if errors.As(err, &aerr) || errors.Is(err, ingest.ErrEmptyResult) {
					return fmt.Errorf("%w\n%s", err, ingest.Hint)
				}
				return err
			}

			src := archive.Source{Name: filepath.Base(path)}
			if info, err := os.Stat(path); err == nil {
				src.Size = info.Size()
			}
			if err := a.db.ReplaceConversations(res.Conversations, src, time.Now()); err != nil {
				return fmt.Errorf("save conversations: %w", err)
			}

			for _, ee := range res.Recovered {
				fmt.Fprintf(os.Stderr, "skipped %s: %v\n", ee.Name, ee.Err)
			}
			fmt.Printf("Loaded %d conversations (%d messages) from %s\n",
				len(res.Conversations), res.Stats.Normalize.Messages, src.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sortByTime, "sort-by-time", false, "Order messages by create_time when every message has one")

	return cmd
}
