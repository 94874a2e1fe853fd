package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/config"
	"github.com/Zuo-Peng/chatmask/internal/scan"
	"github.com/Zuo-Peng/chatmask/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [export.zip]",
		Short: "Self-check: verify config, DB, FTS5, endpoints and optionally an archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			fmt.Println("=== Endpoints ===")
			checkURL("Submit", cfg.SubmitURL)
			checkURL("Diagnostics", cfg.DiagnosticsURL)
			checkURL("Help", cfg.HelpURL)

			if len(args) == 1 {
				fmt.Println("\n=== Archive ===")
				checkArchive(args[0])
			}

			fmt.Println("\n=== Database ===")
			fmt.Printf("  Path: %s\n", cfg.DBPath)
			if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
				fmt.Println("  Status: NOT FOUND (run 'chatmask ingest' first)")
				return nil
			}

			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			convCount, err := db.ConversationCount()
			if err != nil {
				return fmt.Errorf("count conversations: %w", err)
			}
			msgCount, err := db.MessageCount()
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}
			rules, err := db.Rules()
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}

			fmt.Printf("  Conversations: %d\n", convCount)
			fmt.Printf("  Messages:      %d\n", msgCount)
			fmt.Printf("  Mask rules:    %d\n", len(rules))
			if src, err := db.Source(); err == nil && src.Name != "" {
				fmt.Printf("  Source:        %s (%s bytes, ingested %s)\n", src.Name, src.Size, src.IngestedAt)
			}

			fmt.Println("\n=== FTS5 ===")
			var ftsCount int
			err = db.Raw().QueryRow("SELECT COUNT(*) FROM messages_fts").Scan(&ftsCount)
			if err != nil {
				fmt.Printf("  FTS5 error: %v\n", err)
			} else {
				fmt.Printf("  FTS5 entries: %d\n", ftsCount)
				if ftsCount == msgCount {
					fmt.Println("  Status: OK (synced)")
				} else {
					fmt.Printf("  Status: MISMATCH (messages=%d, fts=%d)\n", msgCount, ftsCount)
				}
			}

			if info, err := os.Stat(cfg.DBPath); err == nil {
				sizeMB := float64(info.Size()) / 1024 / 1024
				fmt.Printf("\n=== DB Size: %.1f MB ===\n", sizeMB)
			}

			return nil
		},
	}
}

func checkURL(name, url string) {
	if url == "" {
		fmt.Printf("  %s: not configured\n", name)
		return
	}
	fmt.Printf("  %s: %s\n", name, url)
}

// checkArchive lists what ingestion would look at without parsing anything.
func checkArchive(path string) {
	a, err := archive.OpenFile(path)
	if err != nil {
		fmt.Printf("  %v\n", err)
		return
	}
	candidates, stats := scan.Candidates(a.Entries())
	fmt.Printf("  %s: %d bytes\n", a.Source.Name, a.Source.Size)
	fmt.Printf("  %s\n", stats)
	for _, e := range candidates {
		fmt.Printf("    %s\n", e.Name)
	}
}
