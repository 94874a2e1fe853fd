package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/search"
)

const (
	sColorReset   = "\033[0m"
	sColorBoldRed = "\033[1;31m"
	sColorDim     = "\033[2m"
)

func colorizeSnippet(snippet string) string {
	snippet = strings.ReplaceAll(snippet, ">>>", sColorBoldRed)
	snippet = strings.ReplaceAll(snippet, "<<<", sColorReset)
	return snippet
}

func searchCmd() *cobra.Command {
	var role string
	var limit int
	var selectedOnly bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across loaded conversations",
		Long: `Searches message text with FTS5 (substring match for CJK queries). Output is
TSV: conversation id, message position, role, title, masked snippet.`,
		Args: cobra.ExactArgs(1),
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

			results, err := search.Search(a.db, s.Mask(), search.Options{
				Query:        args[0],
				Role:         role,
				IncludedOnly: selectedOnly,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(os.Stderr, "No results found.")
				return nil
			}

			color := stdoutIsTerminal()
			for _, r := range results {
				snippet := strings.ReplaceAll(r.Snippet, "\t", " ")
				snippet = strings.ReplaceAll(snippet, "\n", " ")
				title := strings.ReplaceAll(r.Title, "\t", " ")
				if color {
					snippet = colorizeSnippet(snippet)
					title = sColorDim + title + sColorReset
				} else {
					snippet = strings.NewReplacer(">>>", "", "<<<", "").Replace(snippet)
				}
				// first two fields stay plain for scripting
				fmt.Printf("%s\t%d\t%s\t%s\t%s\n", r.ConvID, r.Pos, r.Role, title, snippet)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Filter by role (user/assistant/...)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	cmd.Flags().BoolVar(&selectedOnly, "selected", false, "Only search selected conversations")

	return cmd
}
