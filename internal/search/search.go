package search

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/Zuo-Peng/chatmask/internal/store"
)

// Masker redacts snippet text.
type Masker interface {
	Apply(text string) string
}

type Result struct {
	ConvID   string
	Title    string
	Pos      int
	Role     string
	Included bool
	Snippet  string // masked, match wrapped in >>> <<<
	Rank     float64
}

type Options struct {
	Query        string
	Role         string // "" = all, "user", "assistant", ...
	IncludedOnly bool
	Limit        int
}

// containsCJK returns true if the string contains any CJK Unified Ideograph.
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// ftsPhrase quotes q as a single FTS5 phrase so user punctuation is literal.
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// makeSnippet cuts a window around the first case-insensitive occurrence of
// query in text and returns the same window of masked. Masking keeps rune
// positions, so the window lines up with the raw text.
func makeSnippet(text, masked, query string, contextChars int) string {
	runes := []rune(text)
	mrunes := []rune(masked)

	runePos, qLen := indexFold(runes, []rune(query))
	if len(mrunes) != len(runes) {
		runePos = -1
	}
	if runePos < 0 {
		// no match, return head
		if len(mrunes) > contextChars*2 {
			return string(mrunes[:contextChars*2]) + "..."
		}
		return string(mrunes)
	}
	start := runePos - contextChars
	if start < 0 {
		start = 0
	}
	end := runePos + qLen + contextChars
	if end > len(mrunes) {
		end = len(mrunes)
	}
	prefix := ""
	suffix := ""
	if start > 0 {
		prefix = "..."
	}
	if end < len(mrunes) {
		suffix = "..."
	}
	// wrap the matched part with markers
	snippet := string(mrunes[start:runePos]) +
		">>>" + string(mrunes[runePos:runePos+qLen]) + "<<<" +
		string(mrunes[runePos+qLen:end])
	return prefix + snippet + suffix
}

// indexFold finds needle in hay ignoring case, in runes.
func indexFold(hay, needle []rune) (int, int) {
	if len(needle) == 0 {
		return -1, 0
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j, r := range needle {
			if unicode.ToLower(hay[i+j]) != unicode.ToLower(r) {
				continue outer
			}
		}
		return i, len(needle)
	}
	return -1, 0
}

// Search finds messages containing the query and returns at most one hit per
// conversation, best first. Snippets are masked with m.
func Search(db *store.DB, m Masker, opts Options) ([]Result, error) {
	opts.Query = strings.TrimSpace(opts.Query)
	if opts.Query == "" {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	// Fetch more results before dedup so we still have enough after
	origLimit := opts.Limit
	opts.Limit = origLimit * 3

	var (
		rows *sql.Rows
		err  error
	)
	if containsCJK(opts.Query) {
		rows, err = queryLike(db, opts)
	} else {
		rows, err = queryFTS(db, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	// Deduplicate: keep only the best-ranked result per conversation
	seen := make(map[string]bool)
	var results []Result
	for rows.Next() {
		var (
			r    Result
			text string
		)
		if err := rows.Scan(&r.ConvID, &r.Title, &r.Pos, &r.Role, &r.Included, &text, &r.Rank); err != nil {
			return nil, err
		}
		if seen[r.ConvID] {
			continue
		}
		seen[r.ConvID] = true
		r.Snippet = makeSnippet(text, m.Apply(text), opts.Query, 30)
		results = append(results, r)
		if len(results) >= origLimit {
			break
		}
	}
	return results, rows.Err()
}

func filters(opts Options) ([]string, []any) {
	var conditions []string
	var args []any
	if opts.Role != "" {
		conditions = append(conditions, "m.role = ?")
		args = append(args, opts.Role)
	}
	if opts.IncludedOnly {
		conditions = append(conditions, "c.included = 1")
	}
	return conditions, args
}

func queryFTS(db *store.DB, opts Options) (*sql.Rows, error) {
	conditions := []string{"messages_fts MATCH ?"}
	args := []any{ftsPhrase(opts.Query)}
	more, moreArgs := filters(opts)
	conditions = append(conditions, more...)
	args = append(args, moreArgs...)

	query := fmt.Sprintf(`
		SELECT m.conv_id, c.title, m.pos, m.role, c.included, m.content,
			bm25(messages_fts) AS rank
		FROM messages_fts
		JOIN messages m ON messages_fts.rowid = m.rowid
		JOIN conversations c ON c.id = m.conv_id
		WHERE %s
		ORDER BY rank
		LIMIT ?
	`, strings.Join(conditions, " AND "))
	args = append(args, opts.Limit)
	return db.Raw().Query(query, args...)
}

func queryLike(db *store.DB, opts Options) (*sql.Rows, error) {
	// LIKE match for CJK substring search
	conditions := []string{"m.content LIKE ? ESCAPE '\\'"}
	args := []any{"%" + escapeLike(opts.Query) + "%"}
	more, moreArgs := filters(opts)
	conditions = append(conditions, more...)
	args = append(args, moreArgs...)

	query := fmt.Sprintf(`
		SELECT m.conv_id, c.title, m.pos, m.role, c.included, m.content,
			0.0 AS rank
		FROM messages m
		JOIN conversations c ON c.id = m.conv_id
		WHERE %s
		ORDER BY c.seq, m.pos
		LIMIT ?
	`, strings.Join(conditions, " AND "))
	args = append(args, opts.Limit)
	return db.Raw().Query(query, args...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
