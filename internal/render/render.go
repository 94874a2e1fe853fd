package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/chatmask/internal/parse"
)

const (
	colorReset   = "\033[0m"
	colorUser    = "\033[1;34m" // bold blue
	colorAssist  = "\033[1;32m" // bold green
	colorDim     = "\033[2m"
	colorHit     = "\033[43m"   // yellow background
	colorBoldRed = "\033[1;31m" // bold red for keyword highlights
)

// PreviewMessages is how many messages a conversation preview shows.
const PreviewMessages = 3

// Masker redacts message text before it is displayed.
type Masker interface {
	Apply(text string) string
}

type Options struct {
	Width int    // wrap width (0 = no wrap)
	Query string // highlighted in message text
	Limit int    // messages to show (0 = all)
	Color bool
}

// palette holds the escape codes in use; all empty without color.
type palette struct {
	reset, user, assist, dim, hit, kw string
}

func (o Options) palette() palette {
	if !o.Color {
		return palette{}
	}
	return palette{colorReset, colorUser, colorAssist, colorDim, colorHit, colorBoldRed}
}

// highlightKeywords wraps case-insensitive matches of query terms in kw/reset.
func highlightKeywords(text, query, kw, reset string) string {
	if query == "" || kw == "" {
		return text
	}
	for _, term := range strings.Fields(query) {
		lower := strings.ToLower(term)
		i := 0
		for i < len(text) {
			idx := strings.Index(strings.ToLower(text[i:]), lower)
			if idx < 0 {
				break
			}
			pos := i + idx
			end := pos + len(term)
			if end > len(text) || !strings.EqualFold(text[pos:end], term) {
				// lower-casing changed the byte length; skip past this rune
				_, size := utf8.DecodeRuneInString(text[pos:])
				i = pos + size
				continue
			}
			replacement := kw + text[pos:end] + reset
			text = text[:pos] + replacement + text[end:]
			i = pos + len(replacement)
		}
	}
	return text
}

// indentLines prepends each line of text with the given prefix.
func indentLines(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// wrapLine breaks a single line into multiple lines that fit within maxWidth
// visible columns, correctly skipping ANSI escape sequences when measuring width.
func wrapLine(line string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{line}
	}

	var result []string
	var cur strings.Builder
	visW := 0

	i := 0
	for i < len(line) {
		// check for ANSI escape sequence: ESC[ ... m
		if i+1 < len(line) && line[i] == '\033' && line[i+1] == '[' {
			j := i + 2
			for j < len(line) && line[j] != 'm' {
				j++
			}
			if j < len(line) {
				j++ // include 'm'
			}
			cur.WriteString(line[i:j])
			i = j
			continue
		}

		r, size := utf8.DecodeRuneInString(line[i:])
		rw := runewidth.RuneWidth(r)

		if visW+rw > maxWidth {
			result = append(result, cur.String())
			cur.Reset()
			visW = 0
		}

		cur.WriteRune(r)
		visW += rw
		i += size
	}

	if cur.Len() > 0 {
		result = append(result, cur.String())
	}

	if len(result) == 0 {
		return []string{""}
	}
	return result
}

func roleLabel(role string, p palette) (string, string) {
	switch role {
	case "user":
		return p.user, "USER"
	case "assistant":
		return p.assist, "ASST"
	default:
		return p.dim, strings.ToUpper(role)
	}
}

// Conversation renders c with every message masked by m. It returns the text
// and the 0-based line of the first message containing opts.Query (-1 if none).
func Conversation(c parse.Conversation, m Masker, opts Options) (string, int) {
	p := opts.palette()

	var b strings.Builder
	hitLine := -1
	lineCount := 0
	separator := p.dim + "--------------------------------------------------" + p.reset

	// helper to track line count; wraps long lines if Width is set
	writeLine := func(s string) {
		for _, wl := range wrapLine(s, opts.Width) {
			b.WriteString(wl)
			b.WriteString("\n")
			lineCount++
		}
	}

	mark := "[x]"
	if !c.Included {
		mark = "[ ]"
	}
	writeLine(fmt.Sprintf("%s--- %s %s %s (%d messages) ---%s", p.dim, mark, c.ID, c.Title, len(c.Messages), p.reset))

	if len(c.Messages) == 0 {
		writeLine("(empty conversation)")
		return b.String(), -1
	}

	shown := c.Messages
	if opts.Limit > 0 && len(shown) > opts.Limit {
		shown = shown[:opts.Limit]
	}

	for i, msg := range shown {
		if i > 0 {
			writeLine(separator)
		}

		text := m.Apply(msg.Content)
		isHit := hitLine < 0 && opts.Query != "" && strings.Contains(strings.ToLower(text), strings.ToLower(opts.Query))
		if isHit {
			hitLine = lineCount
		}

		color, label := roleLabel(msg.Role, p)
		ts := msg.Timestamp.String()
		if isHit && opts.Color {
			writeLine(fmt.Sprintf("%s>> %s > %s <<%s", p.hit, label, ts, p.reset))
		} else {
			writeLine(strings.TrimRight(fmt.Sprintf("%s%s >%s %s%s%s", color, label, p.reset, p.dim, ts, p.reset), " "))
		}

		text = highlightKeywords(text, opts.Query, p.kw, p.reset)
		for _, tl := range strings.Split(indentLines(text, "  "), "\n") {
			writeLine(tl)
		}
		writeLine("") // blank line after message
	}

	if more := len(c.Messages) - len(shown); more > 0 {
		writeLine(fmt.Sprintf("%s+ %d more messages%s", p.dim, more, p.reset))
	}

	return b.String(), hitLine
}

// Preview renders the first PreviewMessages messages of c, masked.
func Preview(c parse.Conversation, m Masker, width int, color bool) string {
	s, _ := Conversation(c, m, Options{Width: width, Limit: PreviewMessages, Color: color})
	return s
}

// Line is a one-line summary of c for listings: selection mark, id, title
// and message count, truncated to width columns.
func Line(c parse.Conversation, width int) string {
	mark := "[x]"
	if !c.Included {
		mark = "[ ]"
	}
	s := fmt.Sprintf("%s %-8s %s (%d)", mark, c.ID, c.Title, len(c.Messages))
	if width > 0 && runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return s
}
