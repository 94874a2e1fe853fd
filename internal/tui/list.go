package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/Zuo-Peng/chatmask/internal/mask"
	"github.com/Zuo-Peng/chatmask/internal/parse"
)

// linesPerItem is the number of terminal lines each conversation occupies.
const linesPerItem = 2

// renderList renders the left panel: the conversation list with scrolling.
func (m model) renderList(width, height int) string {
	if len(m.visible) == 0 {
		msg := "No conversations"
		if m.filter != "" {
			msg = "No matches"
		}
		return lipgloss.NewStyle().
			Foreground(colorDim).
			Width(width).
			Height(height).
			Align(lipgloss.Center, lipgloss.Center).
			Render(msg)
	}

	var lines []string
	for i, c := range m.visible {
		if i < m.listOffset {
			continue
		}
		if len(lines)+linesPerItem > height {
			break
		}
		lines = append(lines, formatItem(c, m.sess.Mask(), width, i == m.cursor)...)
	}

	// Pad remaining lines
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}

	return strings.Join(lines, "\n")
}

// formatItem formats a single conversation as two lines:
//
//	line 1: [>] [x] title (n)
//	line 2:    masked first message (dimmed)
func formatItem(c parse.Conversation, e *mask.Engine, width int, selected bool) []string {
	box := styleIncluded.Render("[x]")
	if !c.Included {
		box = styleExcluded.Render("[ ]")
	}

	title := strings.ReplaceAll(c.Title, "\n", " ")
	count := fmt.Sprintf(" (%d)", len(c.Messages))
	titleMax := width - 2 - 4 - len(count)
	if titleMax < 0 {
		titleMax = 0
	}
	if runewidth.StringWidth(title) > titleMax {
		title = runewidth.Truncate(title, titleMax, "…")
	}

	line1 := fmt.Sprintf("%s %s%s", box, title, count)
	if selected {
		line1 = styleListSelected.Render("> ") + line1
	} else {
		line1 = "  " + line1
	}

	var first string
	if len(c.Messages) > 0 {
		first = e.Apply(c.Messages[0].Content)
	}
	first = strings.ReplaceAll(first, "\n", " ")
	first = strings.ReplaceAll(first, "\t", " ")
	firstMax := width - 4 // indent
	if firstMax < 0 {
		firstMax = 0
	}
	if runewidth.StringWidth(first) > firstMax {
		first = runewidth.Truncate(first, firstMax, "")
	}
	line2 := "    " + lipgloss.NewStyle().Foreground(colorDim).Render(first)

	return []string{line1, line2}
}

// adjustListScroll keeps the cursor visible within the list viewport.
func (m *model) adjustListScroll(listHeight int) {
	visibleItems := listHeight / linesPerItem
	if visibleItems < 1 {
		visibleItems = 1
	}
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+visibleItems {
		m.listOffset = m.cursor - visibleItems + 1
	}
}
