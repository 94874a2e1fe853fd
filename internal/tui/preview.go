package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Zuo-Peng/chatmask/internal/mask"
	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/render"
)

// previewRenderedMsg is sent when an async preview render completes.
type previewRenderedMsg struct {
	key     string
	content string
	hitLine int
}

// loadPreviewCmd renders the masked conversation off the update loop.
func loadPreviewCmd(c parse.Conversation, m *mask.Engine, key, query string, width int) tea.Cmd {
	return func() tea.Msg {
		content, hitLine := render.Conversation(c, m, render.Options{
			Width: width,
			Query: query,
		})
		return previewRenderedMsg{key: key, content: content, hitLine: hitLine}
	}
}

// previewCacheKey changes whenever anything shown in the preview may have.
func previewCacheKey(id string, rev int) string {
	return fmt.Sprintf("%s:%d", id, rev)
}

// newViewport creates a new viewport model with the given dimensions.
func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	vp.Style = stylePanelBorder
	return vp
}
