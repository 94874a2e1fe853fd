package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/render"
	"github.com/Zuo-Peng/chatmask/internal/search"
	"github.com/Zuo-Peng/chatmask/internal/session"
	"github.com/Zuo-Peng/chatmask/internal/store"
)

const debounceDelay = 200 * time.Millisecond

// filterLimit caps how many search hits feed the list filter.
const filterLimit = 1000

type tuiMode int

const (
	modeBrowse tuiMode = iota
	modeFilter
	modeRule
)

// message types

type filterResultMsg struct {
	query string
	ids   map[string]bool
	err   error
}

type debounceTickMsg struct {
	query string
}

// model

type model struct {
	sess       *session.Session
	db         *store.DB // nil: filter in memory
	mode       tuiMode
	input      textinput.Model
	filter     string
	matches    map[string]bool // nil: no filter
	visible    []parse.Conversation
	cursor     int
	listOffset int
	preview    viewport.Model
	previewKey string
	rev        int // bumped on every selection or rule change
	notice     string
	width      int
	height     int
	ready      bool
	quitting   bool
	copy       func(string) error
}

func initialModel(sess *session.Session, db *store.DB) model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.PromptStyle = styleInputPrompt
	ti.TextStyle = styleInput
	ti.CharLimit = 256

	m := model{
		sess:    sess,
		db:      db,
		input:   ti,
		preview: viewport.New(0, 0),
		copy:    clipboard.WriteAll,
	}
	m.refresh()
	return m
}

// Run starts the review TUI and blocks until it exits. Selection and mask
// rules are saved to db on exit when db is not nil.
func Run(sess *session.Session, db *store.DB) error {
	m := initialModel(sess, db)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if db != nil {
		if err := db.SaveSelection(sess); err != nil {
			return fmt.Errorf("save selection: %w", err)
		}
	}
	fmt.Println(sess.Counts())
	return nil
}

// Init loads the first preview.
func (m model) Init() tea.Cmd {
	return m.loadCurrentPreview()
}

// Update handles messages.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.preview = newViewport(m.previewWidth(), m.panelHeight())
		m.previewKey = ""
		return m, m.loadCurrentPreview()

	case tea.KeyMsg:
		if m.mode != modeBrowse {
			return m.updateInput(msg)
		}
		m.notice = ""

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.adjustListScroll(m.panelHeight())
			}
			return m, m.loadCurrentPreview()

		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.visible)-1 {
				m.cursor++
				m.adjustListScroll(m.panelHeight())
			}
			return m, m.loadCurrentPreview()

		case key.Matches(msg, keys.Toggle):
			if c, ok := m.current(); ok {
				m.sess.Toggle(c.ID)
				m.changed()
			}
			return m, m.loadCurrentPreview()

		case key.Matches(msg, keys.All):
			m.sess.SetAll(true)
			m.changed()
			return m, m.loadCurrentPreview()

		case key.Matches(msg, keys.None):
			m.sess.SetAll(false)
			m.changed()
			return m, m.loadCurrentPreview()

		case key.Matches(msg, keys.Mask):
			m.mode = modeRule
			m.input.Placeholder = "text to mask (-text removes a rule)"
			m.input.SetValue("")
			return m, m.input.Focus()

		case key.Matches(msg, keys.Filter):
			m.mode = modeFilter
			m.input.Placeholder = "Filter..."
			m.input.SetValue(m.filter)
			m.input.CursorEnd()
			return m, m.input.Focus()

		case key.Matches(msg, keys.Copy):
			m.copyCurrent()
			return m, nil

		case key.Matches(msg, keys.PreviewUp):
			m.preview.LineUp(m.panelHeight() / 2)
			return m, nil

		case key.Matches(msg, keys.PreviewDn):
			m.preview.LineDown(m.panelHeight() / 2)
			return m, nil

		case key.Matches(msg, keys.PageUp):
			m.preview.LineUp(m.panelHeight())
			return m, nil

		case key.Matches(msg, keys.PageDown):
			m.preview.LineDown(m.panelHeight())
			return m, nil
		}
		return m, nil

	case tea.MouseMsg:
		if !m.ready || len(m.visible) == 0 {
			return m, nil
		}

		region, itemIdx := m.hitTest(msg.X, msg.Y)

		switch {
		case region == regionList && msg.Button == tea.MouseButtonWheelUp:
			if m.listOffset > 0 {
				m.listOffset--
			}
			return m, nil

		case region == regionList && msg.Button == tea.MouseButtonWheelDown:
			visibleItems := m.panelHeight() / linesPerItem
			maxOffset := len(m.visible) - visibleItems
			if maxOffset < 0 {
				maxOffset = 0
			}
			if m.listOffset < maxOffset {
				m.listOffset++
			}
			return m, nil

		case region == regionList && msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress:
			if itemIdx >= 0 && itemIdx < len(m.visible) && m.cursor != itemIdx {
				m.cursor = itemIdx
				m.adjustListScroll(m.panelHeight())
				cmds = append(cmds, m.loadCurrentPreview())
			}
			return m, tea.Batch(cmds...)

		case region == regionPreview && (msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown):
			var vpCmd tea.Cmd
			m.preview, vpCmd = m.preview.Update(msg)
			return m, vpCmd
		}
		return m, nil

	case debounceTickMsg:
		// Only fire if the filter hasn't changed since the tick was scheduled
		if msg.query == m.filter {
			return m, m.doFilter(msg.query)
		}
		return m, nil

	case filterResultMsg:
		if msg.query != m.filter {
			return m, nil
		}
		if msg.err != nil {
			m.notice = "filter: " + msg.err.Error()
			return m, nil
		}
		m.matches = msg.ids
		m.cursor = 0
		m.listOffset = 0
		m.refresh()
		return m, m.loadCurrentPreview()

	case previewRenderedMsg:
		if msg.key != m.currentKey() {
			return m, nil // stale preview
		}
		m.preview.SetContent(msg.content)
		if msg.hitLine > 0 {
			m.preview.SetYOffset(msg.hitLine)
		} else {
			m.preview.GotoTop()
		}
		m.previewKey = msg.key
		return m, nil
	}

	return m, tea.Batch(cmds...)
}

// updateInput handles keys while the filter or rule input has focus.
func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		if m.mode == modeFilter {
			m.filter = ""
			m.matches = nil
			m.refresh()
		}
		m.mode = modeBrowse
		m.input.Blur()
		return m, m.loadCurrentPreview()

	case key.Matches(msg, keys.Enter):
		if m.mode == modeRule {
			m.applyRule(m.input.Value())
		}
		m.mode = modeBrowse
		m.input.Blur()
		return m, m.loadCurrentPreview()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == modeFilter && m.input.Value() != m.filter {
		m.filter = m.input.Value()
		return m, tea.Batch(cmd, m.scheduleDebouncedFilter(m.filter))
	}
	return m, cmd
}

// applyRule adds a mask rule, or removes one when v starts with "-".
func (m *model) applyRule(v string) {
	e := m.sess.Mask()
	if p, ok := strings.CutPrefix(strings.TrimSpace(v), "-"); ok {
		if e.RemoveRule(p) {
			m.notice = fmt.Sprintf("removed rule %q", strings.TrimSpace(p))
			m.changed()
		} else {
			m.notice = fmt.Sprintf("no rule %q", strings.TrimSpace(p))
		}
		return
	}
	if e.AddRule(v) {
		m.notice = fmt.Sprintf("masking %q", strings.TrimSpace(v))
		m.changed()
	}
}

func (m *model) copyCurrent() {
	c, ok := m.current()
	if !ok {
		return
	}
	text, _ := render.Conversation(c, m.sess.Mask(), render.Options{})
	if err := m.copy(text); err != nil {
		m.notice = "clipboard unavailable: " + err.Error()
		return
	}
	m.notice = fmt.Sprintf("copied %s (masked)", c.ID)
}

// changed re-reads the session after a selection or rule change.
func (m *model) changed() {
	m.rev++
	m.refresh()
}

// refresh rebuilds the visible list from the session and the active filter.
func (m *model) refresh() {
	m.visible = nil
	for _, c := range m.sess.Conversations() {
		if m.matches == nil || m.matches[c.ID] {
			m.visible = append(m.visible, c)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if len(m.visible) == 0 {
		m.preview.SetContent("")
		m.previewKey = ""
	}
	m.adjustListScroll(m.panelHeight())
}

func (m model) current() (parse.Conversation, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return parse.Conversation{}, false
	}
	return m.visible[m.cursor], true
}

func (m model) currentKey() string {
	c, ok := m.current()
	if !ok {
		return ""
	}
	return previewCacheKey(c.ID, m.rev)
}

// View renders the full TUI.
func (m model) View() string {
	if m.quitting || !m.ready {
		return ""
	}

	listW := m.listWidth()
	previewW := m.previewWidth()
	panelH := m.panelHeight()

	var top string
	if m.mode == modeBrowse {
		top = styleTitle.Render(m.sess.Counts().String())
		if m.filter != "" {
			top += styleTitle.Render(fmt.Sprintf("  filter: %s", m.filter))
		}
	} else {
		top = m.input.View()
	}

	listPanel := stylePanelBorder.
		Width(listW).
		Height(panelH).
		Render(m.renderList(listW, panelH))

	m.preview.Width = previewW
	m.preview.Height = panelH
	previewPanel := styleActiveBorder.
		Width(previewW).
		Height(panelH).
		Render(m.preview.View())

	panels := lipgloss.JoinHorizontal(lipgloss.Top, listPanel, previewPanel)

	return lipgloss.JoinVertical(lipgloss.Left, top, panels, m.statusBar())
}

// helper methods

func (m model) listWidth() int {
	if m.width <= 0 {
		return 40
	}
	// 40% for list, minus border padding
	w := m.width*40/100 - 4
	if w < 20 {
		w = 20
	}
	return w
}

func (m model) previewWidth() int {
	if m.width <= 0 {
		return 60
	}
	// 60% for preview, minus border padding
	w := m.width*60/100 - 4
	if w < 20 {
		w = 20
	}
	return w
}

func (m model) panelHeight() int {
	if m.height <= 0 {
		return 20
	}
	// Subtract top row (1) + status bar (1) + borders (4)
	h := m.height - 6
	if h < 5 {
		h = 5
	}
	return h
}

type mouseRegion int

const (
	regionNone mouseRegion = iota
	regionList
	regionPreview
)

// hitTest maps terminal coordinates to a panel region and list item index.
func (m model) hitTest(x, y int) (mouseRegion, int) {
	pH := m.panelHeight()
	contentYStart := 2 // top row (1) + top border (1)
	contentYEnd := contentYStart + pH - 1

	if y < contentYStart || y > contentYEnd {
		return regionNone, -1
	}
	relY := y - contentYStart

	lw := m.listWidth()
	listBoxRight := lw + 1 // col 0=border, 1..lw=content, lw+1=border

	if x >= 1 && x <= lw {
		return regionList, m.listOffset + (relY / linesPerItem)
	}
	if x > listBoxRight+1 {
		return regionPreview, -1
	}
	return regionNone, -1
}

func (m model) statusBar() string {
	if m.notice != "" {
		return styleNotice.Render(m.notice)
	}
	var parts []string
	switch m.mode {
	case modeRule:
		parts = []string{"Enter add rule", "-text removes", "Esc cancel"}
	case modeFilter:
		parts = []string{"Enter keep filter", "Esc clear"}
	default:
		parts = []string{
			"space toggle",
			"a/n all/none",
			"m mask",
			"/ filter",
			"y copy",
			"C-u/C-d preview",
			"q quit",
		}
	}
	return styleStatusBar.Render(strings.Join(parts, " | "))
}

// doFilter resolves query to the set of matching conversation IDs: full-text
// search over the store when there is one, titles and text in memory otherwise.
func (m model) doFilter(query string) tea.Cmd {
	db := m.db
	sess := m.sess
	return func() tea.Msg {
		q := strings.TrimSpace(query)
		if q == "" {
			return filterResultMsg{query: query}
		}
		ids := make(map[string]bool)
		if db == nil {
			lq := strings.ToLower(q)
			for _, c := range sess.Conversations() {
				if conversationContains(c, lq) {
					ids[c.ID] = true
				}
			}
			return filterResultMsg{query: query, ids: ids}
		}
		results, err := search.Search(db, sess.Mask(), search.Options{Query: q, Limit: filterLimit})
		if err != nil {
			return filterResultMsg{query: query, err: err}
		}
		for _, r := range results {
			ids[r.ConvID] = true
		}
		return filterResultMsg{query: query, ids: ids}
	}
}

func conversationContains(c parse.Conversation, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(c.Title), lowerQuery) {
		return true
	}
	for _, msg := range c.Messages {
		if strings.Contains(strings.ToLower(msg.Content), lowerQuery) {
			return true
		}
	}
	return false
}

func (m model) scheduleDebouncedFilter(query string) tea.Cmd {
	return tea.Tick(debounceDelay, func(time.Time) tea.Msg {
		return debounceTickMsg{query: query}
	})
}

func (m model) loadCurrentPreview() tea.Cmd {
	c, ok := m.current()
	if !ok {
		return nil
	}
	k := previewCacheKey(c.ID, m.rev)
	if k == m.previewKey {
		return nil // already showing this preview
	}
	return loadPreviewCmd(c, m.sess.Mask(), k, m.filter, m.previewWidth())
}
