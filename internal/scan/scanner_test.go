package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zuo-Peng/chatmask/internal/archive"
)

func TestCandidates(t *testing.T) {
	entries := []archive.Entry{
		{Name: "chat.html"},
		{Name: "conversations.json"},
		{Name: "nested.json/", IsDir: true},
		{Name: "user.json"},
		{Name: "notes.JSON"},
		{Name: "image.png"},
	}

	got, stats := Candidates(entries)

	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"conversations.json", "user.json"}, names)
	assert.Equal(t, Stats{Total: 6, Candidates: 2, Dirs: 1, Skipped: 3}, stats)
	assert.Equal(t, "entries=6 candidates=2 dirs=1 skipped=3", stats.String())
}

func TestCandidates_Empty(t *testing.T) {
	got, stats := Candidates(nil)
	assert.Empty(t, got)
	assert.Zero(t, stats.Candidates)
}
