package scan

import (
	"fmt"
	"strings"

	"github.com/Zuo-Peng/chatmask/internal/archive"
)

// candidateExt is the suffix of entries that may hold conversations.
const candidateExt = ".json"

type Stats struct {
	Total      int
	Candidates int
	Dirs       int
	Skipped    int
}

func (s Stats) String() string {
	return fmt.Sprintf("entries=%d candidates=%d dirs=%d skipped=%d",
		s.Total, s.Candidates, s.Dirs, s.Skipped)
}

// Candidates keeps the entries that may hold conversation data, in archive order.
func Candidates(entries []archive.Entry) ([]archive.Entry, Stats) {
	stats := Stats{Total: len(entries)}

	var out []archive.Entry
	for _, e := range entries {
		if e.IsDir {
			stats.Dirs++
			continue
		}
		if !strings.HasSuffix(e.Name, candidateExt) {
			stats.Skipped++
			continue
		}
		out = append(out, e)
	}
	stats.Candidates = len(out)
	return out, stats
}
