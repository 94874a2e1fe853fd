package normalize

import (
	"fmt"
	"strconv"

	"github.com/Zuo-Peng/chatmask/internal/parse"
)

// Indexed is a parsed entry tagged with its position among the successfully
// parsed candidate entries of one ingestion.
type Indexed struct {
	Index int
	Name  string
	Doc   parse.Document
}

type Stats struct {
	Conversations int
	Messages      int
	Empty         int // conversations dropped for having no messages
	Unrecognized  int // documents (or sequence elements) holding no conversation
}

func (s Stats) String() string {
	return fmt.Sprintf("conversations=%d messages=%d empty=%d unrecognized=%d",
		s.Conversations, s.Messages, s.Empty, s.Unrecognized)
}

// Normalize turns parsed entries into conversations, in entry order and then
// element order. Every returned conversation has at least one message and
// starts out included.
func Normalize(entries []Indexed, opts parse.Options) ([]parse.Conversation, Stats) {
	var (
		out   []parse.Conversation
		stats Stats
	)
	add := func(c parse.Conversation) {
		if len(c.Messages) == 0 {
			stats.Empty++
			return
		}
		stats.Conversations++
		stats.Messages += len(c.Messages)
		out = append(out, c)
	}

	for _, e := range entries {
		id := strconv.Itoa(e.Index)
		switch s := parse.Detect(e.Doc).(type) {
		case parse.Sequence:
			for pos, item := range s.Items {
				c, ok := convert(item, e.Index, opts)
				if !ok {
					stats.Unrecognized++
					continue
				}
				c.ID = id + "-" + strconv.Itoa(pos)
				add(c)
			}
		default:
			c, ok := convert(s, e.Index, opts)
			if !ok {
				stats.Unrecognized++
				continue
			}
			c.ID = id
			add(c)
		}
	}
	return out, stats
}

func convert(s parse.Shape, index int, opts parse.Options) (parse.Conversation, bool) {
	var c parse.Conversation
	switch s := s.(type) {
	case parse.TreeMapping:
		c.Title = s.Title
		c.Messages = s.Messages(opts)
	case parse.FlatMessages:
		c.Title = s.Title
		c.Messages = s.Messages()
	default:
		return c, false
	}
	if c.Title == "" {
		c.Title = FallbackTitle(index)
	}
	c.Included = true
	return c, true
}

// FallbackTitle is the title given to conversations whose source has none.
func FallbackTitle(index int) string {
	return "Conversation " + strconv.Itoa(index+1)
}
