package render

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"

	"github.com/Zuo-Peng/chatmask/internal/mask"
	"github.com/Zuo-Peng/chatmask/internal/parse"
)

func conv(n int) parse.Conversation {
	c := parse.Conversation{ID: "3-1", Title: "Plans with Alice", Included: true}
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		c.Messages = append(c.Messages, parse.Message{Role: role, Content: "message about Alice"})
	}
	return c
}

func TestConversation_Masked(t *testing.T) {
	c := conv(2)
	c.Messages[0].Timestamp = parse.Timestamp("1700000000")
	out, hit := Conversation(c, mask.New("alice"), Options{})

	assert.Equal(t, -1, hit)
	assert.NotContains(t, out, "about Alice")
	assert.Contains(t, out, "message about █████")
	assert.Contains(t, out, "--- [x] 3-1 Plans with Alice (2 messages) ---")
	assert.Contains(t, out, "USER > 1700000000\n")
	assert.Contains(t, out, "ASST >\n")
	assert.NotContains(t, out, "\033[")
}

func TestPreview_MoreMessages(t *testing.T) {
	out := Preview(conv(5), mask.New(), 0, false)
	assert.Equal(t, 3, strings.Count(out, "message about Alice"))
	assert.Contains(t, out, "+ 2 more messages")

	out = Preview(conv(3), mask.New(), 0, false)
	assert.NotContains(t, out, "more messages")
}

func TestConversation_Empty(t *testing.T) {
	out, hit := Conversation(parse.Conversation{ID: "0"}, mask.New(), Options{})
	assert.Contains(t, out, "[ ] 0")
	assert.Contains(t, out, "(empty conversation)")
	assert.Equal(t, -1, hit)
}

func TestConversation_HitLine(t *testing.T) {
	c := conv(3)
	c.Messages[2].Content = "the needle is here"
	out, hit := Conversation(c, mask.New(), Options{Query: "NEEDLE", Color: true})

	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[hit], ">> USER >")
	assert.Contains(t, out, colorBoldRed+"needle"+colorReset)
}

func TestConversation_QueryDoesNotSeeMaskedText(t *testing.T) {
	c := conv(1)
	_, hit := Conversation(c, mask.New("alice"), Options{Query: "alice"})
	assert.Equal(t, -1, hit)
}

func TestWrapLine(t *testing.T) {
	assert.Equal(t, []string{"abcd", "ef"}, wrapLine("abcdef", 4))
	assert.Equal(t, []string{"你好", "世界"}, wrapLine("你好世界", 4))
	assert.Equal(t, []string{""}, wrapLine("", 4))
	assert.Equal(t, []string{"\033[2mab", "cd\033[0m"}, wrapLine("\033[2mabcd\033[0m", 2))
}

func TestHighlightKeywords(t *testing.T) {
	got := highlightKeywords("Go go GO", "go", "<", ">")
	assert.Equal(t, "<Go> <go> <GO>", got)
	assert.Equal(t, "plain", highlightKeywords("plain", "plain", "", ""))
}

func TestLine(t *testing.T) {
	c := conv(4)
	c.Included = false
	assert.Equal(t, "[ ] 3-1      Plans with Alice (4)", Line(c, 0))

	short := Line(c, 12)
	assert.LessOrEqual(t, runewidth.StringWidth(short), 12)
	assert.True(t, strings.HasSuffix(short, "…"))
}
