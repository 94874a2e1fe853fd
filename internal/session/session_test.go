package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zuo-Peng/chatmask/internal/parse"
)

func sample() []parse.Conversation {
	return []parse.Conversation{
		{ID: "0-0", Title: "one", Included: true, Messages: []parse.Message{{Role: "user", Content: "a"}}},
		{ID: "0-1", Title: "two", Included: true, Messages: []parse.Message{{Role: "user", Content: "b"}, {Role: "assistant", Content: "c"}}},
		{ID: "1", Title: "three", Included: true, Messages: []parse.Message{{Role: "user", Content: "d"}}},
	}
}

func TestToggle(t *testing.T) {
	s := New()
	s.Load(sample())

	inc, err := s.Toggle("0-1")
	require.NoError(t, err)
	assert.False(t, inc)

	c, err := s.Get("0-1")
	require.NoError(t, err)
	assert.False(t, c.Included)

	inc, err = s.Toggle("0-1")
	require.NoError(t, err)
	assert.True(t, inc)

	_, err = s.Toggle("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIncludedKeepsOrder(t *testing.T) {
	s := New()
	s.Load(sample())
	_, err := s.Toggle("0-1")
	require.NoError(t, err)

	var got []string
	for _, c := range s.Included() {
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"0-0", "1"}, got)
}

func TestSetAll(t *testing.T) {
	s := New()
	s.Load(sample())

	s.SetAll(false)
	assert.Empty(t, s.Included())
	assert.Equal(t, 0, s.Counts().Included)

	s.SetAll(true)
	assert.Len(t, s.Included(), 3)
}

func TestCounts(t *testing.T) {
	s := New()
	s.Load(sample())
	s.Mask().AddRule("alice")
	require.NoError(t, s.SetIncluded("1", false))

	n := s.Counts()
	assert.Equal(t, Counts{Conversations: 3, Included: 2, Messages: 4, Rules: 1}, n)
	assert.Equal(t, "2/3 conversations selected, 4 messages, 1 mask rules", n.String())
}

func TestConversationsIsSnapshot(t *testing.T) {
	s := New()
	s.Load(sample())
	convs := s.Conversations()
	convs[0].Included = false

	c, err := s.Get("0-0")
	require.NoError(t, err)
	assert.True(t, c.Included)
}

func TestReset(t *testing.T) {
	s := New()
	s.Load(sample())
	s.Mask().AddRule("x")

	s.Reset()
	assert.Empty(t, s.Conversations())
	assert.Equal(t, 0, s.Mask().Len())
	_, err := s.Get("0-0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadKeepsRules(t *testing.T) {
	s := New()
	s.Mask().AddRule("keep")
	s.Load(sample())
	assert.Equal(t, []string{"keep"}, s.Mask().Rules())
}

func TestBeginIngest(t *testing.T) {
	s := New()

	done, err := s.BeginIngest()
	require.NoError(t, err)

	_, err = s.BeginIngest()
	assert.ErrorIs(t, err, ErrIngestInFlight)

	done()
	done()

	done2, err := s.BeginIngest()
	require.NoError(t, err)
	done2()
}
