package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Zuo-Peng/chatmask/internal/mask"
	"github.com/Zuo-Peng/chatmask/internal/parse"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrIngestInFlight = errors.New("another archive is already being processed")
)

// Counts summarizes a session for status lines.
type Counts struct {
	Conversations int
	Included      int
	Messages      int
	Rules         int
}

func (c Counts) String() string {
	return fmt.Sprintf("%d/%d conversations selected, %d messages, %d mask rules",
		c.Included, c.Conversations, c.Messages, c.Rules)
}

// Session holds the loaded conversations, their inclusion flags and the mask
// rules of one user. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	convs     []parse.Conversation
	byID      map[string]int
	ingesting bool
	mask      *mask.Engine
}

func New() *Session {
	return &Session{
		byID: make(map[string]int),
		mask: mask.New(),
	}
}

// BeginIngest claims the session for one ingestion. The returned func
// releases it.
func (s *Session) BeginIngest() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingesting {
		return nil, ErrIngestInFlight
	}
	s.ingesting = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.ingesting = false
			s.mu.Unlock()
		})
	}, nil
}

// Load replaces the conversation list. Mask rules are kept.
func (s *Session) Load(convs []parse.Conversation) {
	byID := make(map[string]int, len(convs))
	for i, c := range convs {
		byID[c.ID] = i
	}

	s.mu.Lock()
	s.convs = convs
	s.byID = byID
	s.mu.Unlock()
}

// Conversations returns a snapshot in load order.
func (s *Session) Conversations() []parse.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]parse.Conversation, len(s.convs))
	copy(out, s.convs)
	return out
}

func (s *Session) Get(id string) (parse.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return parse.Conversation{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s.convs[i], nil
}

// Toggle flips a conversation's inclusion and returns the new value.
func (s *Session) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	s.convs[i].Included = !s.convs[i].Included
	return s.convs[i].Included, nil
}

func (s *Session) SetIncluded(id string, included bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	s.convs[i].Included = included
	return nil
}

// SetAll selects (or deselects) every conversation.
func (s *Session) SetAll(included bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.convs {
		s.convs[i].Included = included
	}
}

// Included returns the selected conversations in load order.
func (s *Session) Included() []parse.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []parse.Conversation
	for _, c := range s.convs {
		if c.Included {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := Counts{Conversations: len(s.convs), Rules: s.mask.Len()}
	for _, c := range s.convs {
		if c.Included {
			n.Included++
		}
		n.Messages += len(c.Messages)
	}
	return n
}

func (s *Session) Mask() *mask.Engine {
	return s.mask
}

// Reset drops the conversations and the mask rules together.
func (s *Session) Reset() {
	s.mu.Lock()
	s.convs = nil
	s.byID = make(map[string]int)
	s.mu.Unlock()
	s.mask.Reset()
}
