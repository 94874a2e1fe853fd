package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Zuo-Peng/chatmask/internal/parse"
)

var ErrNothingSelected = errors.New("no conversations selected to export")

// Masker redacts message text.
type Masker interface {
	Apply(text string) string
}

type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp parse.Timestamp `json:"timestamp,omitempty"`
}

type Conversation struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Payload is the exported document: the included conversations, masked.
type Payload []Conversation

func (p Payload) MessageCount() int {
	n := 0
	for _, c := range p {
		n += len(c.Messages)
	}
	return n
}

// Serialize builds the payload from the included conversations, in order.
// Titles, roles and timestamps pass through; content is masked.
func Serialize(convs []parse.Conversation, m Masker) (Payload, error) {
	out := Payload{}
	for _, c := range convs {
		if !c.Included {
			continue
		}
		conv := Conversation{Title: c.Title, Messages: make([]Message, len(c.Messages))}
		for i, msg := range c.Messages {
			conv.Messages[i] = Message{
				Role:      msg.Role,
				Content:   m.Apply(msg.Content),
				Timestamp: msg.Timestamp,
			}
		}
		out = append(out, conv)
	}
	if len(out) == 0 {
		return nil, ErrNothingSelected
	}
	return out, nil
}

// Marshal encodes v as 2-space indented JSON without HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Filename is the suggested name of an export written on day now.
func Filename(now time.Time) string {
	return "chatgpt-export-filtered-" + now.Format("2006-01-02") + ".json"
}

// Write marshals p into dir under Filename(now) and returns the path. An
// explicit path overrides the directory and name.
func Write(p Payload, dir, path string, now time.Time) (string, error) {
	if path == "" {
		path = filepath.Join(dir, Filename(now))
	}
	b, err := Marshal(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Submission wraps a payload for delivery to the collection endpoint.
type Submission struct {
	SessionID          string  `json:"session_id"`
	ParticipantID      string  `json:"id_one,omitempty"`
	Timestamp          string  `json:"timestamp"`
	TotalConversations int     `json:"total_conversations"`
	TotalMessages      int     `json:"total_messages"`
	Conversations      Payload `json:"conversations"`
}

func NewSubmission(p Payload, participantID string, now time.Time) Submission {
	return Submission{
		SessionID:          uuid.NewString(),
		ParticipantID:      participantID,
		Timestamp:          now.UTC().Format(time.RFC3339),
		TotalConversations: len(p),
		TotalMessages:      p.MessageCount(),
		Conversations:      p,
	}
}
