package parse

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// textTypes are content type tags that mark plain text.
var textTypes = map[string]bool{
	"text":        true,
	"plain_text":  true,
	"input_text":  true,
	"output_text": true,
}

// Messages extracts the conversational turns of a tree mapping. Nodes without
// a message, an author role or any text are scaffolding and are skipped.
func (t TreeMapping) Messages(opts Options) []Message {
	var out []Message
	for _, raw := range t.Nodes {
		node, ok := asObject(raw)
		if !ok {
			continue
		}
		msg, ok := asObject(node["message"])
		if !ok {
			continue
		}
		if m, ok := toMessage(msg, "create_time"); ok {
			out = append(out, m)
		}
	}
	if opts.SortByCreateTime {
		sortByCreateTime(out)
	}
	return out
}

// Messages extracts the turns of a flat message list in array order.
func (f FlatMessages) Messages() []Message {
	var out []Message
	for _, raw := range f.Entries {
		msg, ok := asObject(raw)
		if !ok {
			continue
		}
		if m, ok := toMessage(msg, "timestamp", "create_time"); ok {
			out = append(out, m)
		}
	}
	return out
}

func toMessage(msg map[string]json.RawMessage, timeKeys ...string) (Message, bool) {
	role := messageRole(msg)
	if role == "" {
		return Message{}, false
	}
	text := messageText(msg)
	if text == "" {
		return Message{}, false
	}

	m := Message{Role: role, Content: text}
	for _, k := range timeKeys {
		if ts := TimestampOf(msg[k]); !ts.IsZero() {
			m.Timestamp = ts
			break
		}
	}
	return m, true
}

func messageRole(msg map[string]json.RawMessage) string {
	if author, ok := asObject(msg["author"]); ok {
		if r, ok := asString(author["role"]); ok && r != "" {
			return r
		}
	}
	r, _ := asString(msg["role"])
	return r
}

// messageText returns the first non-empty of: the first entry of content.parts,
// content as a plain string, content.text, and a text-typed content object or
// block list.
func messageText(msg map[string]json.RawMessage) string {
	content := msg["content"]
	obj, isObj := asObject(content)

	if isObj {
		if s := firstPart(obj["parts"]); s != "" {
			return s
		}
	}
	if s, ok := asString(content); ok && s != "" {
		return s
	}
	if isObj {
		if s, ok := asString(obj["text"]); ok && s != "" {
			return s
		}
	}
	return typedText(content)
}

func firstPart(raw json.RawMessage) string {
	if firstByte(raw) != '[' {
		return ""
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
		return ""
	}
	return stringify(parts[0])
}

// stringify renders a non-string JSON value as compact JSON text. null is empty.
func stringify(raw json.RawMessage) string {
	if s, ok := asString(raw); ok {
		return s
	}
	switch firstByte(raw) {
	case 0, 'n':
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

func typedText(raw json.RawMessage) string {
	switch firstByte(raw) {
	case '{':
		obj, _ := asObject(raw)
		if !isTextType(obj) {
			return ""
		}
		for _, k := range []string{"text", "value", "result"} {
			if s, ok := asString(obj[k]); ok && s != "" {
				return s
			}
		}
	case '[':
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return ""
		}
		var parts []string
		for _, b := range blocks {
			obj, ok := asObject(b)
			if !ok || !isTextType(obj) {
				continue
			}
			if s, ok := asString(obj["text"]); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func isTextType(obj map[string]json.RawMessage) bool {
	for _, k := range []string{"content_type", "type"} {
		if s, ok := asString(obj[k]); ok && textTypes[s] {
			return true
		}
	}
	return false
}

func sortByCreateTime(msgs []Message) {
	for _, m := range msgs {
		if _, ok := m.Timestamp.Float(); !ok {
			return
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		a, _ := msgs[i].Timestamp.Float()
		b, _ := msgs[j].Timestamp.Float()
		return a < b
	})
}
