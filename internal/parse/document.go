package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is one entry's text decoded as JSON, not yet classified.
type Document struct {
	raw json.RawMessage
}

// Error reports an entry whose text is not valid JSON.
type Error struct {
	Offset int64 // byte offset of the syntax error, 0 if unknown
	Err    error
}

func (e *Error) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("malformed JSON at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("malformed JSON: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParseEntry decodes an entry's text. It does not decide what the document holds;
// see Detect.
func ParseEntry(text string) (Document, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		perr := &Error{Err: err}
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			perr.Offset = syn.Offset
		}
		return Document{}, perr
	}
	return Document{raw: raw}, nil
}

// Shape is the closed set of document layouts an export entry may have:
// Sequence, TreeMapping, FlatMessages or Unrecognized.
type Shape interface {
	shape()
}

// Sequence is a document that is itself an array. Items[i] is the
// classification of the element at position i.
type Sequence struct {
	Items []Shape
}

// TreeMapping is the service's native conversation tree: a title plus a mapping
// of node id to node. Nodes holds the mapping's values in document order.
type TreeMapping struct {
	Title string
	Nodes []json.RawMessage
}

// FlatMessages is a title plus a plain array of role/content objects.
type FlatMessages struct {
	Title   string
	Entries []json.RawMessage
}

// Unrecognized documents hold no conversations (metadata files and the like).
type Unrecognized struct{}

func (Sequence) shape()     {}
func (TreeMapping) shape()  {}
func (FlatMessages) shape() {}
func (Unrecognized) shape() {}

// Detect classifies a document. Arrays win over objects; an object is a
// TreeMapping when it has title and an object-valued mapping, otherwise
// FlatMessages when it has title and an array-valued messages.
func Detect(doc Document) Shape {
	switch firstByte(doc.raw) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(doc.raw, &items); err != nil {
			return Unrecognized{}
		}
		seq := Sequence{Items: make([]Shape, len(items))}
		for i, item := range items {
			// elements of an exported list do not always carry a title
			seq.Items[i] = classifyObject(item, false)
		}
		return seq
	case '{':
		return classifyObject(doc.raw, true)
	}
	return Unrecognized{}
}

func classifyObject(raw json.RawMessage, requireTitle bool) Shape {
	obj, ok := asObject(raw)
	if !ok {
		return Unrecognized{}
	}
	titleRaw, hasTitle := obj["title"]
	if requireTitle && !hasTitle {
		return Unrecognized{}
	}
	title, _ := asString(titleRaw)

	if mapping, ok := obj["mapping"]; ok {
		if nodes, ok := objectValues(mapping); ok {
			return TreeMapping{Title: title, Nodes: nodes}
		}
	}
	if messages, ok := obj["messages"]; ok && firstByte(messages) == '[' {
		var msgs []json.RawMessage
		if err := json.Unmarshal(messages, &msgs); err == nil {
			return FlatMessages{Title: title, Entries: msgs}
		}
	}
	return Unrecognized{}
}

// objectValues returns the values of a JSON object in document order. A key
// repeated later keeps its first position and takes its last value.
func objectValues(raw json.RawMessage) ([]json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	pos := make(map[string]int)
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, false
		}
		if i, dup := pos[key]; dup {
			values[i] = v
			continue
		}
		pos[key] = len(values)
		values = append(values, v)
	}
	return values, true
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if firstByte(raw) != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asString(raw json.RawMessage) (string, bool) {
	if firstByte(raw) != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
