package parse

// Message is one conversational turn. Messages are never modified after
// extraction.
type Message struct {
	Role      string // free-form: "user", "assistant", "tool", ...
	Content   string
	Timestamp Timestamp
}

type Conversation struct {
	ID       string // unique within one ingestion batch
	Title    string
	Messages []Message
	Included bool
}

// Options tunes message extraction.
type Options struct {
	// SortByCreateTime orders tree-mapping messages by numeric create_time
	// when every extracted message carries one. Off by default: mapping
	// order is kept as found in the source.
	SortByCreateTime bool
}
