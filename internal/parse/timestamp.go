package parse

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Timestamp is an optional create time, either a JSON number or a JSON string,
// kept verbatim so exports reproduce exactly what the source carried.
type Timestamp []byte

// TimestampOf keeps raw if it is a JSON number or string and drops anything else.
func TimestampOf(raw []byte) Timestamp {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if json.Unmarshal(raw, &n) != nil {
			return nil
		}
	default:
		return nil
	}
	return Timestamp(bytes.Clone(raw))
}

func (t Timestamp) IsZero() bool {
	return len(t) == 0
}

// Float returns the numeric value of a numeric timestamp.
func (t Timestamp) Float() (float64, bool) {
	if t.IsZero() || t[0] == '"' {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String returns the timestamp for display: string values unquoted, numbers as written.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	if t[0] == '"' {
		var s string
		if json.Unmarshal(t, &s) == nil {
			return s
		}
	}
	return string(t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(t), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t = TimestampOf(b)
	return nil
}
