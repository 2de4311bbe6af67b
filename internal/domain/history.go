package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// History is an insertion-ordered map of query id to Message.
// The zero value is an empty history ready to use.
type History struct {
	keys  []string
	items map[string]Message
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.keys) }

// Has reports whether a message exists for id.
func (h *History) Has(id string) bool {
	_, ok := h.items[id]
	return ok
}

// Get returns the message stored under id.
func (h *History) Get(id string) (Message, bool) {
	m, ok := h.items[id]
	return m, ok
}

// Set stores m under id. A new id is appended at the end; an existing id keeps
// its position.
func (h *History) Set(id string, m Message) {
	if h.items == nil {
		h.items = make(map[string]Message)
	}
	if _, ok := h.items[id]; !ok {
		h.keys = append(h.keys, id)
	}
	h.items[id] = m
}

// Keys returns the ids in insertion order.
func (h *History) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Messages returns the messages in insertion order.
func (h *History) Messages() []Message {
	out := make([]Message, 0, len(h.keys))
	for _, k := range h.keys {
		out = append(out, h.items[k])
	}
	return out
}

// Last returns the most recently inserted message.
func (h *History) Last() (Message, bool) {
	if len(h.keys) == 0 {
		return Message{}, false
	}
	return h.items[h.keys[len(h.keys)-1]], true
}

// Clone returns a deep copy.
func (h *History) Clone() History {
	out := History{
		keys:  append([]string(nil), h.keys...),
		items: make(map[string]Message, len(h.items)),
	}
	for k, v := range h.items {
		out.items[k] = v.Clone()
	}
	return out
}

// Equal reports whether both histories hold equal messages in the same order.
func (h *History) Equal(other *History) bool {
	if h.Len() != other.Len() {
		return false
	}
	for i, k := range h.keys {
		if other.keys[i] != k {
			return false
		}
		a, _ := json.Marshal(h.items[k])
		b, _ := json.Marshal(other.items[k])
		if !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the history as a JSON object whose keys follow insertion order.
func (h History) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range h.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(h.items[k])
		if err != nil {
			return nil, fmt.Errorf("encode message %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
func (h *History) UnmarshalJSON(data []byte) error {
	*h = History{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("history: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("history: expected string key, got %v", tok)
		}
		var m Message
		if err := dec.Decode(&m); err != nil {
			return fmt.Errorf("history: decode message %s: %w", key, err)
		}
		if m.ID == "" {
			m.ID = key
		}
		h.Set(key, m)
	}
	_, err = dec.Token()
	return err
}
