// Package wire implements the text wire codec: one "name: value" line per
// field, newline separated, with message_type identifying the record kind.
package wire

import (
	"fmt"
	"sort"
	"strings"
)

// Message is a decoded or to-be-encoded wire record. Field names and values
// are plain strings; numeric fields are carried as decimal text.
type Message map[string]string

// Type returns the message_type field, or the empty string if absent.
func (m Message) Type() string {
	return m["message_type"]
}

// Clone returns a defensive copy of the message.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// New starts a message with the given message_type set.
func New(messageType string) Message {
	return Message{"message_type": messageType}
}

// Encode serialises a message to its wire form. message_type must be set.
func Encode(msg Message) ([]byte, error) {
	if strings.TrimSpace(msg["message_type"]) == "" {
		return nil, fmt.Errorf("wire: message_type is required to encode")
	}
	//1.- Sort keys (message_type first) so encoding is deterministic for tests and logs.
	keys := make([]string, 0, len(msg))
	for k := range msg {
		if k == "message_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "message_type: %s\n", msg["message_type"])
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, msg[k])
	}
	return []byte(b.String()), nil
}

// Decode parses a raw datagram into a Message. Malformed lines (no colon)
// are skipped; callers must separately check for a present message_type to
// decide whether the result is usable.
func Decode(data []byte) Message {
	msg := make(Message)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		msg[key] = value
	}
	return msg
}
