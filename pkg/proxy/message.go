package proxy

import (
	"encoding/json"
	"time"
)

// Message envelope exchanged through peer inboxes
type Message struct {
	Topic   string          `json:"topic"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// peerRecord registry entry for one group member
type peerRecord struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Hostname string    `json:"hostname,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
