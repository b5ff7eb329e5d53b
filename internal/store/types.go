package store

import "encoding/json"

// Server-assigned event types this client understands.
// Anything else is carried but never produces a notice.
const (
	EventAlarmFired      = "alarm.fired"
	EventRequestCreated  = "permission.request.created"
	EventRequestApproved = "permission.request.approved"
	EventRequestRejected = "permission.request.rejected"
)

// Notification mirrors one server notification record.
//
// Identity is the server-assigned ID; content is immutable once observed
// except for the read flag, which only ever goes false -> true.
type Notification struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt string          `json:"created_at"`
}

// ContentEqual reports whether two records are observationally identical.
// Payload bytes are compared verbatim; the server never rewrites a payload
// for an existing id, so byte equality is sufficient.
func (n Notification) ContentEqual(o Notification) bool {
	return n.ID == o.ID &&
		n.EventType == o.EventType &&
		n.IsRead == o.IsRead &&
		n.CreatedAt == o.CreatedAt &&
		string(n.Payload) == string(o.Payload)
}

// PayloadInt64 extracts an integer field from the open payload map.
// JSON numbers arrive as float64; both float and string encodings are accepted.
func (n Notification) PayloadInt64(key string) (int64, bool) {
	m := n.payloadMap()
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// PayloadString extracts a string field from the open payload map.
func (n Notification) PayloadString(key string) (string, bool) {
	m := n.payloadMap()
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

func (n Notification) payloadMap() map[string]any {
	if len(n.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(n.Payload, &m); err != nil {
		return nil
	}
	return m
}
