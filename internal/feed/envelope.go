package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"herald/internal/store"
)

var errNoID = errors.New("envelope has no parseable id")

// envelope keys that are NOT part of a flattened payload.
var envelopeKeys = map[string]struct{}{
	"id":              {},
	"notification_id": {},
	"event_type":      {},
	"created_at":      {},
	"is_read":         {},
	"payload":         {},
}

// parseEnvelope decodes one pushed message into a Notification.
//
// The server emits two shapes: `payload` nested as an object, or the event
// fields flattened at top level next to the envelope fields. Both carry the
// id under either "id" or "notification_id". A message whose id cannot be
// parsed as an integer is rejected; the caller falls back to reconciliation
// rather than dropping state silently.
func parseEnvelope(b []byte) (store.Notification, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return store.Notification{}, fmt.Errorf("envelope: %w", err)
	}

	id, ok := envelopeID(raw)
	if !ok {
		return store.Notification{}, errNoID
	}

	n := store.Notification{ID: id}
	if v, ok := raw["event_type"]; ok {
		_ = json.Unmarshal(v, &n.EventType)
	}
	if v, ok := raw["created_at"]; ok {
		_ = json.Unmarshal(v, &n.CreatedAt)
	}
	if v, ok := raw["is_read"]; ok {
		_ = json.Unmarshal(v, &n.IsRead)
	}

	if v, ok := raw["payload"]; ok && isJSONObject(v) {
		n.Payload = v
		return n, nil
	}

	// Flattened shape: everything that isn't an envelope field is payload.
	flat := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if _, skip := envelopeKeys[k]; skip {
			continue
		}
		flat[k] = v
	}
	if len(flat) > 0 {
		if pb, err := json.Marshal(flat); err == nil {
			n.Payload = pb
		}
	}
	return n, nil
}

func envelopeID(raw map[string]json.RawMessage) (int64, bool) {
	for _, key := range []string{"id", "notification_id"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var asInt int64
		if err := json.Unmarshal(v, &asInt); err == nil {
			return asInt, true
		}
		// Tolerate a quoted integer; anything else is malformed.
		var asStr string
		if err := json.Unmarshal(v, &asStr); err == nil {
			if id, err := strconv.ParseInt(asStr, 10, 64); err == nil {
				return id, true
			}
		}
		return 0, false
	}
	return 0, false
}

func isJSONObject(v json.RawMessage) bool {
	for _, c := range v {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
