package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded rrweb event. Identity is (session, sequence
// number); the sequence is assigned by the ingest path and is the
// authoritative ordering, not the client timestamp.
type Event struct {
	ID             int64           `json:"id"`
	SessionID      uuid.UUID       `json:"session_id"`
	SequenceNumber int32           `json:"sequence_number"`
	EventType      string          `json:"event_type"`
	Timestamp      int64           `json:"timestamp"` // client-declared, milliseconds
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

type rawEventFields struct {
	Type      any   `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

// EventMeta extracts the declared type and timestamp from a raw client
// event. rrweb encodes type as a small integer, but payloads are opaque
// here, so anything unparseable degrades to ("unknown", 0) instead of
// rejecting the event.
func EventMeta(payload json.RawMessage) (eventType string, timestamp int64) {
	var fields rawEventFields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "unknown", 0
	}

	switch t := fields.Type.(type) {
	case float64:
		eventType = strconv.FormatInt(int64(t), 10)
	case string:
		eventType = t
	default:
		eventType = "unknown"
	}

	return eventType, fields.Timestamp
}
