package dto

import (
	"encoding/json"

	"replaycast.app/studio/internal/model"
)

// IngestRequest is a batch of raw rrweb events. Payloads stay opaque all
// the way to storage; only type/timestamp are peeked at for indexing.
type IngestRequest struct {
	SessionToken string            `json:"sessionToken" binding:"required"`
	Events       []json.RawMessage `json:"events" binding:"required"`
	Timestamp    int64             `json:"timestamp,omitempty"`
}

type IngestResponse struct {
	Accepted       bool `json:"accepted"`
	EventsReceived int  `json:"eventsReceived"`
	// SessionFinalized tells the recorder to stop sending under this
	// token and start a new session.
	SessionFinalized bool `json:"sessionFinalized"`
}

type EventView struct {
	SequenceNumber int32           `json:"sequenceNumber"`
	EventType      string          `json:"eventType"`
	Timestamp      int64           `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

type SessionEventsResponse struct {
	Session SessionDetail `json:"session"`
	Events  []EventView   `json:"events"`
}

func ToSessionEventsResponse(sess *model.Session, events []model.Event) SessionEventsResponse {
	out := SessionEventsResponse{
		Session: ToSessionDetail(sess),
		Events:  make([]EventView, len(events)),
	}
	for i, ev := range events {
		out.Events[i] = EventView{
			SequenceNumber: ev.SequenceNumber,
			EventType:      ev.EventType,
			Timestamp:      ev.Timestamp,
			Payload:        ev.Payload,
		}
	}
	return out
}
