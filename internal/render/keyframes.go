package render

import (
	"encoding/json"
	"fmt"
	"os"

	"replaycast.app/studio/internal/model"
)

// rrweb event types that make usable seek points: full DOM snapshots
// and meta (viewport) events. Everything else is incremental.
const (
	rrwebTypeFullSnapshot = "2"
	rrwebTypeMeta         = "4"
)

// Keyframe is one entry in the seek index published next to the video.
type Keyframe struct {
	Sequence  int32  `json:"sequence"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	OffsetMS  int64  `json:"offset_ms"`
}

// DeriveKeyframes picks the seekable events out of the stream and
// computes their offsets from the first event's client timestamp.
// Returns nil when the stream has no usable seek points.
func DeriveKeyframes(events []model.Event) []Keyframe {
	var startTS int64
	for _, ev := range events {
		if ev.Timestamp <= 0 {
			continue
		}
		if startTS == 0 || ev.Timestamp < startTS {
			startTS = ev.Timestamp
		}
	}
	if startTS == 0 {
		return nil
	}

	var frames []Keyframe
	for _, ev := range events {
		if ev.EventType != rrwebTypeFullSnapshot && ev.EventType != rrwebTypeMeta {
			continue
		}
		if ev.Timestamp <= 0 {
			continue
		}
		frames = append(frames, Keyframe{
			Sequence:  ev.SequenceNumber,
			Type:      ev.EventType,
			Timestamp: ev.Timestamp,
			OffsetMS:  ev.Timestamp - startTS,
		})
	}
	return frames
}

func writeKeyframes(path string, frames []Keyframe) error {
	data, err := json.Marshal(frames)
	if err != nil {
		return fmt.Errorf("marshaling keyframes: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing keyframes: %w", err)
	}
	return nil
}
