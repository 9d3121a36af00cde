package chat

import (
	"encoding/json"
	"fmt"
)

// StreamMode tags what kind of payload a stream event carries.
type StreamMode string

const (
	ModeMetadata StreamMode = "metadata"
	ModeThinking StreamMode = "thinking"
	ModeResponse StreamMode = "response"
	ModeError    StreamMode = "error"
)

// StreamEventType is the protocol-level event type.
type StreamEventType string

const (
	EventChunk     StreamEventType = "chunk"
	EventDone      StreamEventType = "done"
	EventCancelled StreamEventType = "cancelled"
	EventError     StreamEventType = "error"
)

// StreamEvent is one event of a turn's stream. Every event carries the full
// id envelope so clients can target the assistant message for cancellation or
// regeneration from any point of the stream.
type StreamEvent struct {
	Mode               StreamMode      `json:"mode"`
	Type               StreamEventType `json:"type"`
	Message            string          `json:"message"`
	Meta               map[string]any  `json:"meta,omitempty"`
	ThreadID           string          `json:"thread_id"`
	TrackID            string          `json:"track_id"`
	UserMessageID      string          `json:"um_id"`
	AssistantMessageID string          `json:"aim_id"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventCancelled || e.Type == EventError
}

// SSE renders the event as a server-sent-events data frame.
func (e StreamEvent) SSE() (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal stream event: %w", err)
	}
	return fmt.Sprintf("data: %s\n\n", payload), nil
}
