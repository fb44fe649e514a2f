package audit

import "time"

// Event is an immutable, append-only record of what happened on a test call:
// what the IVR said, what the tester answered and how the call ended.
//
// Invariants:
// - Events are never updated or deleted.
// - SessionID is required; the trail is read per session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`

	// Turn is the decision number the event belongs to, when applicable.
	Turn int `json:"turn,omitempty"`

	// Transcription is the prompt heard (prompt_heard only).
	Transcription string `json:"transcription,omitempty"`

	// Action and Value describe the decided action (action_decided only).
	Action string `json:"action,omitempty"`
	Value  string `json:"value,omitempty"`

	// Message is a short human-readable description.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeSessionStarted  EventType = "session_started"
	EventTypeStartFailed     EventType = "start_failed"
	EventTypeCallConnected   EventType = "call_connected"
	EventTypePromptHeard     EventType = "prompt_heard"
	EventTypeActionDecided   EventType = "action_decided"
	EventTypeRecognizeFailed EventType = "recognize_failed"
	EventTypeSessionEnded    EventType = "session_ended"
)
