package navigator

import (
	"time"

	"ivr-tester/internal/telephony"
)

// Status is where a test call is in the navigation loop.
type Status string

// A connected call is always listening, deciding or acting, so the loop
// never rests in StatusConnected: CallConnected moves Dialing straight to
// StatusListening. StatusConnected is kept as a wire value for clients
// that key off the full status vocabulary.
const (
	StatusIdle         Status = "idle"
	StatusDialing      Status = "dialing"
	StatusConnected    Status = "connected"
	StatusListening    Status = "listening"
	StatusDeciding     Status = "deciding"
	StatusActing       Status = "acting"
	StatusDisconnected Status = "disconnected"
)

// Session is the state of one outbound test call.
//
// Only the navigator's event loop mutates a Session; everything else sees copies.
type Session struct {
	ID string `json:"id,omitempty"`

	TargetNumber string `json:"target_number,omitempty"`
	SourceNumber string `json:"source_number,omitempty"`

	// RequestedBy is the authenticated operator that started the call, if any.
	RequestedBy string `json:"requested_by,omitempty"`

	// ConnectionID is empty until the provider has created the call.
	ConnectionID string `json:"connection_id,omitempty"`

	Status  Status `json:"status"`
	Running bool   `json:"running"`

	LastTranscription string `json:"last_transcription,omitempty"`

	// Turn numbers decisions so late answers can be recognized as stale.
	Turn int `json:"turn"`

	// RecognizeFailures counts consecutive recognition failures. It is
	// reported but not capped.
	RecognizeFailures int `json:"recognize_failures"`

	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Call is the provider handle for this session.
func (s Session) Call() telephony.Call {
	return telephony.Call{
		ConnectionID: s.ConnectionID,
		Target:       s.TargetNumber,
		Source:       s.SourceNumber,
	}
}
