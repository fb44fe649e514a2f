package telephony

import (
	"context"
	"fmt"
)

// Provider is the call-control boundary the navigator drives.
//
// Rules:
//   - No provider SDK calls outside telephony adapters.
//   - Every operation takes the Call handle explicitly; adapters hold no per-call state.
//   - Operations on a Call without a connection are silent no-ops.
//   - Completion and failure of media operations arrive later as Events.
type Provider interface {
	Name() string

	StartCall(ctx context.Context, req CallRequest) (Call, error)
	HangUp(ctx context.Context, call Call) error
	// SendDtmf plays tones in order. Adapters that cannot play a tone
	// (Twilio has no A-D) return an error, which the navigator reports
	// as a failed DTMF event.
	SendDtmf(ctx context.Context, call Call, tones []Tone) error
	PlayText(ctx context.Context, call Call, text string) error

	// StartRecognizing listens for one utterance with a 1s end-of-speech
	// silence timeout. Calling it again re-arms recognition.
	StartRecognizing(ctx context.Context, call Call) error
}

// EndOfSpeechTimeoutSeconds is the silence that ends one recognized utterance.
const EndOfSpeechTimeoutSeconds = 1

// CallRequest describes an outbound call. Numbers are E.164 where possible.
type CallRequest struct {
	Target string
	Source string
}

// Call is the handle for an established (or dialing) outbound call.
type Call struct {
	// ConnectionID is the provider's call identifier; empty before the call exists.
	ConnectionID string

	// Target is the participant tones and recognition are directed at.
	Target string
	Source string
}

// Active reports whether operations can be issued against the call.
func (c Call) Active() bool {
	return c.ConnectionID != ""
}

// CallStartError reports a failure to place an outbound call.
type CallStartError struct {
	Target string
	Err    error
}

func (e *CallStartError) Error() string {
	return fmt.Sprintf("telephony: start call to %s: %v", e.Target, e.Err)
}

func (e *CallStartError) Unwrap() error {
	return e.Err
}
