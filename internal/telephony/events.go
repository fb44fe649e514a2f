package telephony

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EventKind is the closed set of call-lifecycle events the navigator reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCallConnected
	EventCallDisconnected
	EventRecognizeCompleted
	EventRecognizeFailed
	EventPlayCompleted
	EventPlayFailed
	EventDtmfCompleted
	EventDtmfFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCallConnected:
		return "call_connected"
	case EventCallDisconnected:
		return "call_disconnected"
	case EventRecognizeCompleted:
		return "recognize_completed"
	case EventRecognizeFailed:
		return "recognize_failed"
	case EventPlayCompleted:
		return "play_completed"
	case EventPlayFailed:
		return "play_failed"
	case EventDtmfCompleted:
		return "dtmf_completed"
	case EventDtmfFailed:
		return "dtmf_failed"
	default:
		return "unknown"
	}
}

// Event is the provider-agnostic form of a call-lifecycle callback.
type Event struct {
	Kind EventKind

	// ID is the provider's event id, when it sends one. Used for de-duplication.
	ID string

	// ConnectionID identifies the call the event belongs to, when reported.
	ConnectionID string

	// Transcription is set for EventRecognizeCompleted only.
	Transcription string

	// Detail carries a provider result/reason for logging.
	Detail string
}

// RawEvent is a provider callback as delivered to /api/callbacks:
// a namespaced type plus a type-specific data payload.
type RawEvent struct {
	ID   string         `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Event types are matched on the last segment of the namespaced type, so
// "Microsoft.Communication.CallConnected" and "Twilio.Voice.CallConnected"
// normalize identically.
var eventKinds = map[string]EventKind{
	"CallConnected":          EventCallConnected,
	"CallDisconnected":       EventCallDisconnected,
	"RecognizeCompleted":     EventRecognizeCompleted,
	"RecognizeFailed":        EventRecognizeFailed,
	"PlayCompleted":          EventPlayCompleted,
	"PlayFailed":             EventPlayFailed,
	"SendDtmfTonesCompleted": EventDtmfCompleted,
	"SendDtmfTonesFailed":    EventDtmfFailed,
}

// TypeName returns the unqualified wire name for a kind.
func TypeName(k EventKind) string {
	for name, kind := range eventKinds {
		if kind == k {
			return name
		}
	}
	return ""
}

type eventData struct {
	CallConnectionID string `mapstructure:"callConnectionId"`
	CallSid          string `mapstructure:"callSid"`
	SpeechResult     struct {
		Speech string `mapstructure:"speech"`
		Text   string `mapstructure:"text"`
	} `mapstructure:"speechResult"`
	ResultInformation struct {
		Code    int    `mapstructure:"code"`
		SubCode int    `mapstructure:"subCode"`
		Message string `mapstructure:"message"`
	} `mapstructure:"resultInformation"`
}

// Normalize maps a raw provider event to exactly one Event kind.
// ok is false for unrecognized types; callers log and move on.
func Normalize(raw RawEvent) (Event, bool) {
	name := strings.TrimSpace(raw.Type)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	kind, ok := eventKinds[name]
	if !ok {
		return Event{}, false
	}

	ev := Event{Kind: kind, ID: raw.ID}

	var data eventData
	if err := decodeData(raw.Data, &data); err == nil {
		ev.ConnectionID = data.CallConnectionID
		if ev.ConnectionID == "" {
			ev.ConnectionID = data.CallSid
		}
		ev.Detail = data.ResultInformation.Message
		if kind == EventRecognizeCompleted {
			ev.Transcription = data.SpeechResult.Speech
			if ev.Transcription == "" {
				ev.Transcription = data.SpeechResult.Text
			}
			ev.Transcription = strings.TrimSpace(ev.Transcription)
		}
	}
	return ev, true
}

// decodeData tolerates loosely typed payloads: numbers as strings,
// differently cased keys, and unknown fields.
func decodeData(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
