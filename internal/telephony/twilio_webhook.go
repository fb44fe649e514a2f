package telephony

import (
	"net/http"
	"strings"
)

// TwilioCallback captures the subset of voice callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// The "event" query parameter is ours: it tells which TwiML step reported back.
type TwilioCallback struct {
	Event          string
	CallSid        string
	AccountSid     string
	From           string
	To             string
	CallStatus     string
	SpeechResult   string
	Confidence     string
	SequenceNumber string
}

const twilioNamespace = "Twilio.Voice."

func ParseTwilioCallback(r *http.Request) (TwilioCallback, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallback{}, err
	}
	return TwilioCallback{
		Event:          strings.TrimSpace(r.URL.Query().Get("event")),
		CallSid:        r.PostFormValue("CallSid"),
		AccountSid:     r.PostFormValue("AccountSid"),
		From:           normalizePhone(r.PostFormValue("From")),
		To:             normalizePhone(r.PostFormValue("To")),
		CallStatus:     strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		SpeechResult:   r.PostFormValue("SpeechResult"),
		Confidence:     r.PostFormValue("Confidence"),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
	}, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// ToRawEvent translates the callback into the namespaced event vocabulary so
// it flows through Normalize like any other provider event.
func (f TwilioCallback) ToRawEvent() RawEvent {
	data := map[string]any{"callSid": f.CallSid}
	raw := RawEvent{Data: data}

	switch f.Event {
	case callbackStatus:
		raw.Type = twilioNamespace + statusEventName(f.CallStatus)
		if f.SequenceNumber != "" {
			raw.ID = f.CallSid + ":status:" + f.SequenceNumber
		}
		data["resultInformation"] = map[string]any{"message": f.CallStatus}
	case callbackRecognized:
		raw.Type = twilioNamespace + TypeName(EventRecognizeCompleted)
		data["speechResult"] = map[string]any{"speech": f.SpeechResult, "confidence": f.Confidence}
	case callbackRecognizeTimeout:
		raw.Type = twilioNamespace + TypeName(EventRecognizeFailed)
		data["resultInformation"] = map[string]any{"message": "no speech detected"}
	case callbackPlayed:
		raw.Type = twilioNamespace + TypeName(EventPlayCompleted)
	case callbackDtmfSent:
		raw.Type = twilioNamespace + TypeName(EventDtmfCompleted)
	default:
		raw.Type = twilioNamespace + "Hold"
	}
	return raw
}

func statusEventName(status string) string {
	switch status {
	case "in-progress", "answered":
		return TypeName(EventCallConnected)
	case "completed", "busy", "failed", "no-answer", "canceled":
		return TypeName(EventCallDisconnected)
	default:
		return "CallStatus"
	}
}
