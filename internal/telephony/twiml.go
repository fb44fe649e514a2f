package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TwiML is a minimal Twilio Markup Language builder for call control.
// Every media verb is followed by a Redirect back to our callback so the
// outcome of the verb is reported as an event.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Digits  string   `xml:"digits,attr"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Callback event markers carried in the "event" query parameter.
const (
	callbackStatus           = "status"
	callbackRecognized       = "recognized"
	callbackRecognizeTimeout = "recognize_timeout"
	callbackPlayed           = "played"
	callbackDtmfSent         = "dtmf_sent"
	callbackHold             = "hold"
)

const holdPauseSeconds = 30

// callbackURL appends the event marker to the Twilio callback endpoint.
func callbackURL(base, event string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("telephony: callback url must be absolute")
	}
	q := u.Query()
	q.Set("event", event)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redirectTo(base, event string) (twimlRedirect, error) {
	target, err := callbackURL(base, event)
	if err != nil {
		return twimlRedirect{}, err
	}
	return twimlRedirect{Method: "POST", URL: target}, nil
}

// RecognizeTwiML listens for one spoken utterance. If nothing is said the
// Gather falls through to the timeout redirect.
func RecognizeTwiML(base string) (string, error) {
	action, err := callbackURL(base, callbackRecognized)
	if err != nil {
		return "", err
	}
	timeout, err := redirectTo(base, callbackRecognizeTimeout)
	if err != nil {
		return "", err
	}
	return render(
		twimlGather{
			Input:         "speech",
			SpeechTimeout: strconv.Itoa(EndOfSpeechTimeoutSeconds),
			Action:        action,
			Method:        "POST",
		},
		timeout,
	)
}

// PlayTextTwiML speaks text with the provider's synthesized voice.
func PlayTextTwiML(base, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("telephony: text required for say")
	}
	done, err := redirectTo(base, callbackPlayed)
	if err != nil {
		return "", err
	}
	return render(twimlSay{Text: text}, done)
}

// ErrUnsupportedTone is returned for tones Twilio's <Play digits> cannot
// play. It accepts 0-9, * and # only, so A-D are rejected up front.
var ErrUnsupportedTone = errors.New("telephony: tone not playable via twilio")

// DtmfTwiML plays a keypad sequence into the call.
func DtmfTwiML(base string, tones []Tone) (string, error) {
	if len(tones) == 0 {
		return "", errors.New("telephony: tones required for dtmf")
	}
	for _, t := range tones {
		switch t {
		case ToneA, ToneB, ToneC, ToneD:
			return "", fmt.Errorf("%w: %s", ErrUnsupportedTone, t)
		}
	}
	done, err := redirectTo(base, callbackDtmfSent)
	if err != nil {
		return "", err
	}
	return render(twimlPlay{Digits: Digits(tones)}, done)
}

// HoldTwiML keeps the call open while the navigator decides what to do.
// It loops back to itself until replaced by a call update.
func HoldTwiML(base string) (string, error) {
	again, err := redirectTo(base, callbackHold)
	if err != nil {
		return "", err
	}
	return render(twimlPause{Length: holdPauseSeconds}, again)
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
