package navigator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ivr-tester/internal/policy"
	"ivr-tester/internal/telephony"
)

// DefaultRetryDelay is the pause before re-arming recognition after a failure.
const DefaultRetryDelay = 1000 * time.Millisecond

// ErrStale marks an input that no longer applies to the session.
var ErrStale = errors.New("navigator: stale input")

// Input is anything that can advance the state machine.
type Input interface{ input() }

// ProviderEvent is a normalized call-control event.
type ProviderEvent struct {
	Event telephony.Event
}

// DecisionReady carries the policy's answer for a given turn.
type DecisionReady struct {
	SessionID string
	Turn      int
	Action    policy.Action
}

// RetryDue fires when a scheduled recognition retry elapses.
type RetryDue struct {
	SessionID string
}

func (ProviderEvent) input() {}
func (DecisionReady) input() {}
func (RetryDue) input()      {}

// Command is a side effect the navigator must carry out after a transition.
type Command interface{ command() }

type (
	StartRecognizing  struct{}
	ScheduleRecognize struct{ Delay time.Duration }
	RequestDecision   struct {
		Turn          int
		Transcription string
	}
	SendTones struct{ Tones []telephony.Tone }
	PlayText  struct{ Text string }
	HangUp    struct{}
)

func (StartRecognizing) command()  {}
func (ScheduleRecognize) command() {}
func (RequestDecision) command()   {}
func (SendTones) command()         {}
func (PlayText) command()          {}
func (HangUp) command()            {}

// Machine is the pure transition function of the navigation loop:
// recognize, decide, act, recognize again.
type Machine struct {
	RetryDelay time.Duration
}

func (m Machine) retryDelay() time.Duration {
	if m.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return m.RetryDelay
}

// Step applies one input. A session that is not running absorbs everything.
// Inputs that do not fit the current state return ErrStale and leave the
// session unchanged.
func (m Machine) Step(s Session, in Input) (Session, []Command, error) {
	if !s.Running {
		return s, nil, fmt.Errorf("%w: session %s", ErrStale, s.Status)
	}
	switch in := in.(type) {
	case ProviderEvent:
		return m.onEvent(s, in.Event)
	case DecisionReady:
		return m.onDecision(s, in)
	case RetryDue:
		if in.SessionID != s.ID || s.Status != StatusListening {
			return s, nil, fmt.Errorf("%w: retry while %s", ErrStale, s.Status)
		}
		return s, []Command{StartRecognizing{}}, nil
	default:
		return s, nil, fmt.Errorf("navigator: unsupported input %T", in)
	}
}

func (m Machine) onEvent(s Session, ev telephony.Event) (Session, []Command, error) {
	if ev.ConnectionID != "" && s.ConnectionID != "" && ev.ConnectionID != s.ConnectionID {
		return s, nil, fmt.Errorf("%w: event for connection %s", ErrStale, ev.ConnectionID)
	}

	switch ev.Kind {
	case telephony.EventCallConnected:
		if s.ConnectionID == "" {
			s.ConnectionID = ev.ConnectionID
		}
		s.Status = StatusListening
		s.RecognizeFailures = 0
		return s, []Command{StartRecognizing{}}, nil

	case telephony.EventCallDisconnected:
		s.Running = false
		s.Status = StatusDisconnected
		return s, nil, nil

	case telephony.EventRecognizeCompleted:
		if s.Status != StatusListening {
			return s, nil, fmt.Errorf("%w: recognition while %s", ErrStale, s.Status)
		}
		s.RecognizeFailures = 0
		s.LastTranscription = ev.Transcription
		if strings.TrimSpace(ev.Transcription) == "" {
			return s, []Command{StartRecognizing{}}, nil
		}
		s.Turn++
		s.Status = StatusDeciding
		return s, []Command{RequestDecision{Turn: s.Turn, Transcription: ev.Transcription}}, nil

	case telephony.EventRecognizeFailed:
		if s.Status != StatusListening {
			return s, nil, fmt.Errorf("%w: recognition failure while %s", ErrStale, s.Status)
		}
		s.RecognizeFailures++
		return s, []Command{ScheduleRecognize{Delay: m.retryDelay()}}, nil

	case telephony.EventPlayCompleted, telephony.EventPlayFailed,
		telephony.EventDtmfCompleted, telephony.EventDtmfFailed:
		// The pending decision drives the loop from here.
		if s.Status == StatusDeciding {
			return s, nil, fmt.Errorf("%w: %s while deciding", ErrStale, ev.Kind)
		}
		s.Status = StatusListening
		return s, []Command{StartRecognizing{}}, nil

	default:
		return s, nil, fmt.Errorf("navigator: unsupported event kind %d", ev.Kind)
	}
}

func (m Machine) onDecision(s Session, d DecisionReady) (Session, []Command, error) {
	if d.SessionID != s.ID || s.Status != StatusDeciding || d.Turn != s.Turn {
		return s, nil, fmt.Errorf("%w: decision for turn %d", ErrStale, d.Turn)
	}

	switch d.Action.Type {
	case policy.ActionDTMF:
		if tones := telephony.ParseTones(d.Action.Value); len(tones) > 0 {
			s.Status = StatusActing
			return s, []Command{SendTones{Tones: tones}}, nil
		}
	case policy.ActionSpeak:
		if text := strings.TrimSpace(d.Action.Value); text != "" {
			s.Status = StatusActing
			return s, []Command{PlayText{Text: text}}, nil
		}
	case policy.ActionHangup:
		s.Running = false
		s.Status = StatusDisconnected
		return s, []Command{HangUp{}}, nil
	}

	// WAIT, empty values and unknown types all mean listen again.
	s.Status = StatusListening
	return s, []Command{StartRecognizing{}}, nil
}
