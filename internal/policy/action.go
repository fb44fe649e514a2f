package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ActionType is the kind of step the tester takes next.
type ActionType string

const (
	ActionDTMF   ActionType = "DTMF"
	ActionSpeak  ActionType = "SPEAK"
	ActionHangup ActionType = "HANGUP"
	ActionWait   ActionType = "WAIT"
)

// Action is a decision: DTMF carries digits in Value, SPEAK carries text.
type Action struct {
	Type  ActionType `json:"type" yaml:"type"`
	Value string     `json:"value,omitempty" yaml:"value"`
}

// Wait is the safe fallback decision.
func Wait() Action { return Action{Type: ActionWait} }

func (a Action) String() string {
	if a.Value == "" {
		return string(a.Type)
	}
	return fmt.Sprintf("%s(%s)", a.Type, a.Value)
}

// Known reports whether Type is one of the four supported kinds.
func (a Action) Known() bool {
	switch a.Type {
	case ActionDTMF, ActionSpeak, ActionHangup, ActionWait:
		return true
	default:
		return false
	}
}

// Policy picks the next action for an IVR utterance. Implementations never
// fail: anything that goes wrong yields Wait().
type Policy interface {
	DecideAction(ctx context.Context, transcription string) Action
}

// Func adapts a function to Policy.
type Func func(ctx context.Context, transcription string) Action

func (f Func) DecideAction(ctx context.Context, transcription string) Action {
	return f(ctx, transcription)
}

var ErrMalformedAction = errors.New("policy: malformed action")

// ParseAction reads an Action from model output. It tolerates code fences
// and prose around the JSON object.
func ParseAction(raw string) (Action, error) {
	body := cleanJSON(raw)
	if body == "" {
		return Action{}, fmt.Errorf("%w: empty output", ErrMalformedAction)
	}
	var wire struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	a := Action{
		Type:  ActionType(strings.ToUpper(strings.TrimSpace(wire.Type))),
		Value: valueString(wire.Value),
	}
	if !a.Known() {
		return Action{}, fmt.Errorf("%w: unknown type %q", ErrMalformedAction, wire.Type)
	}
	return a, nil
}

// Models sometimes answer {"type":"DTMF","value":1}.
func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", val))
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
