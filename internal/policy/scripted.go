package policy

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script is a deterministic decision table, e.g.
//
//	rules:
//	  - contains: "press 1 for sales"
//	    action: {type: DTMF, value: "1"}
//	  - pattern: "(?i)say your name"
//	    action: {type: SPEAK, value: "John Doe"}
//	default: {type: WAIT}
type Script struct {
	Rules   []Rule  `yaml:"rules"`
	Default *Action `yaml:"default"`
}

// Rule matches an utterance by case-insensitive substring or by regex.
type Rule struct {
	Contains string `yaml:"contains"`
	Pattern  string `yaml:"pattern"`
	Action   Action `yaml:"action"`

	re *regexp.Regexp
}

// Scripted answers from a Script; first matching rule wins.
type Scripted struct {
	rules    []Rule
	fallback Action
}

// LoadScript reads a YAML script from disk.
func LoadScript(path string) (*Scripted, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read script: %w", err)
	}
	return ParseScript(b)
}

// ParseScript validates a YAML script.
func ParseScript(b []byte) (*Scripted, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("policy: parse script: %w", err)
	}
	return NewScripted(s)
}

func NewScripted(s Script) (*Scripted, error) {
	out := &Scripted{fallback: Wait()}
	if s.Default != nil {
		d := normalizeAction(*s.Default)
		if !d.Known() {
			return nil, fmt.Errorf("policy: default action has unknown type %q", s.Default.Type)
		}
		out.fallback = d
	}
	for i, r := range s.Rules {
		r.Action = normalizeAction(r.Action)
		if !r.Action.Known() {
			return nil, fmt.Errorf("policy: rule %d has unknown action type %q", i, r.Action.Type)
		}
		switch {
		case r.Pattern != "":
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("policy: rule %d: %w", i, err)
			}
			r.re = re
		case strings.TrimSpace(r.Contains) != "":
			r.Contains = strings.ToLower(strings.TrimSpace(r.Contains))
		default:
			return nil, fmt.Errorf("policy: rule %d needs contains or pattern", i)
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

func (s *Scripted) DecideAction(_ context.Context, transcription string) Action {
	lower := strings.ToLower(transcription)
	for _, r := range s.rules {
		if r.re != nil {
			if r.re.MatchString(transcription) {
				return r.Action
			}
			continue
		}
		if strings.Contains(lower, r.Contains) {
			return r.Action
		}
	}
	return s.fallback
}

func normalizeAction(a Action) Action {
	a.Type = ActionType(strings.ToUpper(strings.TrimSpace(string(a.Type))))
	a.Value = strings.TrimSpace(a.Value)
	return a
}
