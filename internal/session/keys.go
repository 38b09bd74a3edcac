package session

import (
	"errors"
	"strings"
)

// ErrUnknownKey is returned for keys without a binding
var ErrUnknownKey = errors.New("no action bound to key")

// Action is a practice action reachable from the keyboard
type Action string

const (
	ActionToggleReveal   Action = "toggle_reveal"
	ActionGradeCorrect   Action = "grade_correct"
	ActionGradeIncorrect Action = "grade_incorrect"
	ActionNext           Action = "next"
	ActionPrevious       Action = "previous"
)

// Keymap holds the fixed key bindings. Single-letter keys are matched
// case-insensitively.
var Keymap = map[string]Action{
	" ":          ActionToggleReveal,
	"space":      ActionToggleReveal,
	"a":          ActionGradeCorrect,
	"d":          ActionGradeIncorrect,
	"arrowright": ActionNext,
	"arrowleft":  ActionPrevious,
}

// LookupKey returns the action bound to key
func LookupKey(key string) (Action, bool) {
	if key != " " {
		key = strings.ToLower(strings.TrimSpace(key))
	}
	action, ok := Keymap[key]
	return action, ok
}

// HandleKey applies the action bound to key. Shortcuts only work while a
// round is active.
func (s *Session) HandleKey(key string) (Action, error) {
	action, ok := LookupKey(key)
	if !ok {
		return "", ErrUnknownKey
	}
	if s.State() != Active {
		return action, ErrInactive
	}
	return action, s.Apply(action)
}

// Apply performs a practice action
func (s *Session) Apply(action Action) error {
	switch action {
	case ActionToggleReveal:
		s.ToggleReveal()
	case ActionGradeCorrect:
		return s.Grade(true)
	case ActionGradeIncorrect:
		return s.Grade(false)
	case ActionNext:
		s.Next()
	case ActionPrevious:
		s.Previous()
	default:
		return ErrUnknownKey
	}
	return nil
}
