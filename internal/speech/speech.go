// Package speech reads card text aloud through a pluggable synthesis engine.
package speech

import (
	"context"
	"strings"
)

// Voice is one synthesis voice offered by an engine
type Voice struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is one request to speak
type Utterance struct {
	Text     string
	VoiceURI string
	Lang     string
	Rate     float64
}

// Engine synthesises speech. Speak blocks until the utterance finished or
// ctx was cancelled.
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, u Utterance) error
}

// VoiceNotifier is implemented by engines that announce voice list changes.
// The returned function removes the subscription.
type VoiceNotifier interface {
	OnVoicesChanged(fn func()) (unsubscribe func())
}

// SelectVoice picks the voice with preferredURI, else the first voice whose
// language starts with lang, else the first voice.
func SelectVoice(pool []Voice, preferredURI, lang string) (Voice, bool) {
	if len(pool) == 0 {
		return Voice{}, false
	}
	if preferredURI != "" {
		for _, v := range pool {
			if v.URI == preferredURI {
				return v, true
			}
		}
	}
	if lang != "" {
		lang = strings.ToLower(lang)
		for _, v := range pool {
			if strings.HasPrefix(strings.ToLower(v.Lang), lang) {
				return v, true
			}
		}
	}
	return pool[0], true
}

// Silent is an engine with no voices that discards every utterance
type Silent struct{}

func (Silent) Voices(context.Context) ([]Voice, error) { return nil, nil }

func (Silent) Speak(context.Context, Utterance) error { return nil }
