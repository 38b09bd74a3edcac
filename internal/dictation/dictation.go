// Package dictation implements the listen-and-type drill: a generated target
// sentence is spoken, the learner types what they heard and every word is
// graded positionally.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultPrompt asks the generator for one short sentence
	DefaultPrompt = "Generate a short English sentence with about five words."
	// DefaultLanguage is the speech language of generated sentences
	DefaultLanguage = "en"
)

var (
	// ErrNoPhrase is returned when submitting or speaking before a sentence exists
	ErrNoPhrase = errors.New("no sentence has been requested yet")
	// ErrSuperseded is returned when a newer request replaced this one
	ErrSuperseded = errors.New("sentence request superseded by a newer one")
	// ErrEmptySentence is returned when the generator produced only whitespace
	ErrEmptySentence = errors.New("generator returned an empty sentence")
)

// Generator produces one sentence for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Speaker speaks text in a language. Calls are best effort.
type Speaker interface {
	Speak(text, lang string)
}

// State is the position of the flow
type State int

const (
	Idle State = iota
	AwaitingInput
	Graded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingInput:
		return "awaiting_input"
	case Graded:
		return "graded"
	default:
		return "unknown"
	}
}

// WordResult is the grade of one target word
type WordResult struct {
	Word    string `json:"word"`
	Correct bool   `json:"correct"`
}

// Compare grades typed against target word by word. The result has one entry
// per target word; missing typed words are incorrect and extra ones ignored.
func Compare(target, typed string) []WordResult {
	want := strings.Fields(target)
	got := strings.Fields(typed)

	results := make([]WordResult, len(want))
	for i, w := range want {
		results[i] = WordResult{Word: w, Correct: i < len(got) && strings.EqualFold(w, got[i])}
	}
	return results
}

// Score returns the number of correct words
func Score(results []WordResult) int {
	n := 0
	for _, r := range results {
		if r.Correct {
			n++
		}
	}
	return n
}

// Option configures a Flow
type Option func(*Flow)

// WithPrompt overrides the generation prompt
func WithPrompt(prompt string) Option {
	return func(f *Flow) { f.prompt = prompt }
}

// WithLanguage overrides the speech language
func WithLanguage(lang string) Option {
	return func(f *Flow) { f.lang = lang }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

// Flow is the dictation state machine. It is safe for concurrent use.
// Requests are numbered; a sentence is only discarded when a newer request
// has already delivered one.
type Flow struct {
	gen     Generator
	speaker Speaker
	prompt  string
	lang    string
	logger  *zap.Logger

	mu      sync.Mutex
	issued  uint64
	applied uint64
	phrase  string
	input   string
	results []WordResult
}

// NewFlow creates an idle flow. speaker may be nil.
func NewFlow(gen Generator, speaker Speaker, opts ...Option) *Flow {
	f := &Flow{
		gen:     gen,
		speaker: speaker,
		prompt:  DefaultPrompt,
		lang:    DefaultLanguage,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RequestSentence fetches a new target sentence. On success the input and
// previous grading are cleared. On failure the prior state is kept. A
// response that arrives after a newer request already succeeded is
// discarded; a newer request that fails does not invalidate older ones.
func (f *Flow) RequestSentence(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.issued++
	token := f.issued
	f.mu.Unlock()

	sentence, err := f.gen.Generate(ctx, f.prompt)
	if err != nil {
		f.logger.Warn("Sentence generation failed", zap.Error(err))
		return "", fmt.Errorf("generating sentence: %w", err)
	}
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return "", ErrEmptySentence
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if token < f.applied {
		f.logger.Debug("Discarding stale sentence", zap.Uint64("token", token), zap.Uint64("applied", f.applied))
		return "", ErrSuperseded
	}
	f.applied = token
	f.phrase = sentence
	f.input = ""
	f.results = nil
	return sentence, nil
}

// SetInput stores the current typed text without grading it
func (f *Flow) SetInput(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = text
}

// Submit grades typed against the target sentence
func (f *Flow) Submit(typed string) ([]WordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phrase == "" {
		return nil, ErrNoPhrase
	}
	f.input = typed
	f.results = Compare(f.phrase, typed)
	out := make([]WordResult, len(f.results))
	copy(out, f.results)
	return out, nil
}

// Speak asks the speaker to read the target sentence
func (f *Flow) Speak() error {
	f.mu.Lock()
	phrase := f.phrase
	f.mu.Unlock()
	if phrase == "" {
		return ErrNoPhrase
	}
	if f.speaker != nil {
		f.speaker.Speak(phrase, f.lang)
	}
	return nil
}

// Snapshot is the visible state of the flow
type Snapshot struct {
	State   string       `json:"state"`
	Phrase  string       `json:"phrase,omitempty"`
	Input   string       `json:"input"`
	Results []WordResult `json:"results,omitempty"`
	Score   int          `json:"score"`
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state()
}

func (f *Flow) state() State {
	switch {
	case f.phrase == "":
		return Idle
	case f.results == nil:
		return AwaitingInput
	default:
		return Graded
	}
}

// Snapshot returns the current view. The target phrase is only included
// once the input has been graded.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{State: f.state().String(), Input: f.input}
	if f.results != nil {
		s.Phrase = f.phrase
		s.Results = append([]WordResult(nil), f.results...)
		s.Score = Score(f.results)
	}
	return s
}
