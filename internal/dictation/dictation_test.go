package dictation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// scriptedGenerator returns queued replies in order
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text string
	err  error
	wait chan struct{}
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	r := g.replies[0]
	g.replies = g.replies[1:]
	g.mu.Unlock()

	if r.wait != nil {
		select {
		case <-r.wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

type recordingSpeaker struct {
	spoken []string
	langs  []string
}

func (s *recordingSpeaker) Speak(text, lang string) {
	s.spoken = append(s.spoken, text)
	s.langs = append(s.langs, lang)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		target string
		typed  string
		want   []WordResult
	}{
		{
			name:   "missing trailing words are incorrect",
			target: "the cat sat down",
			typed:  "the Cat sit",
			want: []WordResult{
				{Word: "the", Correct: true},
				{Word: "cat", Correct: true},
				{Word: "sat", Correct: false},
				{Word: "down", Correct: false},
			},
		},
		{
			name:   "extra typed words are ignored",
			target: "go now",
			typed:  "go now please",
			want: []WordResult{
				{Word: "go", Correct: true},
				{Word: "now", Correct: true},
			},
		},
		{
			name:   "whitespace runs split like single spaces",
			target: "  I  like\ttea ",
			typed:  "i LIKE   tea",
			want: []WordResult{
				{Word: "I", Correct: true},
				{Word: "like", Correct: true},
				{Word: "tea", Correct: true},
			},
		},
		{
			name:   "empty input grades everything incorrect",
			target: "hello world",
			typed:  "",
			want: []WordResult{
				{Word: "hello", Correct: false},
				{Word: "world", Correct: false},
			},
		},
		{
			name:   "punctuation is part of the word",
			target: "Stop here.",
			typed:  "stop here",
			want: []WordResult{
				{Word: "Stop", Correct: true},
				{Word: "here.", Correct: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.target, tt.typed)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compare() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlow_Lifecycle(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: " the cat sat down \n"}, {text: "go now"}}}
	speaker := &recordingSpeaker{}
	flow := NewFlow(gen, speaker)

	assert.Equal(t, Idle, flow.State())
	_, err := flow.Submit("anything")
	assert.ErrorIs(t, err, ErrNoPhrase)
	assert.ErrorIs(t, flow.Speak(), ErrNoPhrase)

	sentence, err := flow.RequestSentence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "the cat sat down", sentence)
	assert.Equal(t, AwaitingInput, flow.State())
	assert.Equal(t, []string{DefaultPrompt}, gen.prompts)

	require.NoError(t, flow.Speak())
	assert.Equal(t, []string{"the cat sat down"}, speaker.spoken)
	assert.Equal(t, []string{DefaultLanguage}, speaker.langs)

	flow.SetInput("the Cat")
	snap := flow.Snapshot()
	assert.Equal(t, "the Cat", snap.Input)
	assert.Empty(t, snap.Phrase, "phrase stays hidden until graded")

	results, err := flow.Submit("the Cat sit")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, Graded, flow.State())
	snap = flow.Snapshot()
	assert.Equal(t, "the cat sat down", snap.Phrase)
	assert.Equal(t, 2, snap.Score)

	// Speaking is independent of grading
	require.NoError(t, flow.Speak())
	assert.Len(t, speaker.spoken, 2)

	_, err = flow.RequestSentence(context.Background())
	require.NoError(t, err)
	snap = flow.Snapshot()
	assert.Equal(t, "awaiting_input", snap.State)
	assert.Empty(t, snap.Input)
	assert.Nil(t, snap.Results)
}

func TestFlow_FailurePreservesState(t *testing.T) {
	boom := errors.New("rate limited")
	gen := &scriptedGenerator{replies: []reply{{text: "go now"}, {err: boom}, {text: "   "}}}
	flow := NewFlow(gen, nil)

	_, err := flow.RequestSentence(context.Background())
	require.NoError(t, err)
	_, err = flow.Submit("go later")
	require.NoError(t, err)
	before := flow.Snapshot()

	_, err = flow.RequestSentence(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, flow.Snapshot())

	_, err = flow.RequestSentence(context.Background())
	assert.ErrorIs(t, err, ErrEmptySentence)
	assert.Equal(t, before, flow.Snapshot())

	// nil speaker is tolerated
	assert.NoError(t, flow.Speak())
}

func TestFlow_LatestRequestWins(t *testing.T) {
	slow := make(chan struct{})
	gen := &scriptedGenerator{replies: []reply{{text: "slow old sentence", wait: slow}, {text: "fresh sentence"}}}
	flow := NewFlow(gen, nil, WithPrompt("custom prompt"))

	type outcome struct {
		text string
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		text, err := flow.RequestSentence(context.Background())
		first <- outcome{text, err}
	}()

	// Wait until the first request is parked in the generator
	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.prompts) == 1
	}, testTimeout, testTick)

	text, err := flow.RequestSentence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh sentence", text)

	close(slow)
	got := <-first
	assert.ErrorIs(t, got.err, ErrSuperseded)

	results, err := flow.Submit("fresh sentence")
	require.NoError(t, err)
	assert.Equal(t, 2, Score(results))
	assert.Equal(t, []string{"custom prompt", "custom prompt"}, gen.prompts)
}

func TestFlow_FailedNewerRequestKeepsOlder(t *testing.T) {
	slow := make(chan struct{})
	gen := &scriptedGenerator{replies: []reply{
		{text: "the slow one arrives", wait: slow},
		{err: errors.New("rate limited")},
	}}
	flow := NewFlow(gen, nil)

	first := make(chan error, 1)
	go func() {
		_, err := flow.RequestSentence(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.prompts) == 1
	}, testTimeout, testTick)

	_, err := flow.RequestSentence(context.Background())
	require.Error(t, err)
	assert.Equal(t, Idle, flow.State())

	close(slow)
	require.NoError(t, <-first, "an older sentence is kept when the newer request failed")
	assert.Equal(t, AwaitingInput, flow.State())

	results, err := flow.Submit("the slow one arrives")
	require.NoError(t, err)
	assert.Equal(t, 4, Score(results))
}
