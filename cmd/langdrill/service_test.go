package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danieldreier/langdrill/internal/cards"
	"github.com/danieldreier/langdrill/internal/dictation"
	"github.com/danieldreier/langdrill/internal/session"
	"github.com/danieldreier/langdrill/internal/speech"
	"github.com/danieldreier/langdrill/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeNow temporarily replaces timeNow
func mockTimeNow(mockTime time.Time) func() {
	original := timeNow
	timeNow = func() time.Time {
		return mockTime
	}
	return func() {
		timeNow = original
	}
}

// fakeEngine offers a fixed voice list and records what it was asked to say
type fakeEngine struct {
	voices []speech.Voice

	mu     sync.Mutex
	spoken []speech.Utterance
}

func (e *fakeEngine) Voices(context.Context) ([]speech.Voice, error) {
	return e.voices, nil
}

func (e *fakeEngine) Speak(_ context.Context, u speech.Utterance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spoken = append(e.spoken, u)
	return nil
}

func (e *fakeEngine) said(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range e.spoken {
		if u.Text == text {
			return true
		}
	}
	return false
}

// fakeGenerator returns a fixed sentence or error
type fakeGenerator struct {
	sentence string
	err      error
}

func (g fakeGenerator) Generate(context.Context, string) (string, error) {
	return g.sentence, g.err
}

func testVoices() []speech.Voice {
	return []speech.Voice{
		{URI: "pt-BR", Name: "Portuguese (Brazil)", Lang: "pt-BR"},
		{URI: "en-US", Name: "English (America)", Lang: "en-US"},
		{URI: "en-GB", Name: "English (Great Britain)", Lang: "en-GB"},
	}
}

// openTestStore loads a FileStore at path
func openTestStore(t *testing.T, path string) *storage.FileStore {
	t.Helper()
	store := storage.NewFileStore(path, nil)
	require.NoError(t, store.Load(), "Failed to initialize storage")
	return store
}

// newTestService builds a service over a store in a temp dir
func newTestService(t *testing.T, engine *fakeEngine, gen dictation.Generator) (*DrillService, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "langdrill-test.json")
	return openTestService(t, path, engine, gen), path
}

func openTestService(t *testing.T, path string, engine *fakeEngine, gen dictation.Generator) *DrillService {
	t.Helper()
	if engine == nil {
		engine = &fakeEngine{voices: testVoices()}
	}
	if gen == nil {
		gen = fakeGenerator{sentence: "The cat sat"}
	}
	svc := NewDrillService(ServiceConfig{
		Store:         openTestStore(t, path),
		Generator:     gen,
		Engine:        engine,
		Rand:          rand.New(rand.NewPCG(7, 11)),
		SpeechOptions: []speech.DispatcherOption{speech.WithVoiceRetry(1, time.Millisecond)},
	})
	t.Cleanup(svc.Close)
	return svc
}

func seedCards(t *testing.T, svc *DrillService) {
	t.Helper()
	for _, c := range []cards.Card{
		{Front: "apple", Back: "maçã", Category: "Frutas"},
		{Front: "dog", Back: "cão", Category: "Animais"},
		{Front: "pear", Back: "pera", Category: "Frutas"},
	} {
		_, err := svc.CreateCard(c.Front, c.Back, c.Category)
		require.NoError(t, err)
	}
}

func TestNewDrillService_EmptyStore(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	view := svc.Status()
	assert.Equal(t, "no_cards", view.State)
	assert.Equal(t, cards.AllCategories, view.Category)
	assert.Nil(t, view.Card)
}

func TestCreateCard(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	card, err := svc.CreateCard("  hello ", " olá ", "")
	require.NoError(t, err)
	assert.NotEmpty(t, card.ID)
	assert.Equal(t, "hello", card.Front)
	assert.Equal(t, "olá", card.Back)

	_, err = svc.CreateCard("hello", "  ", "")
	assert.ErrorIs(t, err, cards.ErrMissingText)

	view := svc.Status()
	assert.Equal(t, "active", view.State)
	assert.Equal(t, 1, view.Total)
	require.NotNil(t, view.Card)
	assert.Equal(t, "hello", view.Card.Front)
	assert.Empty(t, view.Card.Back, "back must stay hidden until revealed")
}

func TestPracticeRound(t *testing.T) {
	defer mockTimeNow(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))()
	svc, _ := newTestService(t, nil, nil)
	seedCards(t, svc)

	_, _, err := svc.Grade(true)
	assert.ErrorIs(t, err, session.ErrNotRevealed, "grading before reveal must fail")
	assert.Equal(t, 0, svc.Status().Answered)

	var missed []cards.Card
	for i := 0; i < 3; i++ {
		view, err := svc.Reveal("show")
		require.NoError(t, err)
		require.NotNil(t, view.Card)
		assert.NotEmpty(t, view.Card.Back)

		graded, _, err := svc.Grade(i == 0)
		require.NoError(t, err)
		if i != 0 {
			missed = append(missed, graded)
		}
	}

	view := svc.Status()
	assert.Equal(t, "complete", view.State)
	assert.Equal(t, 3, view.Answered)

	_, _, err = svc.Grade(true)
	assert.ErrorIs(t, err, session.ErrInactive)

	summary := svc.Summary()
	assert.Equal(t, 1, summary.CorrectCount())
	assert.Equal(t, missed, summary.Incorrect)

	view, err = svc.RetryWrong()
	require.NoError(t, err)
	assert.Equal(t, "active", view.State)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, 0, view.Answered)
	require.NotNil(t, view.Card)
	assert.Equal(t, missed[0].ID, view.Card.ID, "retry keeps play order")

	report := svc.ProgressReport(10)
	assert.Equal(t, 3, report.Stats.TotalReviews)
	assert.Equal(t, 3, report.Stats.TrackedCards)
	require.Len(t, report.Struggling, 2)
	for _, s := range report.Struggling {
		assert.Equal(t, 1, s.Misses)
		assert.Contains(t, []string{missed[0].ID, missed[1].ID}, s.Card.ID)
	}
}

func TestPressKey(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	seedCards(t, svc)

	action, view, err := svc.PressKey("space")
	require.NoError(t, err)
	assert.Equal(t, session.ActionToggleReveal, action)
	assert.True(t, view.Revealed)

	action, view, err = svc.PressKey("A")
	require.NoError(t, err)
	assert.Equal(t, session.ActionGradeCorrect, action)
	assert.Equal(t, 1, view.Answered)
	assert.Equal(t, 1, svc.ProgressReport(5).Stats.TotalReviews, "keyboard grades feed progress")

	_, _, err = svc.PressKey("q")
	assert.ErrorIs(t, err, session.ErrUnknownKey)
}

func TestSetCategory(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	seedCards(t, svc)

	view, err := svc.SetCategory("Frutas")
	require.NoError(t, err)
	assert.Equal(t, "active", view.State)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, "Frutas", svc.Preferences().Category)

	view, err = svc.SetCategory("Verbos")
	require.NoError(t, err)
	assert.Equal(t, "empty_filter", view.State)
	assert.Nil(t, view.Card)

	view, err = svc.SetCategory("")
	require.NoError(t, err)
	assert.Equal(t, cards.AllCategories, view.Category)
	assert.Equal(t, 3, view.Total)
}

func TestDeleteCard(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	seedCards(t, svc)

	assert.ErrorIs(t, svc.DeleteCard("missing"), cards.ErrCardNotFound)

	victim := svc.ListCards("dog", "")
	require.Len(t, victim, 1)
	require.NoError(t, svc.DeleteCard(victim[0].ID))

	assert.Len(t, svc.ListCards("", ""), 2)
	assert.Equal(t, 2, svc.Status().Total)
}

func TestImportExport(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	added, err := svc.ImportCards([]byte(`[{"front":"x"}]`))
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	_, err = svc.ImportCards([]byte(`{"front":"x"`))
	assert.ErrorIs(t, err, cards.ErrInvalidDocument)

	added, err = svc.ImportCards([]byte(`[{"front":"one","back":"um","category":"Números"},{"front":"two","back":"dois"}]`))
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, "active", svc.Status().State)

	data, count, err := svc.ExportCards()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Contains(t, string(data), `"front": "one"`)

	counts := svc.CategoryCounts()
	assert.Equal(t, []CategoryCount{
		{Category: cards.AllCategories, Cards: 2},
		{Category: "Números", Cards: 1},
	}, counts)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	svc, path := newTestService(t, nil, nil)
	seedCards(t, svc)
	_, err := svc.SetCategory("Animais")
	require.NoError(t, err)
	rate := 1.5
	autoSpeak := false
	_, err = svc.UpdatePreferences(PreferencesUpdate{Rate: &rate, AutoSpeak: &autoSpeak})
	require.NoError(t, err)
	_, err = svc.Reveal("")
	require.NoError(t, err)
	_, _, err = svc.Grade(false)
	require.NoError(t, err)
	svc.Close()

	reopened := openTestService(t, path, nil, nil)
	assert.Len(t, reopened.ListCards("", ""), 3)

	p := reopened.Preferences()
	assert.Equal(t, "Animais", p.Category)
	assert.Equal(t, 1.5, p.Rate)
	assert.False(t, p.AutoSpeak)

	view := reopened.Status()
	assert.Equal(t, "Animais", view.Category)
	assert.Equal(t, 1, view.Total)
	assert.Equal(t, 0, view.Answered, "round state is not persisted")
	assert.Equal(t, 1, reopened.ProgressReport(10).Stats.TotalReviews)
}

func TestUpdatePreferences_ClampsRate(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	rate := 50.0
	voice := " en-GB "
	p, err := svc.UpdatePreferences(PreferencesUpdate{Rate: &rate, VoiceURI: &voice})
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Rate)
	assert.Equal(t, "en-GB", p.VoiceURI)
}

// prefsFailingStore rejects preference writes while failPrefs is set
type prefsFailingStore struct {
	storage.Store
	failPrefs atomic.Bool
}

func (s *prefsFailingStore) Put(key string, value []byte) error {
	if key == storage.PreferencesKey && s.failPrefs.Load() {
		return errDiskFull
	}
	return s.Store.Put(key, value)
}

var errDiskFull = errors.New("disk full")

func TestCategoryChange_FailedSaveKeepsSession(t *testing.T) {
	store := &prefsFailingStore{Store: openTestStore(t, filepath.Join(t.TempDir(), "langdrill-test.json"))}
	svc := NewDrillService(ServiceConfig{
		Store:         store,
		Generator:     fakeGenerator{sentence: "The cat sat"},
		Engine:        &fakeEngine{voices: testVoices()},
		Rand:          rand.New(rand.NewPCG(7, 11)),
		SpeechOptions: []speech.DispatcherOption{speech.WithVoiceRetry(1, time.Millisecond)},
	})
	t.Cleanup(svc.Close)
	seedCards(t, svc)

	_, err := svc.SetCategory("Frutas")
	require.NoError(t, err)
	store.failPrefs.Store(true)

	view, err := svc.SetCategory("Animais")
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, "Frutas", view.Category)
	assert.Equal(t, 2, view.Total)

	category := "Animais"
	rate := 2.0
	p, err := svc.UpdatePreferences(PreferencesUpdate{Category: &category, Rate: &rate})
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, "Frutas", p.Category)
	assert.Equal(t, 1.0, p.Rate, "no field is adopted from a failed update")

	assert.Equal(t, "Frutas", svc.Status().Category)
	assert.Equal(t, svc.Preferences().Category, svc.Status().Category, "session and preferences agree")

	store.failPrefs.Store(false)
	p, err = svc.UpdatePreferences(PreferencesUpdate{Category: &category})
	require.NoError(t, err)
	assert.Equal(t, "Animais", p.Category)
	assert.Equal(t, "Animais", svc.Status().Category)
	assert.Equal(t, 1, svc.Status().Total)
}

func TestVoices(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	voices, err := svc.Voices(ctx, false)
	require.NoError(t, err)
	require.Len(t, voices, 2)
	for _, v := range voices {
		assert.Contains(t, v.Lang, "en")
	}
	assert.Equal(t, "en-US", svc.Preferences().VoiceURI, "first English voice is chosen automatically")

	all, err := svc.Voices(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAutoSpeak(t *testing.T) {
	engine := &fakeEngine{voices: testVoices()}
	svc, _ := newTestService(t, engine, nil)

	_, err := svc.CreateCard("good morning", "bom dia", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return engine.said("good morning")
	}, time.Second, 5*time.Millisecond, "front should be spoken when shown")

	card, err := svc.SpeakCard()
	require.NoError(t, err)
	assert.Equal(t, "good morning", card.Front)
}

func TestSpeakCard_NoCard(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	_, err := svc.SpeakCard()
	assert.ErrorIs(t, err, session.ErrNoCurrentCard)
}

func TestDictation(t *testing.T) {
	engine := &fakeEngine{voices: testVoices()}
	svc, _ := newTestService(t, engine, fakeGenerator{sentence: "  The cat sat \n"})
	ctx := context.Background()

	_, err := svc.SubmitDictation("anything")
	assert.ErrorIs(t, err, dictation.ErrNoPhrase)

	snapshot, err := svc.NewSentence(ctx)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_input", snapshot.State)
	assert.Empty(t, snapshot.Phrase, "sentence stays hidden until graded")

	assert.Eventually(t, func() bool {
		return engine.said("The cat sat")
	}, time.Second, 5*time.Millisecond)

	snapshot, err = svc.SubmitDictation("the dog sat extra")
	require.NoError(t, err)
	assert.Equal(t, "graded", snapshot.State)
	assert.Equal(t, "The cat sat", snapshot.Phrase)
	assert.Equal(t, []dictation.WordResult{
		{Word: "The", Correct: true},
		{Word: "cat", Correct: false},
		{Word: "sat", Correct: true},
	}, snapshot.Results)
	assert.Equal(t, 2, snapshot.Score)

	require.NoError(t, svc.SpeakSentence())
}

func TestDictation_GeneratorFailureKeepsState(t *testing.T) {
	boom := errors.New("boom")
	svc, _ := newTestService(t, nil, fakeGenerator{err: boom})

	snapshot, err := svc.NewSentence(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "idle", snapshot.State)
	assert.ErrorIs(t, svc.SpeakSentence(), dictation.ErrNoPhrase)
}
