package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/danieldreier/langdrill/internal/cards"
	"github.com/danieldreier/langdrill/internal/dictation"
	"github.com/danieldreier/langdrill/internal/fsrs"
	"github.com/danieldreier/langdrill/internal/generator"
	"github.com/danieldreier/langdrill/internal/prefs"
	"github.com/danieldreier/langdrill/internal/session"
	"github.com/danieldreier/langdrill/internal/speech"
	"github.com/danieldreier/langdrill/internal/storage"
	"go.uber.org/zap"
)

// cardLanguage is the language of the card fronts read aloud
const cardLanguage = "en"

// timeNow is replaced in tests
var timeNow = time.Now

// ServiceConfig wires the collaborators of a DrillService
type ServiceConfig struct {
	Store     storage.Store
	Generator dictation.Generator
	Engine    speech.Engine
	Logger    *zap.Logger
	// Rand drives the shuffle; nil uses a random seed
	Rand *rand.Rand
	// Dispatcher options, mostly for tests
	SpeechOptions []speech.DispatcherOption
}

// DrillService owns the card deck, the practice session and everything
// around it. One mutex serialises every operation that touches the deck,
// the session or the preferences.
type DrillService struct {
	mu      sync.Mutex
	store   storage.Store
	deck    *cards.Deck
	session *session.Session
	prefs   prefs.Preferences

	Dictation *dictation.Flow
	Speech    *speech.Dispatcher
	Progress  *fsrs.Tracker
	Logger    *zap.Logger
}

// NewDrillService loads cards, preferences and progress from cfg.Store and
// starts the first round.
func NewDrillService(cfg ServiceConfig) *DrillService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := cfg.Engine
	if engine == nil {
		engine = speech.Silent{}
	}
	gen := cfg.Generator
	if gen == nil {
		gen = generator.New(generator.Config{}, logger)
	}

	s := &DrillService{
		store:    cfg.Store,
		prefs:    prefs.Load(cfg.Store, logger),
		Speech:   speech.NewDispatcher(engine, logger.Named("speech"), cfg.SpeechOptions...),
		Progress: fsrs.NewTracker(cfg.Store, logger.Named("progress")),
		Logger:   logger,
	}
	s.deck = cards.OpenDeck(cards.NewRepository(cfg.Store, logger), logger)
	s.Dictation = dictation.NewFlow(gen, speech.Speaker{
		Dispatcher: s.Speech,
		Options:    s.speechOptions,
	}, dictation.WithLogger(logger.Named("dictation")))

	s.session = session.NewLoading(session.Options{
		Category:     s.prefs.Category,
		Rand:         cfg.Rand,
		OnFrontShown: s.autoSpeak,
		OnGraded:     s.recordProgress,
		Logger:       logger.Named("session"),
	})
	s.session.SetCards(s.deck.All())
	s.syncSpeech()

	logger.Info("Drill service ready",
		zap.Int("cards", s.deck.Len()),
		zap.String("category", s.prefs.Category),
		zap.Stringer("state", s.session.State()))
	return s
}

// Close stops background speech
func (s *DrillService) Close() {
	s.Speech.Close()
}

// autoSpeak reads a front aloud when it becomes visible. Runs with mu held.
func (s *DrillService) autoSpeak(c cards.Card) {
	if !s.prefs.AutoSpeak {
		return
	}
	s.Speech.Activate(c.ID)
	s.Speech.Say(c.ID, c.Front, s.cardSpeechOptions())
}

// recordProgress feeds a grade into the long-term tracker. Runs with mu held.
func (s *DrillService) recordProgress(c cards.Card, correct bool) {
	if _, err := s.Progress.Record(c.ID, correct, timeNow()); err != nil {
		s.Logger.Warn("Failed to record progress", zap.String("card_id", c.ID), zap.Error(err))
	}
}

// syncSpeech marks the visible card as the only one allowed to speak
func (s *DrillService) syncSpeech() {
	id := ""
	if c, ok := s.session.Current(); ok {
		id = c.ID
	}
	s.Speech.Activate(id)
}

func (s *DrillService) cardSpeechOptions() speech.Options {
	return speech.Options{VoiceURI: s.prefs.VoiceURI, Rate: s.prefs.Rate, Lang: cardLanguage}
}

// speechOptions is read by the dictation speaker, which runs without mu
func (s *DrillService) speechOptions() speech.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardSpeechOptions()
}

// refresh hands the current deck to the session
func (s *DrillService) refresh() {
	s.session.SetCards(s.deck.All())
	s.syncSpeech()
}

// CreateCard adds a card in front of the collection
func (s *DrillService) CreateCard(front, back, category string) (cards.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.deck.Add(front, back, category)
	if err != nil {
		return cards.Card{}, err
	}
	s.refresh()
	return card, nil
}

// DeleteCard removes a card and its progress
func (s *DrillService) DeleteCard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deck.Delete(id); err != nil {
		return err
	}
	if err := s.Progress.Forget(id); err != nil {
		s.Logger.Warn("Failed to drop progress for deleted card", zap.String("card_id", id), zap.Error(err))
	}
	s.refresh()
	return nil
}

// ListCards returns the cards matching query within category
func (s *DrillService) ListCards(query, category string) []cards.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deck.Search(query, category)
}

// ImportCards prepends the valid entries of a JSON document
func (s *DrillService) ImportCards(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.deck.Import(data)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		s.refresh()
	}
	return added, nil
}

// ExportCards serialises the collection
func (s *DrillService) ExportCards() ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.deck.Export()
	return data, s.deck.Len(), err
}

// CategoryCounts lists every category with its card count, the "all"
// pseudo category first
func (s *DrillService) CategoryCounts() []CategoryCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.deck.All()
	counts := []CategoryCount{{Category: cards.AllCategories, Cards: len(all)}}
	for _, cat := range cards.Categories(all) {
		n := 0
		for _, c := range all {
			if c.Category == cat {
				n++
			}
		}
		counts = append(counts, CategoryCount{Category: cat, Cards: n})
	}
	return counts
}

// SetCategory switches the filter, starts a fresh round and saves the choice
func (s *DrillService) SetCategory(category string) (session.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The session only follows a category that was saved
	next := s.prefs
	next.Category = category
	if err := s.savePrefs(next); err != nil {
		return s.session.Snapshot(), err
	}
	s.session.SetCategory(s.prefs.Category)
	s.syncSpeech()
	return s.session.Snapshot(), nil
}

// Status returns the session view
func (s *DrillService) Status() session.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Snapshot()
}

// Reveal shows, hides or toggles the back of the current card
func (s *DrillService) Reveal(mode string) (session.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.session.Current(); !ok {
		return s.session.Snapshot(), session.ErrNoCurrentCard
	}
	switch mode {
	case "", "show":
		s.session.Reveal()
	case "hide":
		s.session.Unreveal()
	case "toggle":
		s.session.ToggleReveal()
	default:
		return s.session.Snapshot(), fmt.Errorf("unknown reveal mode %q", mode)
	}
	return s.session.Snapshot(), nil
}

// Grade records an answer for the current card and advances
func (s *DrillService) Grade(correct bool) (cards.Card, session.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.session.Current()
	if err := s.session.Grade(correct); err != nil {
		return cards.Card{}, s.session.Snapshot(), err
	}
	s.syncSpeech()
	return current, s.session.Snapshot(), nil
}

// Next moves to the next card
func (s *DrillService) Next() session.View {
	return s.update((*session.Session).Next)
}

// Previous moves to the previous card
func (s *DrillService) Previous() session.View {
	return s.update((*session.Session).Previous)
}

// Reshuffle draws a new play order, keeping grades
func (s *DrillService) Reshuffle() session.View {
	return s.update((*session.Session).Reshuffle)
}

// RestartRound starts over with every card of the category
func (s *DrillService) RestartRound() session.View {
	return s.update((*session.Session).RestartAll)
}

func (s *DrillService) update(op func(*session.Session)) session.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	op(s.session)
	s.syncSpeech()
	return s.session.Snapshot()
}

// Summary returns the round summary
func (s *DrillService) Summary() session.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Summary()
}

// RetryWrong drills the incorrectly answered cards again
func (s *DrillService) RetryWrong() (session.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.RetryWrong(); err != nil {
		return s.session.Snapshot(), err
	}
	s.syncSpeech()
	return s.session.Snapshot(), nil
}

// PressKey applies a keyboard shortcut
func (s *DrillService) PressKey(key string) (session.Action, session.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, err := s.session.HandleKey(key)
	s.syncSpeech()
	return action, s.session.Snapshot(), err
}

// SpeakCard reads the front of the current card aloud
func (s *DrillService) SpeakCard() (cards.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.session.Current()
	if !ok {
		return cards.Card{}, session.ErrNoCurrentCard
	}
	s.Speech.Activate(c.ID)
	s.Speech.Say(c.ID, c.Front, s.cardSpeechOptions())
	return c, nil
}

// Voices lists the available voices, English ones only unless all is set.
// When no voice has been chosen yet the first English voice is saved.
func (s *DrillService) Voices(ctx context.Context, all bool) ([]speech.Voice, error) {
	pool := s.Speech.Voices(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.VoiceURI == "" {
		if v, ok := speech.SelectVoice(pool, "", cardLanguage); ok {
			next := s.prefs
			next.VoiceURI = v.URI
			if err := s.savePrefs(next); err != nil {
				return nil, err
			}
			s.Logger.Info("Voice selected automatically", zap.String("voice", v.URI))
		}
	}

	if all {
		return pool, nil
	}
	english := []speech.Voice{}
	for _, v := range pool {
		if strings.HasPrefix(strings.ToLower(v.Lang), cardLanguage) {
			english = append(english, v)
		}
	}
	return english, nil
}

// Preferences returns the current preferences
func (s *DrillService) Preferences() prefs.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// PreferencesUpdate holds the fields to change; nil fields are kept
type PreferencesUpdate struct {
	VoiceURI  *string
	Rate      *float64
	AutoSpeak *bool
	Category  *string
}

// UpdatePreferences saves update and then applies it. A category change
// starts a fresh round; nothing changes when the save fails.
func (s *DrillService) UpdatePreferences(update PreferencesUpdate) (prefs.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	if update.VoiceURI != nil {
		next.VoiceURI = strings.TrimSpace(*update.VoiceURI)
	}
	if update.Rate != nil {
		next.Rate = *update.Rate
	}
	if update.AutoSpeak != nil {
		next.AutoSpeak = *update.AutoSpeak
	}
	if update.Category != nil {
		next.Category = *update.Category
	}
	if err := s.savePrefs(next); err != nil {
		return s.prefs, err
	}
	if update.Category != nil {
		s.session.SetCategory(s.prefs.Category)
		s.syncSpeech()
	}
	return s.prefs, nil
}

// savePrefs normalises, persists and adopts p. Runs with mu held.
func (s *DrillService) savePrefs(p prefs.Preferences) error {
	p = p.Normalize()
	if err := prefs.Save(s.store, p); err != nil {
		s.Logger.Error("Failed to save preferences", zap.Error(err))
		return err
	}
	s.prefs = p
	return nil
}

// NewSentence requests a dictation sentence
func (s *DrillService) NewSentence(ctx context.Context) (dictation.Snapshot, error) {
	if _, err := s.Dictation.RequestSentence(ctx); err != nil {
		return s.Dictation.Snapshot(), err
	}
	if err := s.Dictation.Speak(); err != nil && !errors.Is(err, dictation.ErrNoPhrase) {
		s.Logger.Debug("Speaking sentence failed", zap.Error(err))
	}
	return s.Dictation.Snapshot(), nil
}

// SubmitDictation grades typed text against the current sentence
func (s *DrillService) SubmitDictation(typed string) (dictation.Snapshot, error) {
	if _, err := s.Dictation.Submit(typed); err != nil {
		return s.Dictation.Snapshot(), err
	}
	return s.Dictation.Snapshot(), nil
}

// SpeakSentence reads the current sentence aloud again
func (s *DrillService) SpeakSentence() error {
	return s.Dictation.Speak()
}

// ProgressReport returns long-term progress and the cards missed most
func (s *DrillService) ProgressReport(limit int) ProgressResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	resp := ProgressResponse{Stats: s.Progress.Stats(now), Struggling: []StrugglingCard{}}
	for _, p := range s.Progress.Struggling(now, limit) {
		c, err := s.deck.Get(p.CardID)
		if err != nil {
			continue
		}
		resp.Struggling = append(resp.Struggling, StrugglingCard{
			Card:     c,
			Misses:   p.Misses,
			Priority: p.Priority,
			Due:      p.FSRS.Due,
			State:    fsrs.StateName(p.FSRS.State),
		})
	}
	return resp
}
