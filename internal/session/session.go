// Package session implements the practice-session state machine: a shuffled
// play order over the cards of the active category, a cursor, a reveal flag
// and a per-card answer record for one drilling round.
package session

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/danieldreier/langdrill/internal/cards"
	"go.uber.org/zap"
)

var (
	// ErrNoCurrentCard is returned when an operation needs a card under the cursor
	ErrNoCurrentCard = errors.New("no current card")
	// ErrNotRevealed is returned when grading a card whose back is hidden
	ErrNotRevealed = errors.New("card must be revealed before grading")
	// ErrRoundNotComplete is returned by RetryWrong before every card is graded
	ErrRoundNotComplete = errors.New("round is not complete")
	// ErrNothingToRetry is returned by RetryWrong when no card was graded incorrect
	ErrNothingToRetry = errors.New("no incorrect cards to retry")
	// ErrInactive is returned by operations that need an active round
	ErrInactive = errors.New("no active round")
)

// State is the coarse state of a session
type State int

const (
	// Loading means no card collection has been supplied yet
	Loading State = iota
	// NoCards means the collection is empty
	NoCards
	// EmptyFilter means the active category has no cards
	EmptyFilter
	// Active means a round is in progress
	Active
	// Complete means every card in the play order has been graded
	Complete
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case NoCards:
		return "no_cards"
	case EmptyFilter:
		return "empty_filter"
	case Active:
		return "active"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Grade is the answer recorded for a card in the current round
type Grade int8

const (
	Ungraded Grade = iota
	Correct
	Incorrect
)

func (g Grade) String() string {
	switch g {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "ungraded"
	}
}

// Options configures a Session
type Options struct {
	// Category is the initial category filter; empty means all categories.
	Category string
	// Rand drives the shuffle. A randomly seeded source is used when nil.
	Rand *rand.Rand
	// OnFrontShown is called whenever a card's front becomes the visible
	// face. Panics are recovered and logged.
	OnFrontShown func(cards.Card)
	// OnGraded is called after a grade was recorded
	OnGraded func(c cards.Card, correct bool)
	Logger   *zap.Logger
}

// Session is the practice-session state machine. It is not safe for
// concurrent use; callers serialise access.
type Session struct {
	cards    []cards.Card
	loaded   bool
	category string
	order    []int
	cursor   int
	revealed bool
	answers  map[string]Grade

	rng      *rand.Rand
	onFront  func(cards.Card)
	onGraded func(cards.Card, bool)
	logger   *zap.Logger

	// last face reported to onFront
	shownID       string
	shownRevealed bool
}

// NewLoading creates a session that has not received its cards yet
func NewLoading(opts Options) *Session {
	s := &Session{
		category: normalizeCategory(opts.Category),
		answers:  make(map[string]Grade),
		rng:      opts.Rand,
		onFront:  opts.OnFrontShown,
		onGraded: opts.OnGraded,
		logger:   opts.Logger,
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// New creates a session over cs and starts the first round
func New(cs []cards.Card, opts Options) *Session {
	s := NewLoading(opts)
	s.SetCards(cs)
	return s
}

// SetCards replaces the card collection. When the set of cards matching the
// active category changes a fresh round starts; otherwise the current round
// continues with its play order re-pointed at the new collection.
func (s *Session) SetCards(cs []cards.Card) {
	previous := s.filteredIDs()
	previousOrder := s.orderIDs()
	wasLoaded := s.loaded

	s.cards = make([]cards.Card, len(cs))
	copy(s.cards, cs)
	s.loaded = true

	if !wasLoaded || !sameSet(previous, s.filteredIDs()) {
		s.logger.Debug("Playable set changed, starting new round", zap.Int("cards", len(s.cards)))
		s.startRound()
		return
	}

	// Same playable set: keep the round, re-index the play order
	position := make(map[string]int, len(s.cards))
	for i, c := range s.cards {
		position[c.ID] = i
	}
	order := make([]int, 0, len(previousOrder))
	for _, id := range previousOrder {
		if i, ok := position[id]; ok {
			order = append(order, i)
		}
	}
	s.order = order
	s.clampCursor()
	s.emit()
}

// Cards returns a copy of the session's card collection
func (s *Session) Cards() []cards.Card {
	out := make([]cards.Card, len(s.cards))
	copy(out, s.cards)
	return out
}

// Category returns the active category filter
func (s *Session) Category() string {
	return s.category
}

// Categories returns the categories present in the collection
func (s *Session) Categories() []string {
	return cards.Categories(s.cards)
}

// SetCategory switches the category filter and starts a fresh round.
// It reports whether the category changed. A category without cards is
// accepted and leaves the session in EmptyFilter.
func (s *Session) SetCategory(category string) bool {
	category = normalizeCategory(category)
	if category == s.category {
		return false
	}
	s.category = category
	s.logger.Debug("Category changed", zap.String("category", category))
	if s.loaded {
		s.startRound()
	}
	return true
}

// State returns the current state. Round completion is derived from the
// answer record on every call.
func (s *Session) State() State {
	switch {
	case !s.loaded:
		return Loading
	case len(s.cards) == 0:
		return NoCards
	case len(s.filtered()) == 0:
		return EmptyFilter
	case len(s.order) == 0:
		return Loading
	case s.complete():
		return Complete
	default:
		return Active
	}
}

// Current returns the card under the cursor. It reports false when the play
// order is empty or the entry under the cursor no longer maps to a card.
func (s *Session) Current() (cards.Card, bool) {
	if len(s.order) == 0 {
		return cards.Card{}, false
	}
	return s.cardAt(s.order[s.cursor])
}

// Position returns the cursor index and the play order length
func (s *Session) Position() (int, int) {
	return s.cursor, len(s.order)
}

// Revealed reports whether the back of the current card is shown
func (s *Session) Revealed() bool {
	return s.revealed
}

// GradeOf returns the grade recorded for a card id in this round
func (s *Session) GradeOf(id string) Grade {
	return s.answers[id]
}

// Stale reports whether the play order references a card that is no longer
// in the collection or no longer matches the filter. Reshuffle clears it.
func (s *Session) Stale() bool {
	for _, i := range s.order {
		c, ok := s.cardAt(i)
		if !ok || !cards.MatchesCategory(c, s.category) {
			return true
		}
	}
	return false
}

// Reveal shows the back of the current card
func (s *Session) Reveal() {
	s.setRevealed(true)
}

// Unreveal hides the back of the current card
func (s *Session) Unreveal() {
	s.setRevealed(false)
}

// ToggleReveal flips the reveal flag
func (s *Session) ToggleReveal() {
	s.setRevealed(!s.revealed)
}

func (s *Session) setRevealed(revealed bool) {
	s.revealed = revealed
	s.emit()
}

// Grade records the answer for the current card, advances the cursor and
// hides the back. Grading requires an active round with a revealed card;
// otherwise the answer record is left unchanged.
func (s *Session) Grade(correct bool) error {
	if s.State() != Active {
		return ErrInactive
	}
	current, ok := s.Current()
	if !ok {
		return ErrNoCurrentCard
	}
	if !s.revealed {
		return ErrNotRevealed
	}

	grade := Incorrect
	if correct {
		grade = Correct
	}
	s.answers[current.ID] = grade
	s.logger.Debug("Card graded", zap.String("card_id", current.ID), zap.Stringer("grade", grade))
	if s.onGraded != nil {
		s.onGraded(current, correct)
	}

	s.cursor++
	s.clampCursor()
	s.revealed = false
	s.emit()
	return nil
}

// Next moves the cursor forward, clamped to the last card, and hides the back
func (s *Session) Next() {
	if len(s.order) == 0 {
		return
	}
	s.cursor++
	s.clampCursor()
	s.revealed = false
	s.emit()
}

// Previous moves the cursor back, clamped to the first card, and hides the back
func (s *Session) Previous() {
	if len(s.order) == 0 {
		return
	}
	s.cursor--
	s.clampCursor()
	s.revealed = false
	s.emit()
}

// Reshuffle draws a new play order over the filtered set. Grades recorded in
// this round are kept.
func (s *Session) Reshuffle() {
	s.order = s.shuffled()
	s.cursor = 0
	s.revealed = false
	s.logger.Debug("Play order reshuffled", zap.Int("length", len(s.order)))
	s.emit()
}

// RestartAll starts a fresh round over the full filtered set
func (s *Session) RestartAll() {
	s.startRound()
}

// RetryWrong starts a sub-round over exactly the cards graded incorrect, in
// their play order, with a cleared answer record.
func (s *Session) RetryWrong() error {
	if s.State() != Complete {
		return ErrRoundNotComplete
	}

	var wrong []int
	for _, i := range s.order {
		if c, ok := s.cardAt(i); ok && s.answers[c.ID] == Incorrect {
			wrong = append(wrong, i)
		}
	}
	if len(wrong) == 0 {
		return ErrNothingToRetry
	}

	s.order = wrong
	s.answers = make(map[string]Grade)
	s.cursor = 0
	s.revealed = false
	s.logger.Debug("Retrying incorrect cards", zap.Int("count", len(wrong)))
	s.emit()
	return nil
}

// startRound shuffles the filtered set and clears the round state
func (s *Session) startRound() {
	s.order = s.shuffled()
	s.cursor = 0
	s.revealed = false
	s.answers = make(map[string]Grade)
	s.emit()
}

// shuffled returns a uniform random permutation of the filtered indices
func (s *Session) shuffled() []int {
	idxs := s.filtered()
	for i := len(idxs) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		idxs[i], idxs[j] = idxs[j], idxs[i]
	}
	return idxs
}

// filtered returns the collection indices matching the active category
func (s *Session) filtered() []int {
	idxs := []int{}
	for i, c := range s.cards {
		if cards.MatchesCategory(c, s.category) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func (s *Session) filteredIDs() []string {
	var ids []string
	for _, i := range s.filtered() {
		ids = append(ids, s.cards[i].ID)
	}
	return ids
}

func (s *Session) orderIDs() []string {
	var ids []string
	for _, i := range s.order {
		if c, ok := s.cardAt(i); ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (s *Session) cardAt(i int) (cards.Card, bool) {
	if i < 0 || i >= len(s.cards) {
		return cards.Card{}, false
	}
	return s.cards[i], true
}

func (s *Session) complete() bool {
	if len(s.order) == 0 {
		return false
	}
	for _, i := range s.order {
		c, ok := s.cardAt(i)
		if !ok || s.answers[c.ID] == Ungraded {
			return false
		}
	}
	return true
}

func (s *Session) clampCursor() {
	switch {
	case len(s.order) == 0:
		s.cursor = 0
	case s.cursor > len(s.order)-1:
		s.cursor = len(s.order) - 1
	case s.cursor < 0:
		s.cursor = 0
	}
}

// emit reports the visible face to onFront when it changed to a front
func (s *Session) emit() {
	current, ok := s.Current()
	id := ""
	if ok {
		id = current.ID
	}
	changed := id != s.shownID || s.revealed != s.shownRevealed
	s.shownID, s.shownRevealed = id, s.revealed
	if !ok || s.revealed || !changed || s.onFront == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Front-shown callback panicked", zap.Any("panic", r))
		}
	}()
	s.onFront(current)
}

func normalizeCategory(category string) string {
	if category == "" {
		return cards.AllCategories
	}
	return category
}

// sameSet reports whether a and b hold the same ids, ignoring order
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
