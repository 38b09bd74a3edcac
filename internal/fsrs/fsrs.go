// Package fsrs keeps long-term progress for drilled cards. Every grade from a
// practice round is fed into the FSRS scheduler, which gives each card a
// stability, a difficulty and a due date.
package fsrs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danieldreier/langdrill/internal/storage"
	"github.com/google/uuid"
	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"
)

// Review is one graded answer
type Review struct {
	ID            string        `json:"id"`
	CardID        string        `json:"card_id"`
	Rating        gofsrs.Rating `json:"rating"`
	Timestamp     time.Time     `json:"timestamp"`
	ScheduledDays uint64        `json:"scheduled_days"`
	ElapsedDays   uint64        `json:"elapsed_days"`
	State         gofsrs.State  `json:"state"`
}

// Stats summarises progress
type Stats struct {
	TrackedCards  int     `json:"tracked_cards"`
	DueCards      int     `json:"due_cards"`
	TotalReviews  int     `json:"total_reviews"`
	ReviewsToday  int     `json:"reviews_today"`
	RetentionRate float64 `json:"retention_rate"`
}

// CardProgress is the scheduling state of one card
type CardProgress struct {
	CardID   string      `json:"card_id"`
	FSRS     gofsrs.Card `json:"fsrs"`
	Misses   int         `json:"misses"`
	Priority float64     `json:"priority"`
}

// document is the persisted form
type document struct {
	Cards   map[string]gofsrs.Card `json:"cards"`
	Reviews []Review               `json:"reviews"`
}

// Tracker records grades and schedules cards. It only reads card ids and
// never changes the deck or a running session.
type Tracker struct {
	mu     sync.Mutex
	store  storage.Store
	params gofsrs.Parameters
	doc    document
	logger *zap.Logger
}

// NewTracker loads progress from store. Missing or unreadable progress
// starts empty.
func NewTracker(store storage.Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:  store,
		params: gofsrs.DefaultParam(),
		doc:    document{Cards: make(map[string]gofsrs.Card)},
		logger: logger,
	}

	raw, err := store.Get(storage.ProgressKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		logger.Warn("Reading progress failed, starting empty", zap.Error(err))
	default:
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Warn("Stored progress is malformed, starting empty", zap.Error(err))
			break
		}
		if doc.Cards == nil {
			doc.Cards = make(map[string]gofsrs.Card)
		}
		t.doc = doc
	}
	return t
}

// Rating maps a practice grade to an FSRS rating
func Rating(correct bool) gofsrs.Rating {
	if correct {
		return gofsrs.Good
	}
	return gofsrs.Again
}

// Record schedules cardID after a grade and persists the result
func (t *Tracker) Record(cardID string, correct bool, now time.Time) (gofsrs.Card, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.doc.Cards[cardID]
	if !ok {
		current = gofsrs.NewCard()
		current.Due = now
	}

	rating := Rating(correct)
	next := t.params.Repeat(current, now)[rating].Card

	review := Review{
		ID:            uuid.New().String(),
		CardID:        cardID,
		Rating:        rating,
		Timestamp:     now,
		ScheduledDays: next.ScheduledDays,
		ElapsedDays:   next.ElapsedDays,
		State:         current.State,
	}

	doc := t.doc.clone()
	doc.Cards[cardID] = next
	doc.Reviews = append(doc.Reviews, review)
	if err := t.save(doc); err != nil {
		return gofsrs.Card{}, err
	}
	t.doc = doc
	t.logger.Debug("Progress recorded",
		zap.String("card_id", cardID),
		zap.Int("rating", int(rating)),
		zap.Time("due", next.Due))
	return next, nil
}

// Forget drops all progress for cardID
func (t *Tracker) Forget(cardID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.doc.Cards[cardID]; !ok {
		return nil
	}
	doc := document{Cards: make(map[string]gofsrs.Card, len(t.doc.Cards))}
	for id, c := range t.doc.Cards {
		if id != cardID {
			doc.Cards[id] = c
		}
	}
	for _, r := range t.doc.Reviews {
		if r.CardID != cardID {
			doc.Reviews = append(doc.Reviews, r)
		}
	}
	if err := t.save(doc); err != nil {
		return err
	}
	t.doc = doc
	return nil
}

// Card returns the scheduling state of cardID
func (t *Tracker) Card(cardID string) (gofsrs.Card, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.doc.Cards[cardID]
	return c, ok
}

// Stats computes progress figures at now. Retention is the share of
// today's reviews answered correctly, as a percentage.
func (t *Tracker) Stats(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{TrackedCards: len(t.doc.Cards), TotalReviews: len(t.doc.Reviews)}
	for _, c := range t.doc.Cards {
		if !c.Due.After(now) {
			stats.DueCards++
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	correctToday := 0
	for _, r := range t.doc.Reviews {
		if r.Timestamp.Before(today) {
			continue
		}
		stats.ReviewsToday++
		if r.Rating >= gofsrs.Good {
			correctToday++
		}
	}
	if stats.ReviewsToday > 0 {
		stats.RetentionRate = float64(correctToday) / float64(stats.ReviewsToday) * 100.0
	}
	return stats
}

// Struggling returns up to n cards that were missed at least once, highest
// review priority first. n <= 0 returns all of them.
func (t *Tracker) Struggling(now time.Time, n int) []CardProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	misses := make(map[string]int)
	for _, r := range t.doc.Reviews {
		if r.Rating == gofsrs.Again {
			misses[r.CardID]++
		}
	}

	var out []CardProgress
	for id, count := range misses {
		c, ok := t.doc.Cards[id]
		if !ok {
			continue
		}
		out = append(out, CardProgress{
			CardID:   id,
			FSRS:     c,
			Misses:   count,
			Priority: ReviewPriority(c.State, c.Due, now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Misses != out[j].Misses {
			return out[i].Misses > out[j].Misses
		}
		return out[i].CardID < out[j].CardID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ReviewPriority scores how urgently a card should be reviewed. Learning
// states outrank review cards, which outrank new ones; overdue cards grow
// linearly with days overdue and future cards decay with days until due.
func ReviewPriority(state gofsrs.State, due time.Time, now time.Time) float64 {
	var base float64
	switch state {
	case gofsrs.New:
		base = 1.0
	case gofsrs.Learning, gofsrs.Relearning:
		base = 3.0
	case gofsrs.Review:
		base = 2.0
	}

	overdueDays := now.Sub(due).Hours() / 24.0
	if overdueDays >= 0 {
		return base * (1.0 + overdueDays*0.1)
	}
	return base / (1.0 - overdueDays)
}

// StateName returns a lowercase name for an FSRS learning state
func StateName(state gofsrs.State) string {
	switch state {
	case gofsrs.New:
		return "new"
	case gofsrs.Learning:
		return "learning"
	case gofsrs.Review:
		return "review"
	case gofsrs.Relearning:
		return "relearning"
	default:
		return "unknown"
	}
}

func (d document) clone() document {
	out := document{
		Cards:   make(map[string]gofsrs.Card, len(d.Cards)+1),
		Reviews: make([]Review, len(d.Reviews), len(d.Reviews)+1),
	}
	for id, c := range d.Cards {
		out.Cards[id] = c
	}
	copy(out.Reviews, d.Reviews)
	return out
}

// save persists doc; the in-memory state is only swapped after it succeeded
func (t *Tracker) save(doc document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := t.store.Put(storage.ProgressKey, raw); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}
