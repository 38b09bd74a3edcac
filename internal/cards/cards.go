// Package cards holds the flashcard collection: the persisted Card Store,
// create/delete/search over it, and JSON import/export.
package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danieldreier/langdrill/internal/storage"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// AllCategories is the category sentinel that matches every card
const AllCategories = "__all"

// ExportFileName is the suggested download name for exported collections
const ExportFileName = "flashcards_en_pt.json"

var (
	// ErrCardNotFound is returned when no card has the requested id
	ErrCardNotFound = errors.New("card not found")
	// ErrMissingText is returned when a card would have an empty front or back
	ErrMissingText = errors.New("front and back text are required")
	// ErrInvalidDocument is returned when an import document cannot be parsed at all
	ErrInvalidDocument = errors.New("invalid JSON document")
)

// Card is an English/Portuguese word pair with an optional category
type Card struct {
	ID       string `json:"id"`
	Front    string `json:"front"`
	Back     string `json:"back"`
	Category string `json:"category,omitempty"`
}

// newID generates card identifiers; replaced in tests
var newID = func() (string, error) {
	return gonanoid.New()
}

// Repository loads and saves the whole card collection under a fixed key
type Repository struct {
	store  storage.Store
	key    string
	logger *zap.Logger
}

// NewRepository creates a Repository on top of store
func NewRepository(store storage.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, key: storage.CardsKey, logger: logger}
}

// LoadAll returns every persisted card. Missing or malformed data yields an
// empty collection; the problem is logged, never returned.
func (r *Repository) LoadAll() []Card {
	raw, err := r.store.Get(r.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []Card{}
	}
	if err != nil {
		r.logger.Warn("Could not read card collection, starting empty", zap.Error(err))
		return []Card{}
	}

	var loaded []Card
	if err := json.Unmarshal(raw, &loaded); err != nil {
		r.logger.Warn("Stored card collection is malformed, starting empty", zap.Error(err))
		return []Card{}
	}

	result := make([]Card, 0, len(loaded))
	for _, c := range loaded {
		if c.ID == "" || c.Front == "" || c.Back == "" {
			r.logger.Debug("Dropping incomplete stored card", zap.String("card_id", c.ID))
			continue
		}
		result = append(result, c)
	}
	return result
}

// SaveAll replaces the persisted collection with cards
func (r *Repository) SaveAll(cards []Card) error {
	if cards == nil {
		cards = []Card{}
	}
	data, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("failed to marshal cards: %w", err)
	}
	if err := r.store.Put(r.key, data); err != nil {
		return fmt.Errorf("failed to persist cards: %w", err)
	}
	return nil
}

// Deck is the in-memory ordered card collection. Every mutation is persisted
// through the Repository before it returns. A Deck is not safe for concurrent
// use; callers serialise access.
type Deck struct {
	repo   *Repository
	cards  []Card
	logger *zap.Logger
}

// OpenDeck loads the collection from repo
func OpenDeck(repo *Repository, logger *zap.Logger) *Deck {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deck{repo: repo, cards: repo.LoadAll(), logger: logger}
	logger.Debug("Deck opened", zap.Int("cards", len(d.cards)))
	return d
}

// All returns a copy of the collection in display order (newest first)
func (d *Deck) All() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards)
	return out
}

// Len returns the number of cards
func (d *Deck) Len() int {
	return len(d.cards)
}

// Get returns the card with the given id
func (d *Deck) Get(id string) (Card, error) {
	for _, c := range d.cards {
		if c.ID == id {
			return c, nil
		}
	}
	return Card{}, ErrCardNotFound
}

// Add creates a card and prepends it to the collection
func (d *Deck) Add(front, back, category string) (Card, error) {
	front = strings.TrimSpace(front)
	back = strings.TrimSpace(back)
	if front == "" || back == "" {
		return Card{}, ErrMissingText
	}

	id, err := newID()
	if err != nil {
		return Card{}, fmt.Errorf("failed to generate card id: %w", err)
	}

	card := Card{ID: id, Front: front, Back: back, Category: strings.TrimSpace(category)}
	next := append([]Card{card}, d.cards...)
	if err := d.commit(next); err != nil {
		return Card{}, err
	}

	d.logger.Debug("Card added", zap.String("card_id", card.ID), zap.String("category", card.Category))
	return card, nil
}

// Delete removes the card with the given id
func (d *Deck) Delete(id string) error {
	next := make([]Card, 0, len(d.cards))
	found := false
	for _, c := range d.cards {
		if c.ID == id {
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		return ErrCardNotFound
	}

	if err := d.commit(next); err != nil {
		return err
	}
	d.logger.Debug("Card deleted", zap.String("card_id", id))
	return nil
}

// Search returns cards whose front, back or category contains query
// (case-insensitive) and whose category matches category.
func (d *Deck) Search(query, category string) []Card {
	q := strings.ToLower(strings.TrimSpace(query))
	result := []Card{}
	for _, c := range d.cards {
		if !MatchesCategory(c, category) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(c.Front), q) &&
			!strings.Contains(strings.ToLower(c.Back), q) &&
			!strings.Contains(strings.ToLower(c.Category), q) {
			continue
		}
		result = append(result, c)
	}
	return result
}

// Categories returns the sorted distinct non-empty categories
func (d *Deck) Categories() []string {
	return Categories(d.cards)
}

// Import parses a JSON document of cards and prepends the accepted entries.
// It returns the number of cards added.
func (d *Deck) Import(data []byte) (int, error) {
	accepted, err := ParseImport(data)
	if err != nil {
		return 0, err
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	next := make([]Card, 0, len(accepted)+len(d.cards))
	next = append(next, accepted...)
	next = append(next, d.cards...)
	if err := d.commit(next); err != nil {
		return 0, err
	}

	d.logger.Info("Cards imported", zap.Int("added", len(accepted)), zap.Int("total", len(next)))
	return len(accepted), nil
}

// Export serialises the whole collection as pretty-printed JSON
func (d *Deck) Export() ([]byte, error) {
	data, err := json.MarshalIndent(d.All(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cards: %w", err)
	}
	return data, nil
}

// commit persists next and only then makes it the live collection
func (d *Deck) commit(next []Card) error {
	if err := d.repo.SaveAll(next); err != nil {
		d.logger.Error("Failed to save deck", zap.Error(err))
		return err
	}
	d.cards = next
	return nil
}

// MatchesCategory reports whether c belongs to category
func MatchesCategory(c Card, category string) bool {
	if category == "" || category == AllCategories {
		return true
	}
	return c.Category == category
}

// Categories returns the sorted distinct non-empty categories of cards
func Categories(cards []Card) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, c := range cards {
		cat := strings.TrimSpace(c.Category)
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		result = append(result, cat)
	}
	sort.Strings(result)
	return result
}
