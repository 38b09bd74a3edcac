// Package prefs persists the user's practice preferences as one record.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danieldreier/langdrill/internal/cards"
	"github.com/danieldreier/langdrill/internal/storage"
	"go.uber.org/zap"
)

// Speech rate bounds accepted by the speech engines
const (
	MinRate = 0.1
	MaxRate = 10.0
)

// Preferences is the single record of user-adjustable practice settings
type Preferences struct {
	Category  string  `json:"category"`
	VoiceURI  string  `json:"voice_uri"`
	Rate      float64 `json:"rate"`
	AutoSpeak bool    `json:"auto_speak"`
}

// Default returns the preferences used before anything has been saved
func Default() Preferences {
	return Preferences{
		Category:  cards.AllCategories,
		Rate:      1,
		AutoSpeak: true,
	}
}

// Normalize returns p with out-of-range values replaced
func (p Preferences) Normalize() Preferences {
	p.Category = strings.TrimSpace(p.Category)
	if p.Category == "" {
		p.Category = cards.AllCategories
	}
	switch {
	case p.Rate == 0:
		p.Rate = 1
	case p.Rate < MinRate:
		p.Rate = MinRate
	case p.Rate > MaxRate:
		p.Rate = MaxRate
	}
	return p
}

// Load reads the preferences record from store. Missing or malformed data
// yields Default().
func Load(store storage.Store, logger *zap.Logger) Preferences {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := store.Get(storage.PreferencesKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Could not read preferences, using defaults", zap.Error(err))
		}
		return Default()
	}

	// Start from defaults so absent fields keep their default values
	p := Default()
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Warn("Stored preferences are malformed, using defaults", zap.Error(err))
		return Default()
	}
	return p.Normalize()
}

// Save writes the preferences record to store
func Save(store storage.Store, p Preferences) error {
	data, err := json.Marshal(p.Normalize())
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err := store.Put(storage.PreferencesKey, data); err != nil {
		return fmt.Errorf("failed to persist preferences: %w", err)
	}
	return nil
}
