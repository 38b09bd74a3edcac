// Package main provides the langdrill MCP server: English/Portuguese word
// drilling with shuffled rounds, speech and dictation.
package main

import (
	"encoding/json"
	"time"

	"github.com/danieldreier/langdrill/internal/cards"
	"github.com/danieldreier/langdrill/internal/dictation"
	"github.com/danieldreier/langdrill/internal/fsrs"
	"github.com/danieldreier/langdrill/internal/session"
	"github.com/danieldreier/langdrill/internal/speech"
)

// CardResponse represents the response structure for create_card
type CardResponse struct {
	Card   cards.Card   `json:"card"`
	Status session.View `json:"status"`
}

// DeleteCardResponse represents the response structure for delete_card
type DeleteCardResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Status  session.View `json:"status"`
}

// ListCardsResponse represents the response structure for list_cards
type ListCardsResponse struct {
	Cards      []cards.Card `json:"cards"`
	Total      int          `json:"total"`
	Categories []string     `json:"categories"`
}

// ImportResponse represents the response structure for import_cards
type ImportResponse struct {
	Added   int          `json:"added"`
	Message string       `json:"message"`
	Status  session.View `json:"status"`
}

// ExportResponse carries the exported document and its suggested file name
type ExportResponse struct {
	FileName string          `json:"file_name"`
	Count    int             `json:"count"`
	Cards    json.RawMessage `json:"cards"`
}

// GradeResponse represents the response structure for grade_card
type GradeResponse struct {
	Graded cards.Card   `json:"graded"`
	Grade  string       `json:"grade"`
	Status session.View `json:"status"`
}

// KeyResponse represents the response structure for press_key
type KeyResponse struct {
	Action session.Action `json:"action"`
	Status session.View   `json:"status"`
}

// SpeakResponse represents the response structure for the speak tools
type SpeakResponse struct {
	Speaking string `json:"speaking,omitempty"`
	Message  string `json:"message"`
}

// VoicesResponse represents the response structure for list_voices
type VoicesResponse struct {
	Voices   []speech.Voice `json:"voices"`
	Selected string         `json:"selected"`
}

// DictationResponse wraps the dictation flow state
type DictationResponse struct {
	Dictation dictation.Snapshot `json:"dictation"`
}

// CategoryCount is one entry of the categories resource
type CategoryCount struct {
	Category string `json:"category"`
	Cards    int    `json:"cards"`
}

// StrugglingCard is a card that was missed, with its scheduling state
type StrugglingCard struct {
	Card     cards.Card `json:"card"`
	Misses   int        `json:"misses"`
	Priority float64    `json:"priority"`
	Due      time.Time  `json:"due"`
	State    string     `json:"state"`
}

// ProgressResponse represents the response structure for progress_stats
type ProgressResponse struct {
	Stats      fsrs.Stats       `json:"stats"`
	Struggling []StrugglingCard `json:"struggling"`
}
