package session

import "github.com/danieldreier/langdrill/internal/cards"

// Summary partitions the play order by grade, preserving play order
type Summary struct {
	Correct   []cards.Card `json:"correct"`
	Incorrect []cards.Card `json:"incorrect"`
	Ungraded  int          `json:"ungraded"`
	Total     int          `json:"total"`
	Complete  bool         `json:"complete"`
}

// CorrectCount returns the number of cards answered correctly
func (s Summary) CorrectCount() int { return len(s.Correct) }

// IncorrectCount returns the number of cards answered incorrectly
func (s Summary) IncorrectCount() int { return len(s.Incorrect) }

// Summary derives the round summary. Play order entries that no longer map
// to a card are counted as ungraded.
func (s *Session) Summary() Summary {
	sum := Summary{
		Correct:   []cards.Card{},
		Incorrect: []cards.Card{},
		Total:     len(s.order),
		Complete:  s.complete(),
	}
	for _, i := range s.order {
		c, ok := s.cardAt(i)
		if !ok {
			sum.Ungraded++
			continue
		}
		switch s.answers[c.ID] {
		case Correct:
			sum.Correct = append(sum.Correct, c)
		case Incorrect:
			sum.Incorrect = append(sum.Incorrect, c)
		default:
			sum.Ungraded++
		}
	}
	return sum
}

// CardView is the visible state of the current card. Back is empty until
// the card is revealed.
type CardView struct {
	ID       string `json:"id"`
	Front    string `json:"front"`
	Back     string `json:"back,omitempty"`
	Category string `json:"category,omitempty"`
	Grade    string `json:"grade"`
}

// View is a serialisable snapshot of the session
type View struct {
	State      string    `json:"state"`
	Category   string    `json:"category"`
	Categories []string  `json:"categories"`
	Index      int       `json:"index"`
	Total      int       `json:"total"`
	Answered   int       `json:"answered"`
	Revealed   bool      `json:"revealed"`
	Stale      bool      `json:"stale,omitempty"`
	Card       *CardView `json:"card,omitempty"`
}

// Snapshot returns the current view of the session
func (s *Session) Snapshot() View {
	sum := s.Summary()
	v := View{
		State:      s.State().String(),
		Category:   s.category,
		Categories: s.Categories(),
		Index:      s.cursor,
		Total:      len(s.order),
		Answered:   sum.CorrectCount() + sum.IncorrectCount(),
		Revealed:   s.revealed,
		Stale:      s.Stale(),
	}
	if c, ok := s.Current(); ok {
		cv := &CardView{ID: c.ID, Front: c.Front, Category: c.Category, Grade: s.answers[c.ID].String()}
		if s.revealed {
			cv.Back = c.Back
		}
		v.Card = cv
	}
	return v
}
