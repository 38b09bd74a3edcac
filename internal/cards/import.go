package cards

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// importEntry accepts the canonical field names as well as the legacy
// en/pt/cat names written by older exports.
type importEntry struct {
	ID       any `json:"id"`
	Front    any `json:"front"`
	Back     any `json:"back"`
	Category any `json:"category"`
	En       any `json:"en"`
	Pt       any `json:"pt"`
	Cat      any `json:"cat"`
}

// ParseImport decodes an import document into cards ready to prepend.
// Entries missing front or back text are dropped and entries without an id
// get a fresh one. A document that is not a JSON array is ErrInvalidDocument.
func ParseImport(data []byte) ([]Card, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	accepted := make([]Card, 0, len(elements))
	for _, raw := range elements {
		var entry importEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Not an object: skip it, keep the rest of the document
			continue
		}

		front := firstText(entry.Front, entry.En)
		back := firstText(entry.Back, entry.Pt)
		if front == "" || back == "" {
			continue
		}

		id := textOf(entry.ID)
		if id == "" {
			generated, err := newID()
			if err != nil {
				return nil, fmt.Errorf("failed to generate card id: %w", err)
			}
			id = generated
		}

		accepted = append(accepted, Card{
			ID:       id,
			Front:    front,
			Back:     back,
			Category: firstText(entry.Category, entry.Cat),
		})
	}
	return accepted, nil
}

func firstText(values ...any) string {
	for _, v := range values {
		if s := textOf(v); s != "" {
			return s
		}
	}
	return ""
}

// textOf renders scalar JSON values as trimmed text; anything else is empty
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
