package patch

import "fmt"

// ContentEdit addresses its target by the text of the line.
type ContentEdit struct {
	Match      string `json:"content_to_match"`
	NewContent string `json:"new_content"`
	Action     Action `json:"action"`
}

// Validate rejects edits that cannot be resolved meaningfully.
func (e ContentEdit) Validate() error {
	if !e.Action.Valid() {
		return ErrUnknownAction
	}
	if e.Match == "" {
		return ErrEmptyMatch
	}
	return nil
}

// LineEdit addresses its target by zero-based line number.
type LineEdit struct {
	Line       int    `json:"line_number"`
	NewContent string `json:"new_content"`
	Action     Action `json:"action"`
}

func (e LineEdit) Validate() error {
	if !e.Action.Valid() {
		return ErrUnknownAction
	}
	if e.Line < 0 {
		return ErrNegativeLine
	}
	return nil
}

// Resolved is an edit whose target line index is known.
type Resolved struct {
	Line       int
	Action     Action
	NewContent string
}

// ValidateContentEdits checks every edit and reports the first failure with
// its position.
func ValidateContentEdits(edits []ContentEdit) error {
	for i, e := range edits {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("updates[%d]: %w", i, err)
		}
	}
	return nil
}

func ValidateLineEdits(edits []LineEdit) error {
	for i, e := range edits {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("updates[%d]: %w", i, err)
		}
	}
	return nil
}
