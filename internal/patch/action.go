package patch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownMode   = errors.New("unknown match mode")
	ErrEmptyMatch    = errors.New("content_to_match must not be empty")
	ErrNegativeLine  = errors.New("line_number must be >= 0")
)

// Action is the closed set of line operations. The zero value is invalid so
// an edit decoded without an action fails validation.
type Action int

const (
	Insert Action = iota + 1 // place new content after the target line
	Modify                   // replace the target line
	Delete                   // remove the target line
)

var actionNames = map[Action]string{Insert: "insert", Modify: "modify", Delete: "delete"}

// ParseAction accepts "insert", "modify" or "delete" in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return Insert, nil
	case "modify":
		return Modify, nil
	case "delete":
		return Delete, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Mode selects how a content-addressed edit finds its line.
type Mode int

const (
	Exact Mode = iota // substring match, every matching line
	Fuzzy             // single best similarity match
)

// ParseMode accepts "exact" or "fuzzy"; the empty string means Exact.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return Exact, nil
	case "fuzzy":
		return Fuzzy, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Fuzzy:
		return "fuzzy"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != Exact && m != Fuzzy {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
