package files

import (
	"errors"
	"fmt"
	"path/filepath"

	"codeassist/internal/outline"
)

// Outline lists the declarations of a Go, Python or JS/TS file with
// zero-based line ranges.
func (s *Service) Outline(path string) ([]outline.Symbol, error) {
	src, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	syms, err := outline.File(path, src)
	switch {
	case errors.Is(err, outline.ErrUnsupported):
		return nil, fmt.Errorf("%w: no outline for %q files", ErrUnsupported, filepath.Ext(path))
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if syms == nil {
		syms = []outline.Symbol{}
	}
	return syms, nil
}
