package patch

import (
	"strings"

	udiff "github.com/aymanbagabas/go-udiff"
)

// Diff renders a unified diff between two versions of the file at path. It
// returns "" when nothing changed.
func Diff(path string, before, after string) string {
	if before == after {
		return ""
	}
	name := strings.TrimPrefix(path, "/")
	return udiff.Unified("a/"+name, "b/"+name, before, after)
}
