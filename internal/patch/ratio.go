package patch

import (
	"math"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Ratio scores the similarity of a and b in [0,100] as
// round(100 * 2M / (len(a)+len(b))), where M counts the runes a character
// diff leaves unchanged. Identical strings score 100.
func Ratio(a, b string) int {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la+lb == 0 {
		return 100
	}
	if a == b {
		return 100
	}
	dmp := diffmatchpatch.New()
	m := 0
	for _, d := range dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			m += utf8.RuneCountInString(d.Text)
		}
	}
	return int(math.Round(100 * float64(2*m) / float64(la+lb)))
}
