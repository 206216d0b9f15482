package patch

import (
	"sort"
	"strings"
)

// Options controls content resolution.
type Options struct {
	Mode Mode
	// MinScore discards a fuzzy best match scoring below it. Zero keeps
	// whatever line scores highest.
	MinScore int
}

// Match reports what one content edit resolved to.
type Match struct {
	Edit  int   `json:"edit"`
	Lines []int `json:"lines"`
	Score int   `json:"score,omitempty"`
}

// Resolve maps content-addressed edits to line indices in doc. Edits that
// match nothing contribute no Resolved entries; that is not an error.
//
// The returned edits are in apply order (see order), so they can be passed
// straight to Apply.
func Resolve(doc Document, edits []ContentEdit, opts Options) ([]Resolved, []Match) {
	var out []Resolved
	matches := make([]Match, 0, len(edits))
	for i, e := range edits {
		var m Match
		switch opts.Mode {
		case Fuzzy:
			m = matchFuzzy(doc, e.Match, opts.MinScore)
		default:
			m = matchExact(doc, e.Match)
		}
		m.Edit = i
		matches = append(matches, m)
		for _, ln := range m.Lines {
			out = append(out, Resolved{Line: ln, Action: e.Action, NewContent: e.NewContent})
		}
	}
	return order(out), matches
}

// ResolveLines converts line-addressed edits into apply order.
func ResolveLines(edits []LineEdit) []Resolved {
	out := make([]Resolved, 0, len(edits))
	for _, e := range edits {
		out = append(out, Resolved{Line: e.Line, Action: e.Action, NewContent: e.NewContent})
	}
	return order(out)
}

func matchExact(doc Document, needle string) Match {
	m := Match{Lines: []int{}}
	for i, line := range doc {
		if strings.Contains(line, needle) {
			m.Lines = append(m.Lines, i)
		}
	}
	return m
}

// matchFuzzy picks the line with the strictly highest Ratio. Because only a
// strictly greater score replaces the current best, the first of several
// equally scored lines wins.
func matchFuzzy(doc Document, needle string, minScore int) Match {
	m := Match{Lines: []int{}}
	best, bestScore := -1, -1
	for i, line := range doc {
		if s := Ratio(trimEOL(line), needle); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < minScore {
		return m
	}
	m.Lines = append(m.Lines, best)
	m.Score = bestScore
	return m
}

// order sorts edits by ascending line, keeping request order among equal
// keys. On a shared line Modify runs first, then Delete, then Insert.
// Repeated deletes of one line collapse into one, since a second would
// remove the following line. A Delete followed by Inserts on the same line
// is a replacement and is rewritten by replace.
func order(edits []Resolved) []Resolved {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].Line != edits[j].Line {
			return edits[i].Line < edits[j].Line
		}
		return rank(edits[i].Action) < rank(edits[j].Action)
	})
	out := edits[:0]
	for _, e := range edits {
		if n := len(out); e.Action == Delete && n > 0 && out[n-1].Action == Delete && out[n-1].Line == e.Line {
			continue
		}
		out = append(out, e)
	}
	res := make([]Resolved, 0, len(out))
	for i := 0; i < len(out); {
		j := i
		for j < len(out) && out[j].Line == out[i].Line {
			j++
		}
		res = append(res, replace(out[i:j])...)
		i = j
	}
	return res
}

// replace turns Delete+Insert on one line into Modify+Insert. Applied
// literally, the Delete moves the offset back by one, so the Insert would
// land after the previous line, and on line 0 it would fall off the
// document entirely.
func replace(group []Resolved) []Resolved {
	del := -1
	var lines []string
	for i, e := range group {
		switch e.Action {
		case Delete:
			del = i
		case Insert:
			lines = append(lines, splitContent(e.NewContent)...)
		}
	}
	if del < 0 || len(lines) == 0 {
		return group
	}
	out := make([]Resolved, 0, del+2)
	out = append(out, group[:del]...)
	ln := group[del].Line
	out = append(out, Resolved{Line: ln, Action: Modify, NewContent: lines[0]})
	if rest := lines[1:]; len(rest) > 0 {
		out = append(out, Resolved{Line: ln, Action: Insert, NewContent: strings.Join(rest, "")})
	}
	return out
}

func rank(a Action) int {
	switch a {
	case Modify:
		return 0
	case Delete:
		return 1
	case Insert:
		return 2
	}
	return 3
}
