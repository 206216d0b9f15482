// Package patch implements line-addressed text patching: resolving edits
// against a document's lines and applying insert/modify/delete operations
// while keeping later edits' line indices consistent as the document shifts.
//
// The package is pure: it never touches storage. Callers load a Document,
// call Resolve (or ResolveLines) and Apply, and write the result back.
package patch

import (
	"slices"
	"strings"
)

// Document is an ordered sequence of lines. Every line ends with exactly one
// "\n"; carriage returns from CRLF input are dropped by Parse.
type Document []string

// Parse splits text into a Document. A final line without a terminator is
// given one, so Parse("a\nb") and Parse("a\nb\n") yield the same Document.
func Parse(text string) Document {
	if text == "" {
		return Document{}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.SplitAfter(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if last := parts[len(parts)-1]; !strings.HasSuffix(last, "\n") {
		parts[len(parts)-1] = last + "\n"
	}
	return Document(parts)
}

// String joins the lines back into text.
func (d Document) String() string { return strings.Join(d, "") }

// Len returns the number of lines.
func (d Document) Len() int { return len(d) }

// Clone returns a copy that shares no backing array with d.
func (d Document) Clone() Document { return slices.Clone(d) }

// splitContent breaks new content into terminated lines the way an insert
// places them: "x\ny" and "x\ny\n" both give two lines, "" gives none.
func splitContent(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	parts := strings.Split(s, "\n")
	for i := range parts {
		parts[i] += "\n"
	}
	return parts
}

// asLine terminates s with a single "\n".
func asLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSuffix(s, "\n") + "\n"
}

// trimEOL strips the line terminator, used before scoring a line.
func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
