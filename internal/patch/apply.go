package patch

import "slices"

// Report counts what Apply did.
type Report struct {
	Applied  int `json:"applied"`
	Skipped  int `json:"skipped"`
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// Apply returns doc with edits applied in the given order. doc itself is
// left untouched.
func Apply(doc Document, edits []Resolved) Document {
	out, _ := ApplyReport(doc, edits)
	return out
}

// ApplyReport is Apply plus counts. Each edit's line is shifted by the net
// number of lines inserted and deleted by the edits before it; an edit whose
// shifted index falls outside the current document is skipped. Edits are
// never reordered here.
func ApplyReport(doc Document, edits []Resolved) (Document, Report) {
	out := doc.Clone()
	var rep Report
	offset := 0
	for _, e := range edits {
		idx := e.Line + offset
		if idx < 0 || idx >= len(out) {
			rep.Skipped++
			continue
		}
		switch e.Action {
		case Insert:
			lines := splitContent(e.NewContent)
			out = slices.Insert(out, idx+1, lines...)
			offset += len(lines)
			rep.Inserted += len(lines)
		case Modify:
			out[idx] = asLine(e.NewContent)
		case Delete:
			out = slices.Delete(out, idx, idx+1)
			offset--
			rep.Deleted++
		default:
			rep.Skipped++
			continue
		}
		rep.Applied++
	}
	return out, rep
}
