package models

import "time"

type PatchKind string

const (
	PatchCreate   PatchKind = "create"
	PatchLines    PatchKind = "lines"
	PatchMatch    PatchKind = "match"
	PatchFormat   PatchKind = "format"
	PatchRollback PatchKind = "rollback"
)

// Patch is one recorded mutation of a file: the content before and after,
// and the edits that produced it. Before/After let a patch be rolled back.
type Patch struct {
	ID           string     `json:"id"`
	Path         string     `json:"path"`
	Kind         PatchKind  `json:"kind"`
	Edits        string     `json:"edits,omitempty"` // JSON of the request edits
	Before       string     `json:"-"`
	After        string     `json:"-"`
	Diff         string     `json:"diff,omitempty"`
	Applied      int        `json:"applied"`
	Skipped      int        `json:"skipped"`
	Created      bool       `json:"created"` // file did not exist before
	CreatedAt    time.Time  `json:"createdAt"`
	RolledBackAt *time.Time `json:"rolledBackAt,omitempty"`
}

// RolledBack reports whether the patch has already been undone.
func (p *Patch) RolledBack() bool { return p.RolledBackAt != nil }
