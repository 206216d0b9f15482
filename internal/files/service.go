// Package files is the caller layer around the patch engine: it validates
// paths, loads and writes documents, serializes work per file and records
// every mutation so it can be rolled back.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeassist/internal/config"
	"codeassist/internal/log"
	"codeassist/internal/models"
	"codeassist/internal/patch"
	"codeassist/internal/store"
)

type Options struct {
	ReadOnly       bool
	AnalyzeCmd     string
	FormatCmd      string
	ExecTimeout    time.Duration
	MaxOutputBytes int
	FuzzyMinScore  int
}

type Service struct {
	store store.Repository
	opts  Options
	log   *log.Logger

	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func New(r store.Repository, opts Options, l *log.Logger) *Service {
	if r == nil {
		r = store.New()
	}
	if l == nil {
		l = log.New()
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 30 * time.Second
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 64 * 1024
	}
	return &Service{store: r, opts: opts, log: l, locks: map[string]*pathLock{}}
}

// lock serializes load/apply/write cycles on one path within the process.
func (s *Service) lock(path string) func() {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &pathLock{}
		s.locks[path] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, path)
		}
		s.mu.Unlock()
	}
}

func (s *Service) ReadOnly() bool { return s.opts.ReadOnly }

// Read returns the content of an existing regular file.
func (s *Service) Read(path string) (string, error) {
	full, err := ValidatePath(path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", full, err)
	}
	return string(b), nil
}

// Create writes content to path, creating parent directories and replacing
// any existing file.
func (s *Service) Create(ctx context.Context, path, content string) (*models.Patch, error) {
	if path == "" || !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, path)
	}
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	full := filepath.Clean(path)
	unlock := s.lock(full)
	defer unlock()

	before, mode, existed := "", fs.FileMode(0o644), false
	fi, err := os.Stat(full)
	switch {
	case err == nil:
		if !fi.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", ErrNotFile, full)
		}
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", full, err)
		}
		before, mode, existed = string(b), fi.Mode().Perm(), true
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("stat %s: %w", full, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	if err := writeAtomic(full, []byte(content), mode); err != nil {
		return nil, err
	}
	p, err := s.store.SavePatch(&models.Patch{
		Path:    full,
		Kind:    models.PatchCreate,
		Before:  before,
		After:   content,
		Diff:    patch.Diff(full, before, content),
		Created: !existed,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("file.create", "path", full, "bytes", len(content), "patchID", p.ID, "existed", existed)
	return p, nil
}

// UpdateResult describes one update pass. PatchID is empty when nothing was
// written (dry run, or the edits left the file unchanged).
type UpdateResult struct {
	PatchID string        `json:"patchID,omitempty"`
	Applied int           `json:"applied"`
	Skipped int           `json:"skipped"`
	Changed bool          `json:"changed"`
	DryRun  bool          `json:"dryRun"`
	Diff    string        `json:"diff"`
	Matches []patch.Match `json:"matches,omitempty"`
}

// UpdateLines applies line-addressed edits to an existing file.
func (s *Service) UpdateLines(ctx context.Context, path string, edits []patch.LineEdit, dryRun bool) (*UpdateResult, error) {
	if err := patch.ValidateLineEdits(edits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdit, err)
	}
	resolved := patch.ResolveLines(edits)
	return s.update(ctx, path, models.PatchLines, edits, dryRun, func(patch.Document) ([]patch.Resolved, []patch.Match) {
		return resolved, nil
	})
}

// DefaultMinScore asks UpdateMatch for the configured fuzzy threshold.
const DefaultMinScore = -1

// UpdateMatch resolves content-addressed edits against the current file and
// applies them. A negative minScore uses the configured default; 0 keeps
// the best line whatever its score.
func (s *Service) UpdateMatch(ctx context.Context, path string, edits []patch.ContentEdit, mode patch.Mode, minScore int, dryRun bool) (*UpdateResult, error) {
	if err := patch.ValidateContentEdits(edits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdit, err)
	}
	if minScore < 0 {
		minScore = s.opts.FuzzyMinScore
	}
	opts := patch.Options{Mode: mode, MinScore: minScore}
	return s.update(ctx, path, models.PatchMatch, edits, dryRun, func(doc patch.Document) ([]patch.Resolved, []patch.Match) {
		return patch.Resolve(doc, edits, opts)
	})
}

type resolver func(patch.Document) ([]patch.Resolved, []patch.Match)

func (s *Service) update(ctx context.Context, path string, kind models.PatchKind, edits any, dryRun bool, resolve resolver) (*UpdateResult, error) {
	full, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if s.opts.ReadOnly && !dryRun {
		return nil, ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lock(full)
	defer unlock()

	f, err := loadText(full)
	if err != nil {
		return nil, err
	}
	resolved, matches := resolve(f.doc)
	out, rep := patch.ApplyReport(f.doc, resolved)
	after := f.render(out)
	res := &UpdateResult{
		Applied: rep.Applied,
		Skipped: rep.Skipped,
		Changed: after != f.raw,
		DryRun:  dryRun,
		Diff:    patch.Diff(full, f.raw, after),
		Matches: matches,
	}
	if dryRun || !res.Changed {
		return res, nil
	}
	ej, err := json.Marshal(edits)
	if err != nil {
		return nil, fmt.Errorf("encode edits: %w", err)
	}
	if err := writeAtomic(full, []byte(after), f.mode); err != nil {
		return nil, err
	}
	p, err := s.store.SavePatch(&models.Patch{
		Path:    full,
		Kind:    kind,
		Edits:   string(ej),
		Before:  f.raw,
		After:   after,
		Diff:    res.Diff,
		Applied: rep.Applied,
		Skipped: rep.Skipped,
	})
	if err != nil {
		return nil, err
	}
	res.PatchID = p.ID
	s.log.Info("file.update", "path", full, "kind", string(kind), "applied", rep.Applied, "skipped", rep.Skipped, "patchID", p.ID)
	return res, nil
}

// Rollback restores the content a patch replaced. Unless force is set the
// file must still hold exactly what the patch wrote. Rolling back a create
// of a new file removes it.
func (s *Service) Rollback(ctx context.Context, id string, force bool) (*models.Patch, error) {
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	orig, err := s.getPatch(id)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(orig.Path)
	defer unlock()
	// reload under the path lock so concurrent rollbacks of one patch see
	// each other's mark
	if orig, err = s.getPatch(id); err != nil {
		return nil, err
	}
	if orig.RolledBack() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, id)
	}
	if orig.Kind == models.PatchRollback {
		return nil, fmt.Errorf("%w: cannot roll back a rollback", ErrUnsupported)
	}

	current, mode, exists := "", fs.FileMode(0o644), false
	if fi, err := os.Stat(orig.Path); err == nil {
		if !fi.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", ErrNotFile, orig.Path)
		}
		b, err := os.ReadFile(orig.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", orig.Path, err)
		}
		current, mode, exists = string(b), fi.Mode().Perm(), true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", orig.Path, err)
	}
	if !force && (!exists || current != orig.After) {
		return nil, fmt.Errorf("%w: %s", ErrConflict, orig.Path)
	}

	if err := restore(orig.Path, orig.Created, orig.Before, mode); err != nil {
		return nil, err
	}
	if err := s.store.MarkRolledBack(orig.ID, time.Now()); err != nil {
		// put back what was there so the file and the history agree
		if uerr := restore(orig.Path, !exists, current, mode); uerr != nil {
			s.log.Error("file.rollback.undo", "path", orig.Path, "patchID", orig.ID, "err", uerr.Error())
		}
		return nil, err
	}
	rb, err := s.store.SavePatch(&models.Patch{
		Path:   orig.Path,
		Kind:   models.PatchRollback,
		Edits:  fmt.Sprintf(`{"rollbackOf":%q}`, orig.ID),
		Before: current,
		After:  orig.Before,
		Diff:   patch.Diff(orig.Path, current, orig.Before),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("file.rollback", "path", orig.Path, "patchID", orig.ID, "rollbackID", rb.ID, "force", force)
	return rb, nil
}

func (s *Service) getPatch(id string) (*models.Patch, error) {
	p, err := s.store.GetPatch(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPatchNotFound, id)
	}
	return p, err
}

// restore writes content to path, or removes the file when remove is set.
func restore(path string, remove bool, content string, mode fs.FileMode) error {
	if remove {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return writeAtomic(path, []byte(content), mode)
}

// History lists recorded patches, newest first. An empty path lists all.
func (s *Service) History(path string, limit int) ([]*models.Patch, error) {
	if path != "" {
		if !filepath.IsAbs(path) {
			return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, path)
		}
		path = filepath.Clean(path)
	}
	return s.store.ListPatches(path, limit)
}

// OptionsFromConfig maps the service configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ReadOnly:      cfg.ReadOnly,
		AnalyzeCmd:    cfg.AnalyzeCmd,
		FormatCmd:     cfg.FormatCmd,
		ExecTimeout:   cfg.ExecTimeout,
		FuzzyMinScore: cfg.FuzzyMinScore,
	}
}
