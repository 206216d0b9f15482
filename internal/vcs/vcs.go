// Package vcs runs the few version-control actions the assistant needs on a
// local repository.
package vcs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"
)

var (
	ErrNotAbsolute     = errors.New("repository path must be absolute")
	ErrNotRepository   = errors.New("not a git repository")
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrEmptyMessage    = errors.New("commit message required")
)

const (
	defaultAuthor = "codeassist"
	defaultEmail  = "codeassist@localhost"
)

type Repo struct {
	path string
	repo *git.Repository
}

// Open opens the repository rooted at path (or one of its parents).
func Open(path string) (*Repo, error) {
	if path == "" || !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, path)
	}
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Repo{path: path, repo: r}, nil
}

type FileStatus struct {
	Path     string `json:"path"`
	Staging  string `json:"staging"`
	Worktree string `json:"worktree"`
}

type Status struct {
	Clean bool         `json:"clean"`
	Files []FileStatus `json:"files"`
}

func (r *Repo) Status() (*Status, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	out := &Status{Clean: st.IsClean(), Files: []FileStatus{}}
	for p, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		out.Files = append(out.Files, FileStatus{Path: p, Staging: codeName(fs.Staging), Worktree: codeName(fs.Worktree)})
	}
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	return out, nil
}

func codeName(c git.StatusCode) string {
	switch c {
	case git.Unmodified:
		return "unmodified"
	case git.Untracked:
		return "untracked"
	case git.Modified:
		return "modified"
	case git.Added:
		return "added"
	case git.Deleted:
		return "deleted"
	case git.Renamed:
		return "renamed"
	case git.Copied:
		return "copied"
	case git.UpdatedButUnmerged:
		return "unmerged"
	default:
		return string(rune(c))
	}
}

type CommitOptions struct {
	Message     string
	Paths       []string // relative to the repository root
	All         bool
	AuthorName  string
	AuthorEmail string
}

// Commit stages the requested paths (or everything when All is set) and
// records a commit. It returns the new commit hash.
func (r *Repo) Commit(opts CommitOptions) (string, error) {
	if strings.TrimSpace(opts.Message) == "" {
		return "", ErrEmptyMessage
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", err
	}
	if opts.All {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return "", fmt.Errorf("add all: %w", err)
		}
	}
	for _, p := range opts.Paths {
		if _, err := wt.Add(filepath.ToSlash(p)); err != nil {
			return "", fmt.Errorf("add %s: %w", p, err)
		}
	}
	st, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	staged := false
	for _, fs := range st {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", ErrNothingToCommit
	}
	name, email := opts.AuthorName, opts.AuthorEmail
	if name == "" {
		name = defaultAuthor
	}
	if email == "" {
		email = defaultEmail
	}
	h, err := wt.Commit(opts.Message, &git.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return h.String(), nil
}

type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
	Message string    `json:"message"`
}

// Log returns up to limit commits reachable from HEAD, newest first. A
// repository without commits yields an empty list.
func (r *Repo) Log(limit int) ([]Commit, error) {
	out := []Commit{}
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		out = append(out, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
			Message: strings.TrimSpace(c.Message),
		})
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}
	return out, nil
}
