package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeassist/internal/log"
	"codeassist/internal/models"
	"codeassist/internal/patch"
	"codeassist/internal/store"
)

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	l, _ := log.NewTest()
	return New(store.New(), opts, l)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o640))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestValidatePath(t *testing.T) {
	_, err := ValidatePath("rel/a.txt")
	assert.ErrorIs(t, err, ErrNotAbsolute)
	_, err = ValidatePath(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ValidatePath(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFile)
	p := writeFile(t, "a.txt", "x")
	got, err := ValidatePath(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestUpdateLinesWritesAndRecords(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\nb\nc\n")
	res, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{
		{Line: 1, NewContent: "B", Action: patch.Modify},
		{Line: 2, Action: patch.Delete},
		{Line: 9, Action: patch.Delete},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "a\nB\n", readFile(t, p))
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Changed)
	require.NotEmpty(t, res.PatchID)
	assert.Contains(t, res.Diff, "+B")

	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	hist, err := s.History(p, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.PatchLines, hist[0].Kind)
	assert.Contains(t, hist[0].Edits, `"action":"modify"`)
}

func TestUnencodableEditsDoNotWrite(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\n")
	_, err := s.update(context.Background(), p, models.PatchLines, make(chan int), false, func(doc patch.Document) ([]patch.Resolved, []patch.Match) {
		return []patch.Resolved{{Line: 0, Action: patch.Modify, NewContent: "b"}}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode edits")
	assert.Equal(t, "a\n", readFile(t, p))
	hist, err := s.History(p, 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestUpdatePreservesLineEndings(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "crlf.txt", "one\r\ntwo")
	_, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{{Line: 0, NewContent: "ONE", Action: patch.Modify}}, false)
	require.NoError(t, err)
	assert.Equal(t, "ONE\r\ntwo", readFile(t, p))
}

func TestDryRunDoesNotWrite(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\nb\n")
	res, err := s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Match: "b", Action: patch.Delete}}, patch.Exact, 0, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Changed)
	assert.Empty(t, res.PatchID)
	assert.Contains(t, res.Diff, "-b")
	assert.Equal(t, "a\nb\n", readFile(t, p))
	hist, _ := s.History("", 0)
	assert.Empty(t, hist)
}

func TestNoMatchIsSuccessWithoutPatch(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\n")
	res, err := s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Match: "zzz", Action: patch.Delete}}, patch.Exact, 0, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.PatchID)
	require.Len(t, res.Matches, 1)
	assert.Empty(t, res.Matches[0].Lines)
}

func TestUpdateMatchFuzzyUsesDefaultMinScore(t *testing.T) {
	s := newService(t, Options{FuzzyMinScore: 90})
	p := writeFile(t, "a.py", "def foo():\n    return 1\n")
	res, err := s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Match: "def bar():", NewContent: "def baz():", Action: patch.Modify}}, patch.Fuzzy, DefaultMinScore, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	res, err = s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Match: "def bar():", NewContent: "def baz():", Action: patch.Modify}}, patch.Fuzzy, 50, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "def baz():\n    return 1\n", readFile(t, p))
}

func TestUpdateMatchExplicitZeroMinScoreOverridesDefault(t *testing.T) {
	s := newService(t, Options{FuzzyMinScore: 90})
	p := writeFile(t, "a.py", "def foo():\n    return 1\n")
	res, err := s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Match: "def bar():", NewContent: "def baz():", Action: patch.Modify}}, patch.Fuzzy, 0, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "def baz():\n    return 1\n", readFile(t, p))
}

func TestInvalidEdits(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\n")
	_, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{{Line: -1, Action: patch.Delete}}, false)
	assert.ErrorIs(t, err, ErrInvalidEdit)
	_, err = s.UpdateMatch(context.Background(), p, []patch.ContentEdit{{Action: patch.Delete}}, patch.Exact, 0, false)
	assert.ErrorIs(t, err, ErrInvalidEdit)
}

func TestReadOnly(t *testing.T) {
	s := newService(t, Options{ReadOnly: true})
	p := writeFile(t, "a.txt", "a\n")
	_, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{{Line: 0, Action: patch.Delete}}, false)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.Create(context.Background(), p, "x")
	assert.ErrorIs(t, err, ErrReadOnly)
	res, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{{Line: 0, Action: patch.Delete}}, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	content, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "a\n", content)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\nb\n")
	res, err := s.UpdateLines(ctx, p, []patch.LineEdit{{Line: 0, NewContent: "A", Action: patch.Modify}}, false)
	require.NoError(t, err)

	rb, err := s.Rollback(ctx, res.PatchID, false)
	require.NoError(t, err)
	assert.Equal(t, models.PatchRollback, rb.Kind)
	assert.Equal(t, "a\nb\n", readFile(t, p))

	_, err = s.Rollback(ctx, res.PatchID, false)
	assert.ErrorIs(t, err, ErrAlreadyRolledBack)
	_, err = s.Rollback(ctx, rb.ID, false)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Rollback(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrPatchNotFound)
}

func TestRollbackConflict(t *testing.T) {
	ctx := context.Background()
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\n")
	res, err := s.UpdateLines(ctx, p, []patch.LineEdit{{Line: 0, NewContent: "b", Action: patch.Insert}}, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("edited elsewhere\n"), 0o644))

	_, err = s.Rollback(ctx, res.PatchID, false)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.Rollback(ctx, res.PatchID, true)
	require.NoError(t, err)
	assert.Equal(t, "a\n", readFile(t, p))
}

func TestCreateAndRollbackRemovesNewFile(t *testing.T) {
	ctx := context.Background()
	s := newService(t, Options{})
	p := filepath.Join(t.TempDir(), "nested", "dir", "new.txt")
	created, err := s.Create(ctx, p, "hello\n")
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, "hello\n", readFile(t, p))

	_, err = s.Rollback(ctx, created.ID, false)
	require.NoError(t, err)
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, err = s.Create(ctx, "relative.txt", "x")
	assert.ErrorIs(t, err, ErrNotAbsolute)
}

func TestCreateOverwritesAndKeepsBefore(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "old\n")
	created, err := s.Create(context.Background(), p, "new\n")
	require.NoError(t, err)
	assert.False(t, created.Created)
	assert.Equal(t, "old\n", created.Before)
	_, err = s.Rollback(context.Background(), created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "old\n", readFile(t, p))
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "head\n")
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateLines(context.Background(), p, []patch.LineEdit{{Line: 0, NewContent: "x", Action: patch.Insert}}, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n+1, strings.Count(readFile(t, p), "\n"))
	assert.Empty(t, s.locks)
}

func TestFormatGo(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "m.go", "package m\nfunc  F( ) {}\n")
	res, err := s.Format(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.NotEmpty(t, res.PatchID)
	assert.Equal(t, "package m\n\nfunc F() {}\n", readFile(t, p))

	bad := writeFile(t, "bad.go", "package m\nfunc {\n")
	_, err = s.Format(context.Background(), bad)
	assert.ErrorIs(t, err, ErrFormatFailed)
}

func TestFormatCommand(t *testing.T) {
	s := newService(t, Options{FormatCmd: "tr a-z A-Z"})
	p := writeFile(t, "a.txt", "shout\n")
	_, err := s.Format(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "SHOUT\n", readFile(t, p))

	s = newService(t, Options{})
	_, err = s.Format(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAnalyze(t *testing.T) {
	p := writeFile(t, "a.py", "x = 1\n")

	res, err := newService(t, Options{AnalyzeCmd: "echo lint"}).Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "lint "+p+"\n", res.Output)

	res, err = newService(t, Options{AnalyzeCmd: "false"}).Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	_, err = newService(t, Options{AnalyzeCmd: "no-such-analyzer-binary"}).Analyze(context.Background(), p)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestAnalyzeTimeout(t *testing.T) {
	p := writeFile(t, "a.py", "x = 1\n")
	script := filepath.Join(t.TempDir(), "slow-lint")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho partial\nexec sleep 5\n"), 0o755))

	_, err := newService(t, Options{AnalyzeCmd: script, ExecTimeout: 200 * time.Millisecond}).Analyze(context.Background(), p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRollbackConcurrentForceRunsOnce(t *testing.T) {
	ctx := context.Background()
	s := newService(t, Options{})
	p := writeFile(t, "a.txt", "a\n")
	res, err := s.UpdateLines(ctx, p, []patch.LineEdit{{Line: 0, NewContent: "A", Action: patch.Modify}}, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Rollback(ctx, res.PatchID, true)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRolledBack)
	}
	assert.Equal(t, 1, ok)
	list, err := s.History(p, 0)
	require.NoError(t, err)
	rollbacks := 0
	for _, rec := range list {
		if rec.Kind == models.PatchRollback {
			rollbacks++
		}
	}
	assert.Equal(t, 1, rollbacks)
}

type markFailStore struct {
	store.Repository
}

func (markFailStore) MarkRolledBack(string, time.Time) error {
	return errors.New("disk full")
}

func TestRollbackMarkFailureLeavesFile(t *testing.T) {
	ctx := context.Background()
	l, _ := log.NewTest()
	s := New(markFailStore{store.New()}, Options{}, l)
	p := writeFile(t, "a.txt", "a\n")
	res, err := s.UpdateLines(ctx, p, []patch.LineEdit{{Line: 0, NewContent: "A", Action: patch.Modify}}, false)
	require.NoError(t, err)

	_, err = s.Rollback(ctx, res.PatchID, false)
	require.Error(t, err)
	assert.Equal(t, "A\n", readFile(t, p))
	list, err := s.History(p, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// a created file stays in place too
	q := filepath.Join(t.TempDir(), "new.txt")
	rec, err := s.Create(ctx, q, "fresh\n")
	require.NoError(t, err)
	_, err = s.Rollback(ctx, rec.ID, false)
	require.Error(t, err)
	assert.Equal(t, "fresh\n", readFile(t, q))
}

func TestCapBuffer(t *testing.T) {
	cb := newCapBuffer(4)
	n, err := cb.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", cb.String())
	assert.True(t, cb.truncated)
}

func TestOutline(t *testing.T) {
	s := newService(t, Options{})
	p := writeFile(t, "a.py", "def f():\n    return 1\n")
	syms, err := s.Outline(p)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "f", syms[0].Name)
	assert.Equal(t, 1, syms[0].EndLine)

	_, err = s.Outline(writeFile(t, "b.go", "package p\nfunc {"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = s.Outline(writeFile(t, "c.txt", "x"))
	assert.ErrorIs(t, err, ErrUnsupported)

	syms, err = s.Outline(writeFile(t, "d.py", "x = 1\n"))
	require.NoError(t, err)
	assert.NotNil(t, syms)
	assert.Empty(t, syms)
}
