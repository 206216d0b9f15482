package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/format"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codeassist/internal/models"
	"codeassist/internal/patch"
)

type AnalyzeResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated"`
}

// Analyze runs the configured analyzer with the file path as its last
// argument. A non-zero exit is reported, not returned as an error: linters
// exit non-zero when they find something.
func (s *Service) Analyze(ctx context.Context, path string) (*AnalyzeResult, error) {
	full, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	argv := strings.Fields(s.opts.AnalyzeCmd)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: no analyze command configured", ErrUnsupported)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ExecTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], full)...)
	cmd.Dir = filepath.Dir(full)
	cmd.WaitDelay = time.Second
	cb := newCapBuffer(s.opts.MaxOutputBytes)
	cmd.Stdout = cb
	cmd.Stderr = cb
	runErr := cmd.Run()
	// a killed analyzer is a timeout, not a finding
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", full, err)
	}
	exit, err := exitCode(runErr)
	if err != nil {
		return nil, err
	}
	s.log.Info("file.analyze", "path", full, "cmd", argv[0], "exitCode", exit, "truncated", cb.truncated)
	return &AnalyzeResult{Output: cb.String(), ExitCode: exit, Truncated: cb.truncated}, nil
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return -1, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return -1, err
}

// Format rewrites a file in place. Go sources go through go/format; other
// files are piped through the configured format command on stdin. The
// result is recorded as a patch.
func (s *Service) Format(ctx context.Context, path string) (*UpdateResult, error) {
	full, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	unlock := s.lock(full)
	defer unlock()

	f, err := loadText(full)
	if err != nil {
		return nil, err
	}
	var after string
	if filepath.Ext(full) == ".go" {
		b, err := format.Source([]byte(f.raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormatFailed, err)
		}
		after = string(b)
	} else {
		if after, err = s.formatCmd(ctx, full, f.raw); err != nil {
			return nil, err
		}
	}
	res := &UpdateResult{Changed: after != f.raw, Diff: patch.Diff(full, f.raw, after)}
	if !res.Changed {
		return res, nil
	}
	if err := writeAtomic(full, []byte(after), f.mode); err != nil {
		return nil, err
	}
	p, err := s.store.SavePatch(&models.Patch{
		Path:   full,
		Kind:   models.PatchFormat,
		Before: f.raw,
		After:  after,
		Diff:   res.Diff,
	})
	if err != nil {
		return nil, err
	}
	res.PatchID = p.ID
	s.log.Info("file.format", "path", full, "patchID", p.ID)
	return res, nil
}

func (s *Service) formatCmd(ctx context.Context, full, src string) (string, error) {
	argv := strings.Fields(s.opts.FormatCmd)
	if len(argv) == 0 {
		return "", fmt.Errorf("%w: no formatter for %s", ErrUnsupported, filepath.Ext(full))
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ExecTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(full)
	cmd.Stdin = strings.NewReader(src)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	errb := newCapBuffer(s.opts.MaxOutputBytes)
	cmd.Stdout = &out
	cmd.Stderr = errb
	runErr := cmd.Run()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("format %s: %w", full, err)
	}
	code, err := exitCode(runErr)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%w: exit %d: %s", ErrFormatFailed, code, strings.TrimSpace(errb.String()))
	}
	return out.String(), nil
}
