package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"codeassist/internal/patch"
)

// ValidatePath checks that p is absolute and names an existing regular file.
// It returns the cleaned path.
func ValidatePath(p string) (string, error) {
	if p == "" || !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrNotAbsolute, p)
	}
	full := filepath.Clean(p)
	fi, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", full, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFile, full)
	}
	return full, nil
}

// textFile is a file loaded for one patch cycle. It remembers the line ending
// style so the written result looks like the original.
type textFile struct {
	raw   string
	doc   patch.Document
	crlf  bool
	noEOL bool
	mode  fs.FileMode
}

func loadText(path string) (*textFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw := string(b)
	return &textFile{
		raw:   raw,
		doc:   patch.Parse(raw),
		crlf:  strings.Contains(raw, "\r\n"),
		noEOL: raw != "" && !strings.HasSuffix(raw, "\n"),
		mode:  fi.Mode().Perm(),
	}, nil
}

func (f *textFile) render(doc patch.Document) string {
	s := doc.String()
	if f.noEOL {
		s = strings.TrimSuffix(s, "\n")
	}
	if f.crlf {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

// writeAtomic replaces path with data through a temp file in the same
// directory and a rename.
func writeAtomic(path string, data []byte, mode fs.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
