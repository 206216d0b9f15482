package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
)

// Logger writes structured JSON records. Fields attached through With and
// key/value pairs passed per call are masked when they look like secrets.
type Logger struct {
	base   *clog.Logger
	fields map[string]string
}

// New logs to stderr at the level named by CODEASSIST_LOG_LEVEL (default info).
func New() *Logger {
	return NewWithWriter(os.Stderr, os.Getenv("CODEASSIST_LOG_LEVEL"))
}

// NewWithWriter logs to w. Unknown level names fall back to info.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = clog.InfoLevel
	}
	base := clog.NewWithOptions(w, clog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       clog.JSONFormatter,
	})
	return &Logger{base: base, fields: map[string]string{}}
}

// NewTest returns a debug-level logger writing into a buffer.
func NewTest() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewWithWriter(buf, "debug"), buf
}

func (l *Logger) With(kv map[string]string) *Logger {
	child := &Logger{base: l.base, fields: make(map[string]string, len(l.fields)+len(kv))}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range kv {
		child.fields[k] = v
	}
	return child
}

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, l.pairs(kv)...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, l.pairs(kv)...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, l.pairs(kv)...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, l.pairs(kv)...) }

// pairs merges attached fields with call arguments, masking as it goes.
// Call arguments win over attached fields of the same key.
func (l *Logger) pairs(kv []any) []any {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seen := map[string]bool{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			seen[k] = true
		}
	}
	out := make([]any, 0, 2*len(keys)+len(kv))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		out = append(out, k, mask(k, l.fields[k]))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, k, mask(k, kv[i+1]))
	}
	return out
}

var secretKeys = []string{"key", "token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

// mask redacts string values whose key or shape suggests a credential.
func mask(k string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	lowerK := strings.ToLower(k)
	for _, p := range secretKeys {
		if strings.Contains(lowerK, p) {
			return redact(s)
		}
	}
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return "Bearer " + redact(s[len("bearer "):])
	}
	if strings.HasPrefix(s, "sk-") {
		return redact(s)
	}
	return s
}

func redact(s string) string {
	n := len(s)
	if n <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", s[:4], s[n-4:])
}
