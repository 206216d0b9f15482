package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeassist/internal/config"
	"codeassist/internal/files"
	mylog "codeassist/internal/log"
	"codeassist/internal/store"
	"codeassist/internal/webtext"
)

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, u string) (*webtext.Page, error) {
	if strings.Contains(u, "down") {
		return nil, fmt.Errorf("%w: status 503", webtext.ErrUpstream)
	}
	return &webtext.Page{URL: u, Title: "T", Content: "body"}, nil
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *API {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	lg, _ := mylog.NewTest()
	fs := files.New(store.New(), files.OptionsFromConfig(cfg), lg)
	return NewAPI(cfg, fs, fakeFetcher{}, lg)
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, rd))
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad json %q: %v", rr.Body.String(), err)
	}
	return m
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHealthAndHello(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	rr := do(t, mux, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	for _, p := range []string{"/", "/hello"} {
		rr = do(t, mux, http.MethodGet, p, nil)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "hello") {
			t.Fatalf("%s: %d %q", p, rr.Code, rr.Body.String())
		}
	}
	if rr = do(t, mux, http.MethodGet, "/nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route code=%d", rr.Code)
	}
}

func TestReadFileValidation(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := writeTemp(t, "a.txt", "hello\n")

	rr := do(t, mux, http.MethodGet, "/file?filepath="+p, nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["content"] != "hello\n" {
		t.Fatalf("read: %d %s", rr.Code, rr.Body.String())
	}
	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"relative.txt", http.StatusBadRequest, "bad_request"},
		{filepath.Join(t.TempDir(), "missing.txt"), http.StatusNotFound, "not_found"},
		{t.TempDir(), http.StatusBadRequest, "not_a_file"},
	}
	for _, c := range cases {
		rr := do(t, mux, http.MethodGet, "/file?filepath="+c.path, nil)
		if rr.Code != c.status {
			t.Fatalf("%s: code=%d want %d", c.path, rr.Code, c.status)
		}
		m := decodeMap(t, rr)
		if m["error"] != c.code || int(m["code"].(float64)) != c.status {
			t.Fatalf("%s: body %v", c.path, m)
		}
	}
	if rr := do(t, mux, http.MethodPost, "/file?filepath="+p, nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method code=%d", rr.Code)
	}
}

func TestCreateUpdateRollbackFlow(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := filepath.Join(t.TempDir(), "src", "main.py")

	rr := do(t, mux, http.MethodPost, "/create-file", map[string]any{"filepath": p, "content": "a\nb\nc\n"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create code=%d body=%s", rr.Code, rr.Body.String())
	}
	if m := decodeMap(t, rr); m["status"] != "success" || m["patchID"] == "" {
		t.Fatalf("create body: %v", m)
	}

	rr = do(t, mux, http.MethodPost, "/update-file", map[string]any{
		"filepath": p,
		"updates": []map[string]any{
			{"line_number": 0, "action": "delete"},
			{"line_number": 2, "action": "delete"},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update code=%d body=%s", rr.Code, rr.Body.String())
	}
	m := decodeMap(t, rr)
	if m["applied"].(float64) != 2 || m["skipped"].(float64) != 0 {
		t.Fatalf("update counts: %v", m)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "b\n" {
		t.Fatalf("content after deletes: %q", b)
	}
	patchID := m["patchID"].(string)

	rr = do(t, mux, http.MethodPost, "/rollback", map[string]any{"patchID": patchID})
	if rr.Code != http.StatusOK {
		t.Fatalf("rollback code=%d body=%s", rr.Code, rr.Body.String())
	}
	b, _ = os.ReadFile(p)
	if string(b) != "a\nb\nc\n" {
		t.Fatalf("content after rollback: %q", b)
	}
	if rr = do(t, mux, http.MethodPost, "/rollback", map[string]any{"patchID": patchID}); rr.Code != http.StatusConflict {
		t.Fatalf("second rollback code=%d", rr.Code)
	}
	if rr = do(t, mux, http.MethodPost, "/rollback", map[string]any{"patchID": "nope"}); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown patch code=%d", rr.Code)
	}

	rr = do(t, mux, http.MethodGet, "/patches?filepath="+p, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("patches code=%d", rr.Code)
	}
	if list := decodeMap(t, rr)["patches"].([]any); len(list) != 3 {
		t.Fatalf("expected create, update, rollback; got %d", len(list))
	}
	if rr = do(t, mux, http.MethodGet, "/patches?limit=x", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code=%d", rr.Code)
	}
}

func TestUpdateRejectsUnknownAction(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := writeTemp(t, "a.txt", "a\n")
	rr := do(t, mux, http.MethodPost, "/update-file", map[string]any{
		"filepath": p,
		"updates":  []map[string]any{{"line_number": 0, "new_content": "x", "action": "replace"}},
	})
	if rr.Code != http.StatusBadRequest || decodeMap(t, rr)["error"] != "invalid_request" {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	b, _ := os.ReadFile(p)
	if string(b) != "a\n" {
		t.Fatalf("file touched: %q", b)
	}
	if rr = do(t, mux, http.MethodPost, "/update-file", map[string]any{"filepath": p}); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing updates code=%d", rr.Code)
	}
	if rr = do(t, mux, http.MethodPost, "/update-file", "{not json"); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed code=%d", rr.Code)
	}
}

func TestUpdateOutOfRangeStillSucceeds(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := writeTemp(t, "a.txt", "a\n")
	rr := do(t, mux, http.MethodPost, "/update-file", map[string]any{
		"filepath": p,
		"updates":  []map[string]any{{"line_number": 5, "new_content": "x", "action": "modify"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	m := decodeMap(t, rr)
	if m["skipped"].(float64) != 1 || m["changed"] != false {
		t.Fatalf("body: %v", m)
	}
}

func TestUpdateMatchFuzzyDryRun(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := writeTemp(t, "a.py", "def foo():\n    return 1\n")
	rr := do(t, mux, http.MethodPost, "/update-file/match", map[string]any{
		"filepath": p,
		"mode":     "fuzzy",
		"dryRun":   true,
		"updates":  []map[string]any{{"content_to_match": "return 1", "new_content": "    return 2", "action": "modify"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	m := decodeMap(t, rr)
	if m["dryRun"] != true || !strings.Contains(m["diff"].(string), "+    return 2") {
		t.Fatalf("body: %v", m)
	}
	matches := m["matches"].([]any)
	if lines := matches[0].(map[string]any)["lines"].([]any); len(lines) != 1 || lines[0].(float64) != 1 {
		t.Fatalf("matches: %v", matches)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "def foo():\n    return 1\n" {
		t.Fatalf("dry run wrote: %q", b)
	}

	rr = do(t, mux, http.MethodPost, "/update-file/match", map[string]any{
		"filepath": p, "mode": "regex",
		"updates": []map[string]any{{"content_to_match": "x", "action": "delete"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad mode code=%d", rr.Code)
	}
}

func TestUpdateMatchMinScore(t *testing.T) {
	mux := newTestAPI(t, func(c *config.Config) { c.FuzzyMinScore = 90 }).mux()
	p := writeTemp(t, "a.py", "def foo():\n    return 1\n")
	body := func(minScore any) map[string]any {
		m := map[string]any{
			"filepath": p,
			"mode":     "fuzzy",
			"dryRun":   true,
			"updates":  []map[string]any{{"content_to_match": "def bar():", "new_content": "def baz():", "action": "modify"}},
		}
		if minScore != nil {
			m["minScore"] = minScore
		}
		return m
	}
	// omitted: the configured 90 rejects the weak match
	rr := do(t, mux, http.MethodPost, "/update-file/match", body(nil))
	if rr.Code != http.StatusOK || decodeMap(t, rr)["changed"] != false {
		t.Fatalf("default threshold: %d %s", rr.Code, rr.Body.String())
	}
	// explicit 0 disables the threshold
	rr = do(t, mux, http.MethodPost, "/update-file/match", body(0))
	if rr.Code != http.StatusOK || decodeMap(t, rr)["changed"] != true {
		t.Fatalf("zero threshold: %d %s", rr.Code, rr.Body.String())
	}
	if rr = do(t, mux, http.MethodPost, "/update-file/match", body(-1)); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative minScore code=%d", rr.Code)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	mux := newTestAPI(t, func(c *config.Config) { c.ReadOnly = true }).mux()
	p := writeTemp(t, "a.txt", "a\n")
	rr := do(t, mux, http.MethodPost, "/create-file", map[string]any{"filepath": p, "content": "x"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("create code=%d", rr.Code)
	}
	rr = do(t, mux, http.MethodPost, "/git/commit", map[string]any{"repoPath": filepath.Dir(p), "message": "m"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("commit code=%d", rr.Code)
	}
	if rr = do(t, mux, http.MethodGet, "/file?filepath="+p, nil); rr.Code != http.StatusOK {
		t.Fatalf("read code=%d", rr.Code)
	}
}

func TestAuthToken(t *testing.T) {
	mux := newTestAPI(t, func(c *config.Config) { c.APIToken = "s3cret" }).mux()
	p := writeTemp(t, "a.txt", "a\n")
	if rr := do(t, mux, http.MethodGet, "/file?filepath="+p, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token code=%d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/file?filepath="+p, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer code=%d", rr.Code)
	}
	if rr := do(t, mux, http.MethodGet, "/file?token=s3cret&filepath="+p, nil); rr.Code != http.StatusOK {
		t.Fatalf("query token code=%d", rr.Code)
	}
	// plugin surface stays public
	if rr := do(t, mux, http.MethodGet, "/.well-known/ai-plugin.json", nil); rr.Code != http.StatusOK {
		t.Fatalf("manifest code=%d", rr.Code)
	}
}

func TestURLHandler(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	rr := do(t, mux, http.MethodGet, "/url?url=https://example.com/a", nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["content"] != "body" {
		t.Fatalf("url: %d %s", rr.Code, rr.Body.String())
	}
	if rr = do(t, mux, http.MethodGet, "/url?url=https://down.example.com", nil); rr.Code != http.StatusBadGateway {
		t.Fatalf("upstream code=%d", rr.Code)
	}
	if rr = do(t, mux, http.MethodGet, "/url", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing url code=%d", rr.Code)
	}
}

func TestAnalyzeAndRefactor(t *testing.T) {
	mux := newTestAPI(t, func(c *config.Config) { c.AnalyzeCmd = "echo ok" }).mux()
	p := writeTemp(t, "m.go", "package m\nfunc  F( ) {}\n")
	rr := do(t, mux, http.MethodPost, "/analyze-code", map[string]any{"filepath": p})
	if rr.Code != http.StatusOK || !strings.HasPrefix(decodeMap(t, rr)["output"].(string), "ok ") {
		t.Fatalf("analyze: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, mux, http.MethodPost, "/refactor-code", map[string]any{"filepath": p})
	if rr.Code != http.StatusOK {
		t.Fatalf("refactor: %d %s", rr.Code, rr.Body.String())
	}
	if m := decodeMap(t, rr); m["message"] != "Code refactored successfully." || m["patchID"] == nil {
		t.Fatalf("refactor body: %v", m)
	}
	txt := writeTemp(t, "a.txt", "x\n")
	if rr = do(t, mux, http.MethodPost, "/refactor-code", map[string]any{"filepath": txt}); rr.Code != http.StatusNotImplemented {
		t.Fatalf("no formatter code=%d", rr.Code)
	}
}

func TestPluginManifestUsesHost(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/ai-plugin.json", nil)
	req.Host = "localhost:5002"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	m := decodeMap(t, rr)
	if m["logo_url"] != "http://localhost:5002/logo.png" {
		t.Fatalf("logo_url: %v", m["logo_url"])
	}
	rr = do(t, mux, http.MethodGet, "/openapi.json", nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["openapi"] != "3.0.1" {
		t.Fatalf("openapi.json: %d", rr.Code)
	}
	rr = do(t, mux, http.MethodGet, "/logo.png", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("logo: %d", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	h := newTestAPI(t, nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/update-file", nil)
	req.Header.Set("Origin", "https://chat.openai.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight code=%d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://chat.openai.com" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" ||
		rr.Header().Get("Access-Control-Allow-Headers") != "content-type" {
		t.Fatalf("preflight headers: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/update-file", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed preflight code=%d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5002")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5002" {
		t.Fatalf("simple request missing CORS header")
	}
}

func TestRateLimit429AndRetryAfter(t *testing.T) {
	h := newTestAPI(t, func(c *config.Config) { c.RateLimitRPS = 1 }).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.1:12345"
	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, req)
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rr1.Code)
	}
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr2.Code)
	}
	if v := rr2.Header().Get("Retry-After"); v == "" {
		t.Fatalf("expected Retry-After header to be set")
	}
	// another client has its own bucket
	req.RemoteAddr = "203.0.113.2:12345"
	rr3 := httptest.NewRecorder()
	h.ServeHTTP(rr3, req)
	if rr3.Code != http.StatusOK {
		t.Fatalf("other client expected 200, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	h := newTestAPI(t, func(c *config.Config) { c.RateLimitRPS = 1 }).Handler()
	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first request code=%d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusTooManyRequests {
		t.Fatalf("rotated X-Forwarded-For bypassed the limit, code=%d", code)
	}
}

func TestClientIPTrustsProxyOnlyWhenConfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if got := clientIP(req, false); got != "192.0.2.7" {
		t.Fatalf("untrusted clientIP = %q", got)
	}
	if got := clientIP(req, true); got != "198.51.100.4" {
		t.Fatalf("trusted clientIP = %q", got)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	lg, buf := mylog.NewTest()
	cfg := config.Default()
	api := NewAPI(cfg, files.New(store.New(), files.Options{}, lg), fakeFetcher{}, lg)
	h := api.Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id not echoed")
	}
	if !strings.Contains(buf.String(), "abc-123") || !strings.Contains(buf.String(), "http.req") {
		t.Fatalf("request not logged: %s", buf.String())
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if len(rr.Header().Get("X-Request-ID")) != 24 {
		t.Fatalf("generated id: %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestOutline(t *testing.T) {
	mux := newTestAPI(t, nil).mux()
	p := writeTemp(t, "m.py", "class A:\n    def run(self):\n        pass\n")
	rr := do(t, mux, http.MethodGet, "/outline?filepath="+p, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("outline: %d %s", rr.Code, rr.Body.String())
	}
	syms, _ := decodeMap(t, rr)["symbols"].([]any)
	if len(syms) != 2 {
		t.Fatalf("symbols: %v", syms)
	}
	bad := writeTemp(t, "b.go", "package b\nfunc {")
	if rr = do(t, mux, http.MethodGet, "/outline?filepath="+bad, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("parse error code=%d", rr.Code)
	}
	if rr = do(t, mux, http.MethodPost, "/outline?filepath="+p, nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post code=%d", rr.Code)
	}
}

func TestMCPEndpoint(t *testing.T) {
	mux := newTestAPI(t, func(c *config.Config) { c.APIToken = "s3cret" }).mux()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	if rr := do(t, mux, http.MethodPost, "/mcp", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token code=%d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "codeassist") {
		t.Fatalf("initialize: %d %s", rr.Code, rr.Body.String())
	}
}
