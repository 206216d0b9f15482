package server

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// authorize checks the optional API token. Accepts Authorization: Bearer
// <token> or ?token=.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	tok := a.cfg.APIToken
	if tok == "" {
		return true
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == tok {
		return true
	}
	if r.URL.Query().Get("token") == tok {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	return false
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authorize(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

// Flush keeps streaming responses working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

// newRequestID returns a short, unique request identifier.
func newRequestID() string {
	var b [12]byte
	if _, err := crand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// clientIP is the peer address, or the proxy-reported client when
// trustProxy is set. Forwarding headers are client-controlled otherwise.
func clientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (a *API) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		a.log.Info("http.req",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"remoteIP", clientIP(r, a.cfg.TrustProxy),
			"status", rec.status,
			"duration_ms", int(time.Since(start)/time.Millisecond),
			"bytes", rec.nbytes,
		)
	})
}

// corsMiddleware allows the configured origins with credentials. Preflight
// requests from other origins are refused.
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range a.cfg.Origins() {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		ok := origin != "" && (allowed[origin] || allowed["*"])
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if ok {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if !preflight {
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "forbidden", "origin not allowed")
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		} else {
			h.Set("Access-Control-Allow-Headers", "*")
		}
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	rps     float64
	buckets map[string]*rate.Limiter
}

func newIPLimiter(rps float64) *ipLimiter {
	return &ipLimiter{rps: rps, buckets: map[string]*rate.Limiter{}}
}

func (l *ipLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[key]
	if !ok {
		burst := int(l.rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(l.rps), burst)
		l.buckets[key] = lim
	}
	return lim
}

func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil || a.limiter.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		res := a.limiter.get(clientIP(r, a.cfg.TrustProxy)).Reserve()
		if d := res.Delay(); d > 0 {
			res.Cancel()
			secs := int(d/time.Second) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
