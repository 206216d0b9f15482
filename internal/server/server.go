package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"codeassist/internal/config"
	"codeassist/internal/files"
	mylog "codeassist/internal/log"
	"codeassist/internal/manifest"
	"codeassist/internal/mcptools"
	"codeassist/internal/store"
	"codeassist/internal/vcs"
	"codeassist/internal/version"
	"codeassist/internal/webtext"
)

// Fetcher turns a URL into readable page text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*webtext.Page, error)
}

type API struct {
	cfg      config.Config
	files    *files.Service
	fetch    Fetcher
	manifest *manifest.Manifest
	log      *mylog.Logger
	limiter  *ipLimiter
	openRepo func(path string) (*vcs.Repo, error)
}

func NewAPI(cfg config.Config, fs *files.Service, f Fetcher, l *mylog.Logger) *API {
	if l == nil {
		l = mylog.New()
	}
	if f == nil {
		f = webtext.New(cfg.FetchTimeout, cfg.MaxFetchBytes)
	}
	return &API{
		cfg:   cfg,
		files: fs,
		fetch: f,
		manifest: manifest.New(manifest.Options{
			ManifestPath: cfg.ManifestPath,
			OpenAPIPath:  cfg.OpenAPIPath,
			LogoPath:     cfg.LogoPath,
			Scheme:       cfg.PublicScheme,
			BearerAuth:   cfg.APIToken != "",
		}),
		log:      l,
		limiter:  newIPLimiter(cfg.RateLimitRPS),
		openRepo: vcs.Open,
	}
}

func (a *API) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", a.handleHello)
	mux.HandleFunc("/hello", a.handleHello)
	mux.HandleFunc("/url", a.handleURL)
	mux.HandleFunc("/file", a.handleFile)
	mux.HandleFunc("/create-file", a.handleCreateFile)
	mux.HandleFunc("/update-file", a.handleUpdateFile)
	mux.HandleFunc("/update-file/match", a.handleUpdateFileMatch)
	mux.HandleFunc("/rollback", a.handleRollback)
	mux.HandleFunc("/patches", a.handlePatches)
	mux.HandleFunc("/analyze-code", a.handleAnalyze)
	mux.HandleFunc("/refactor-code", a.handleRefactor)
	mux.HandleFunc("/outline", a.handleOutline)
	// the same tools over MCP streamable HTTP
	mux.Handle("/mcp", a.requireAuth(mcpserver.NewStreamableHTTPServer(mcptools.New(a.files, a.fetch).Server())))
	// version control
	mux.HandleFunc("/git/status", a.handleGitStatus)
	mux.HandleFunc("/git/commit", a.handleGitCommit)
	mux.HandleFunc("/git/log", a.handleGitLog)
	// plugin surface, always public
	mux.HandleFunc("/logo.png", a.handleLogo)
	mux.HandleFunc("/.well-known/ai-plugin.json", a.handlePluginManifest)
	mux.HandleFunc("/openapi.json", a.handleOpenAPIJSON)
	mux.HandleFunc("/openapi.yaml", a.handleOpenAPIYAML)
	return mux
}

// Handler is the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	return a.logMiddleware(a.corsMiddleware(a.rateLimitMiddleware(a.mux())))
}

// Run serves the API on addr until SIGINT/SIGTERM or ctx is done.
func Run(ctx context.Context, addr string, cfg config.Config, lg *mylog.Logger) error {
	repo, err := store.Open(cfg.SQLitePath)
	if err != nil {
		lg.Warn("store.sqlite", "status", "fallback_memory", "err", err.Error())
		repo = store.New()
	}
	defer repo.Close()

	api := NewAPI(cfg, files.New(repo, files.OptionsFromConfig(cfg), lg), nil, lg)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	lg.Info("server.start", "addr", addr, "version", version.Version, "readOnly", cfg.ReadOnly)

	// graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	shutdown := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
	select {
	case sig := <-sigc:
		lg.Info("server.stop", "signal", sig.String())
		return shutdown()
	case <-ctx.Done():
		return shutdown()
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	}
}
