package server

import (
	"net/http"

	"codeassist/internal/vcs"
)

func (a *API) handleURL(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodGet) {
		return
	}
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url required")
		return
	}
	page, err := a.fetch.Fetch(r.Context(), u)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type repoRequest struct {
	RepoPath    string   `json:"repoPath"`
	Message     string   `json:"message"`
	Paths       []string `json:"paths"`
	All         bool     `json:"all"`
	AuthorName  string   `json:"authorName"`
	AuthorEmail string   `json:"authorEmail"`
}

func (a *API) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req repoRequest
	if !decode(w, r, &req) {
		return
	}
	repo, err := a.openRepo(req.RepoPath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := repo.Status()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleGitCommit(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	if a.cfg.ReadOnly {
		writeError(w, http.StatusForbidden, "forbidden", "read-only mode")
		return
	}
	var req repoRequest
	if !decode(w, r, &req) {
		return
	}
	repo, err := a.openRepo(req.RepoPath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	hash, err := repo.Commit(vcs.CommitOptions{
		Message:     req.Message,
		Paths:       req.Paths,
		All:         req.All,
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("git.commit", "repo", req.RepoPath, "hash", hash)
	writeJSON(w, http.StatusOK, map[string]any{"hash": hash})
}

func (a *API) handleGitLog(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit, ok := queryLimit(r, 20)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}
	repo, err := a.openRepo(r.URL.Query().Get("repoPath"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	commits, err := repo.Log(limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (a *API) handleLogo(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	b, err := a.manifest.Logo()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(b)
}

func (a *API) handlePluginManifest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	b, err := a.manifest.PluginJSON(r.Host)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (a *API) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	b, err := a.manifest.OpenAPIJSON(r.Host)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (a *API) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	b, err := a.manifest.OpenAPIYAML(r.Host)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(b)
}
