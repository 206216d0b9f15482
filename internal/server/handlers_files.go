package server

import (
	"net/http"
	"strconv"

	"codeassist/internal/files"
	"codeassist/internal/patch"
)

const greeting = "hello, welcome to the Code Assistant plugin!"

func (a *API) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/hello" {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, greeting)
}

func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodGet) {
		return
	}
	fp := r.URL.Query().Get("filepath")
	if fp == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "filepath required")
		return
	}
	content, err := a.files.Read(fp)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (a *API) handleOutline(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodGet) {
		return
	}
	fp := r.URL.Query().Get("filepath")
	if fp == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "filepath required")
		return
	}
	syms, err := a.files.Outline(fp)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filepath": fp, "symbols": syms})
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	PatchID string `json:"patchID,omitempty"`
}

func (a *API) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Filepath string  `json:"filepath"`
		Content  *string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Filepath == "" || req.Content == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "filepath and content required")
		return
	}
	p, err := a.files.Create(r.Context(), req.Filepath, *req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "success", Message: "File created successfully.", PatchID: p.ID})
}

type updateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	*files.UpdateResult
}

func updated(res *files.UpdateResult) updateResponse {
	msg := "File updated successfully."
	switch {
	case res.DryRun:
		msg = "Dry run, nothing written."
	case !res.Changed:
		msg = "No changes."
	}
	return updateResponse{Status: "success", Message: msg, UpdateResult: res}
}

func (a *API) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Filepath string           `json:"filepath"`
		Updates  []patch.LineEdit `json:"updates"`
		DryRun   bool             `json:"dryRun"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Filepath == "" || req.Updates == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "filepath and updates required")
		return
	}
	res, err := a.files.UpdateLines(r.Context(), req.Filepath, req.Updates, req.DryRun)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated(res))
}

func (a *API) handleUpdateFileMatch(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Filepath string              `json:"filepath"`
		Mode     patch.Mode          `json:"mode"`
		MinScore *int                `json:"minScore"`
		Updates  []patch.ContentEdit `json:"updates"`
		DryRun   bool                `json:"dryRun"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Filepath == "" || req.Updates == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "filepath and updates required")
		return
	}
	minScore := files.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	if req.MinScore != nil && (minScore < 0 || minScore > 100) {
		writeError(w, http.StatusBadRequest, "invalid_request", "minScore must be within 0..100")
		return
	}
	res, err := a.files.UpdateMatch(r.Context(), req.Filepath, req.Updates, req.Mode, minScore, req.DryRun)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated(res))
}

func (a *API) handleRollback(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		PatchID string `json:"patchID"`
		Force   bool   `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.PatchID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patchID required")
		return
	}
	rb, err := a.files.Rollback(r.Context(), req.PatchID, req.Force)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Patch " + req.PatchID + " rolled back.", PatchID: rb.ID})
}

// queryLimit parses ?limit=, returning def when absent.
func queryLimit(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (a *API) handlePatches(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit, ok := queryLimit(r, 50)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}
	list, err := a.files.History(r.URL.Query().Get("filepath"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patches": list})
}

type pathRequest struct {
	Filepath string `json:"filepath"`
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.files.Analyze(r.Context(), req.Filepath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRefactor(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) || !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.files.Format(r.Context(), req.Filepath)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := updated(res)
	if res.Changed {
		resp.Message = "Code refactored successfully."
	}
	writeJSON(w, http.StatusOK, resp)
}
