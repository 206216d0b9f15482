package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"codeassist/internal/files"
	"codeassist/internal/vcs"
	"codeassist/internal/webtext"
)

const maxBodyBytes = 10 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}

// decode reads a JSON body into v; unknown enum values (actions, modes) fail
// here, before any file is touched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return false
	}
	return true
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{files.ErrNotAbsolute, http.StatusBadRequest, "bad_request"},
	{files.ErrNotFound, http.StatusNotFound, "not_found"},
	{files.ErrNotFile, http.StatusBadRequest, "not_a_file"},
	{files.ErrInvalidEdit, http.StatusBadRequest, "invalid_request"},
	{files.ErrPatchNotFound, http.StatusNotFound, "not_found"},
	{files.ErrAlreadyRolledBack, http.StatusConflict, "conflict"},
	{files.ErrConflict, http.StatusConflict, "conflict"},
	{files.ErrReadOnly, http.StatusForbidden, "forbidden"},
	{files.ErrUnsupported, http.StatusNotImplemented, "unsupported"},
	{files.ErrFormatFailed, http.StatusUnprocessableEntity, "format_failed"},
	{files.ErrParse, http.StatusUnprocessableEntity, "parse_failed"},
	{webtext.ErrBadURL, http.StatusBadRequest, "bad_request"},
	{webtext.ErrUpstream, http.StatusBadGateway, "upstream_error"},
	{vcs.ErrNotAbsolute, http.StatusBadRequest, "bad_request"},
	{vcs.ErrNotRepository, http.StatusBadRequest, "not_a_repository"},
	{vcs.ErrEmptyMessage, http.StatusBadRequest, "invalid_request"},
	{vcs.ErrNothingToCommit, http.StatusConflict, "nothing_to_commit"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// fail maps err onto a status. Anything unknown is logged and reported as
// a 500.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error())
			return
		}
	}
	a.log.Error("http.error", "path", r.URL.Path, "err", err.Error())
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
