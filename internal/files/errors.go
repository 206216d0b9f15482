package files

import "errors"

var (
	ErrNotAbsolute       = errors.New("path must be absolute")
	ErrNotFound          = errors.New("file not found")
	ErrNotFile           = errors.New("not a regular file")
	ErrPatchNotFound     = errors.New("patch not found")
	ErrAlreadyRolledBack = errors.New("patch already rolled back")
	ErrUnsupported       = errors.New("operation not supported")
	ErrReadOnly          = errors.New("read-only mode")
	ErrConflict          = errors.New("file changed since patch was applied")
	ErrInvalidEdit       = errors.New("invalid edit")
	ErrFormatFailed      = errors.New("format failed")
	ErrParse             = errors.New("cannot parse source")
)
