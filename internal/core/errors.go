package core

import "errors"

// Sentinel errors shared across layers. Callers wrap them with %w and the
// HTTP layer maps them to status codes with errors.Is.
var (
	// ErrValidation indicates bad input shape or an out-of-range parameter.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a missing voice or audio file.
	ErrNotFound = errors.New("not found")
	// ErrAuth indicates a missing, invalid, or expired credential.
	ErrAuth = errors.New("authentication failed")
	// ErrEngineUnavailable indicates the synthesis engine is not ready yet.
	ErrEngineUnavailable = errors.New("TTS engine not initialized")
	// ErrWrite indicates an artifact could not be written to disk.
	ErrWrite = errors.New("failed to write audio file")
	// ErrAlreadyExists indicates an identifier collision.
	ErrAlreadyExists = errors.New("already exists")
)
