// Package api exposes the gateway over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
)

// Error codes carried in ErrorResponse.ErrorCode.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAuthentication  = "AUTHENTICATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeEngineUnavail   = "ENGINE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
)

const (
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json; charset=utf-8"
	msgInternal         = "internal server error"
	headerAuthorization = "Authorization"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// Headers are gone; an encode failure can only be dropped.
	_ = json.NewEncoder(w).Encode(data)
}

// classify maps an error onto a status and code. Unknown errors are 500.
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, core.ErrAuth):
		return http.StatusUnauthorized, CodeAuthentication
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, CodeEngineUnavail
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, CodePayloadTooLarge
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteError maps err to a status and writes an ErrorResponse. Server-side
// failures are logged in full and reported to the client generically.
func WriteError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	status, code := classify(err)

	detail := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("%s %s failed (request_id=%s): %v", r.Method, r.URL.Path, RequestIDFromContext(r.Context()), err)

		detail = msgInternal
	}

	WriteJSON(w, status, ErrorResponse{Detail: detail, ErrorCode: code})
}
