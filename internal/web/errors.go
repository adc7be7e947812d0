package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, status), or respondServiceError to pick
//     the status from the error kind
//  3. Error is mapped via core.MapError to get the user-facing message
//  4. Technical error + context is logged with request ID for correlation
//  5. The coded message is returned as JSON

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/movimentacao/internal/core"
	"github.com/JonMunkholm/movimentacao/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errBadRequest  = errors.New("invalid request body")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	// Details carries the technical error for validation failures the
	// client can act on (e.g. which row failed to convert).
	Details string `json:"details,omitempty"`
}

// respondError logs the technical error server-side and writes the coded
// user message.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	userMsg := core.MapError(err)

	level := logging.FromContext(r.Context()).Warn
	if status >= http.StatusInternalServerError {
		level = logging.FromContext(r.Context()).Error
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	if status < http.StatusInternalServerError && core.IsUserFacing(err) {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// respondServiceError picks the status code from the error kind.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, statusFor(err))
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation *core.ValidationError
		format     *core.ImportFormatError
		transform  *core.ImportTransformError
		stale      *core.PersistenceStaleError
	)
	switch {
	case errors.Is(err, core.ErrWorkspaceNotFound),
		errors.Is(err, core.ErrNoImportSession),
		errors.Is(err, core.ErrNothingStaged):
		return http.StatusNotFound
	case errors.Is(err, core.ErrImportInFlight):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports), errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &format):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &stale):
		return http.StatusGone
	case errors.As(err, &validation), errors.As(err, &transform),
		errors.Is(err, core.ErrNoFile), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the client address without port. TrustedRealIP has
// already replaced RemoteAddr for requests from trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
