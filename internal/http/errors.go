package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"semaphore/auth-core/internal/apperrors"
)

// errorBody is the wire shape of every failure. It holds nothing request
// specific beyond the path, so equal failures produce equal bodies.
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Code    apperrors.Code    `json:"code"`
	Details map[string]string `json:"details,omitempty"`
	Path    string            `json:"path"`
}

// statusError pins a domain error to a transport status, e.g. schema
// failures to 422 rather than the 400 a domain validation error gets.
type statusError struct {
	err    *apperrors.Error
	status int
}

func (e statusError) Error() string { return e.err.Error() }

func (e statusError) Unwrap() error { return e.err }

func withStatus(err *apperrors.Error, status int) error {
	return statusError{err: err, status: status}
}

func statusFor(err *apperrors.Error) int {
	switch err.Kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var appErr *apperrors.Error
	if se, ok := err.(statusError); ok {
		appErr = se.err
		status = se.status
	} else {
		appErr = apperrors.As(err)
		status = statusFor(appErr)
	}

	body := errorBody{
		Error:   appErr.Name(),
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
		Path:    r.URL.Path,
	}
	if body.Details == nil && appErr.Field != "" {
		body.Details = map[string]string{"field": appErr.Field}
	}

	traceID := traceIDFromContext(r.Context())
	if appErr.Kind == apperrors.KindInternal {
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "trace_id", traceID)
		if s.cfg.Debug && appErr.Cause != nil {
			body.Message = appErr.Cause.Error()
		}
	} else {
		s.logger.Warn("request rejected", "code", appErr.Code, "message", appErr.Message, "path", r.URL.Path, "trace_id", traceID)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, body)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	appErr := apperrors.RateLimited("")
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:   appErr.Name(),
		Message: appErr.Message,
		Code:    appErr.Code,
		Path:    r.URL.Path,
	})
}

func notFoundRoute() *apperrors.Error {
	return apperrors.NotFound("Resource not found", "route")
}

func methodNotAllowed() error {
	return withStatus(apperrors.Validation("Method not allowed", "method"), http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
