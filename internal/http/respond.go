package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/domain"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

var errTrailingData = errors.New("request body must contain a single JSON object")

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.WithError(err).Error("failed to encode response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// respondDecodeError reports a body that could not be decoded. Malformed
// input is a validation failure and never reaches a service.
func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var (
		syntaxError *json.SyntaxError
		typeError   *json.UnmarshalTypeError
		maxBytes    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("Invalid value for field %s", typeError.Field),
			Details: map[string]string{typeError.Field: "has the wrong type"},
		})
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body cannot be empty")
	case errors.As(err, &maxBytes):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		s.respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Unknown field " + field,
			Details: map[string]string{field: "is not allowed"},
		})
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// respondServiceError maps the domain error taxonomy onto HTTP. Anything
// unclassified is logged in full and reported as a generic 500.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Request validation failed",
			Details: ve.Fields,
		})
	case errors.Is(err, domain.ErrDuplicateEmail):
		s.respondError(w, http.StatusBadRequest, "DUPLICATE_EMAIL", "Email already registered")
	case errors.Is(err, domain.ErrInvalidCredentials):
		s.respondError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, domain.ErrUnauthorized):
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
	case errors.Is(err, domain.ErrForbiddenRole):
		s.respondError(w, http.StatusForbidden, "FORBIDDEN_ROLE", "Access denied for this role")
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, domain.ErrTransientStorage):
		s.requestLogger(r).WithError(err).Warn("transient storage failure")
		s.respondError(w, http.StatusInternalServerError, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable, retry later")
	default:
		s.requestLogger(r).WithError(err).Error("request failed")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// requestLogger scopes the server logger to the request id and, when
// authenticated, the caller.
func (s *Server) requestLogger(r *http.Request) logrus.FieldLogger {
	fields := logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		fields["user_id"] = p.UserID
		fields["role"] = p.Role
	}
	return s.logger.WithFields(fields)
}
