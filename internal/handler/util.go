package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/middleware"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// SessionHeader carries the caller's session key.
const SessionHeader = "X-Session-ID"

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the JSON error body for err. Unexpected errors are
// logged and reported without internals.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	data := apperr.Describe(err)
	if data.Code >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.String("type", data.Type),
			zap.Error(err),
		)
	}
	writeJSON(w, data.Code, model.ErrorResponse{Error: data.Message, Details: data.Details})
}

// decodeJSON decodes the request body into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &apperr.PayloadTooLarge{Limit: tooLarge.Limit}
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		default:
			return apperr.Validation("invalid request body: %v", err)
		}
	}
	return middleware.ValidateStruct(v)
}

// defaultSessionName names an authenticated caller's session when the
// request does not pick one.
const defaultSessionName = "default"

// sessionKey picks the caller's session key (body, then header) and scopes it
// to the authenticated subject.
func sessionKey(r *http.Request, fromBody string) (string, error) {
	key := fromBody
	if key == "" {
		key = r.Header.Get(SessionHeader)
	}
	if key != "" {
		if err := middleware.ValidateSessionID(key); err != nil {
			return "", err
		}
	}
	return scopeSessionKey(r, key), nil
}

// scopeSessionKey prefixes key with the JWT subject so that one caller can
// never address another caller's session. Anonymous keys pass through.
func scopeSessionKey(r *http.Request, key string) string {
	subject := middleware.GetSubject(r.Context())
	if subject == "" {
		return key
	}
	if key == "" {
		key = defaultSessionName
	}
	return subject + ":" + key
}

// callerSessionKey strips the subject prefix added by scopeSessionKey.
func callerSessionKey(r *http.Request, key string) string {
	subject := middleware.GetSubject(r.Context())
	if subject == "" {
		return key
	}
	return strings.TrimPrefix(key, subject+":")
}
