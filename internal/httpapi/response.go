package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/rs/zerolog/log"
)

// envelopeMeta carries the response metadata every v1 response includes.
type envelopeMeta struct {
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	RequestID string `json:"requestId"`
}

// envelope is the v1 response shape: {success, message, data|error, meta}.
type envelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    any           `json:"data,omitempty"`
	Error   *envelopeErr  `json:"error,omitempty"`
	Meta    envelopeMeta  `json:"meta"`
}

type envelopeErr struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func meta(r *http.Request) envelopeMeta {
	return envelopeMeta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "v1",
		RequestID: GetRequestID(r.Context()),
	}
}

type legacyContextKey struct{}

// LegacyMiddleware marks requests under /api (as opposed to /api/v1) so
// writeData/writeMessage/writeAppErr write the flattened legacy shape.
func LegacyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), legacyContextKey{}, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isLegacy(r *http.Request) bool {
	v, _ := r.Context().Value(legacyContextKey{}).(bool)
	return v
}

// writeData writes a success response carrying data: the v1 envelope under
// /api/v1, or the bare payload under legacy /api.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	if isLegacy(r) {
		writeLegacyJSON(w, status, data)
		return
	}
	writeJSON(w, status, envelope{Success: true, Data: data, Meta: meta(r)})
}

// writeMessage writes a success response with a message but no payload.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	if isLegacy(r) {
		writeLegacyJSON(w, status, map[string]string{"message": message})
		return
	}
	writeJSON(w, status, envelope{Success: true, Message: message, Meta: meta(r)})
}

// writeAppErr maps an apperr.Error (or an opaque error) to its response
// shape and status code, logging server-side failures.
func writeAppErr(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := apperr.Status(ae.Code)
	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if isLegacy(r) {
		writeLegacyJSON(w, status, nil, ae)
		return
	}
	writeJSON(w, status, envelope{
		Success: false,
		Error:   &envelopeErr{Code: string(ae.Code), Message: ae.Message, Fields: ae.Fields},
		Meta:    meta(r),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", "v1")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeLegacyJSON writes the flattened legacy shape: data unwrapped to the
// top level on success, {error} only on failure.
func writeLegacyJSON(w http.ResponseWriter, status int, data any, errs ...*apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(errs) > 0 && errs[0] != nil {
		json.NewEncoder(w).Encode(map[string]any{"error": errs[0].Message})
		return
	}
	json.NewEncoder(w).Encode(data)
}

// parseLimit parses a limit query param with a default and a max, per the
// pagination contract every list endpoint shares.
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
