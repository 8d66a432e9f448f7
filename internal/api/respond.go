package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// errorResponse is the error envelope every failing endpoint returns.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON encodes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Too late to change the status code, so just log.
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error body with the given status and detail.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// internalError logs err and answers with the generic 500 body.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt parses an integer query parameter, clamping into [lo, hi].
// Missing or malformed values fall back to def.
func queryInt(r *http.Request, name string, def, lo, hi int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}

// queryBoolPtr parses an optional boolean query parameter, returning nil
// when it is absent or unparseable.
func queryBoolPtr(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
