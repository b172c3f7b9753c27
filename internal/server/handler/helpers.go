package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// Error codes carried in the "error" field of every error body.
const (
	codeNotFound          = "not_found"
	codeAlreadyExists     = "already_exists"
	codeInactivePool      = "inactive_pool"
	codeInvalidCollateral = "invalid_collateral"
	codeUnprocessable     = "unprocessable"
	codeInternal          = "internal"
	codeUnavailable       = "unavailable"
)

// maxBodyBytes caps request bodies; a collateral line item is tiny.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal","detail":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON error body {"error": code, "detail": detail}.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// writeServiceError maps a service failure onto its HTTP status. Unknown
// errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, clientMessage(err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, codeAlreadyExists
	case errors.Is(err, domain.ErrInactivePool):
		return http.StatusBadRequest, codeInactivePool
	case errors.Is(err, domain.ErrInvalidCollateral):
		return http.StatusBadRequest, codeInvalidCollateral
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// clientMessage strips service-layer wrapping so clients see the registry's
// own message, e.g. "Pool 'p1' not found".
func clientMessage(err error) string {
	var pe *domain.PoolError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}

// decodeJSON decodes a single JSON object into dst, rejecting unknown fields
// and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: unexpected data after JSON object")
	}
	return nil
}

// parseBool accepts the boolean spellings HTTP clients commonly send.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "t", "y":
		return true, nil
	case "false", "0", "no", "off", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a valid boolean", s)
}

// boolQuery reads a boolean query parameter. A missing parameter yields def,
// or an error when required is set.
func boolQuery(r *http.Request, name string, def bool, required bool) (bool, error) {
	q := r.URL.Query()
	if !q.Has(name) {
		if required {
			return false, fmt.Errorf("query parameter %s is required", name)
		}
		return def, nil
	}
	v, err := parseBool(q.Get(name))
	if err != nil {
		return false, fmt.Errorf("query parameter %s: %w", name, err)
	}
	return v, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter using Go 1.22+ routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler tags a logger with the handler name.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("handler", handler))
}
