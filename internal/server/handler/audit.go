package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler reading from store.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logHandler(logger, "audit")}
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// parseTimeQuery reads an optional RFC3339 timestamp parameter.
func parseTimeQuery(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("query parameter %s must be RFC3339: %w", name, err)
	}
	return &t, nil
}

// ListAudit returns audit entries newest first.
// GET /audit?limit=50&offset=0&event=pool_created&pool_id=p1&since=...&until=...
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	opts.Event = r.URL.Query().Get("event")
	opts.PoolID = r.URL.Query().Get("pool_id")

	var err error
	if opts.Since, err = parseTimeQuery(r, "since"); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, err.Error())
		return
	}
	if opts.Until, err = parseTimeQuery(r, "until"); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, err.Error())
		return
	}

	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}
