package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/poolregistry/internal/domain"
	"github.com/alanyoungcy/poolregistry/internal/snapshot"
)

// SnapshotHandler lists and fetches archived registry snapshots.
type SnapshotHandler struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler confined to prefix. An empty
// prefix resolves to the archiver's default.
func NewSnapshotHandler(reader domain.BlobReader, prefix string, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		reader: reader,
		prefix: snapshot.ResolvePrefix(prefix),
		logger: logHandler(logger, "snapshot"),
	}
}

// scoped joins a client-supplied key under the configured prefix and rejects
// anything that would escape it.
func (h *SnapshotHandler) scoped(key string) (string, bool) {
	key = strings.TrimPrefix(key, "/")
	if strings.Contains(key, "..") {
		return "", false
	}
	if key == "" {
		return h.prefix + "/", true
	}
	if strings.HasPrefix(key, h.prefix+"/") {
		return key, true
	}
	return path.Join(h.prefix, key), true
}

type listSnapshotsResponse struct {
	Snapshots []domain.BlobInfo `json:"snapshots"`
}

// ListSnapshots lists archived snapshots, optionally narrowed by a date
// prefix such as 2026/01.
// GET /snapshots?prefix=2026/01
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	prefix, ok := h.scoped(r.URL.Query().Get("prefix"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, "invalid prefix")
		return
	}

	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list snapshots failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, codeUnavailable, "failed to list snapshots")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, listSnapshotsResponse{Snapshots: infos})
}

// GetSnapshot streams one snapshot object.
// GET /snapshots/{key...}
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := h.scoped(pathParam(r, "key"))
	if !ok || strings.HasSuffix(key, "/") {
		writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, "invalid snapshot key")
		return
	}

	body, err := h.reader.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "snapshot '"+key+"' not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get snapshot failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, codeUnavailable, "failed to fetch snapshot")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: snapshot stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
