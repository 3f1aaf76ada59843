package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

// DownloadReader is the read side of the registry.
type DownloadReader interface {
	Snapshot() []domain.Download
	Tab(tab domain.Tab) []domain.Download
	Get(id string) (domain.Download, bool)
}

// DownloadCommands is the command side consumed by the endpoint.
type DownloadCommands interface {
	Add(ctx context.Context, source string) ([]string, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, deleteFiles bool) error
	PurgeCompleted(ctx context.Context) (int, error)
}

// HealthFunc reports the current daemon state.
type HealthFunc func() domain.HealthResponse

// DownloadHandler serves the local status endpoint.
type DownloadHandler struct {
	downloads DownloadReader
	commands  DownloadCommands
	health    HealthFunc
	validator *validator.Validate
	logger    *slog.Logger
}

func NewDownloadHandler(downloads DownloadReader, commands DownloadCommands, health HealthFunc, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		commands:  commands,
		health:    health,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health. A disconnected daemon yields 503.
func (h *DownloadHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.health()
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ListDownloads handles GET /downloads with an optional ?tab= filter.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	var list []domain.Download
	if name := r.URL.Query().Get("tab"); name != "" {
		tab, ok := domain.ParseTab(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown tab "+strconv.Quote(name))
			return
		}
		list = h.downloads.Tab(tab)
	} else {
		list = h.downloads.Snapshot()
	}

	out := make([]domain.DownloadResponse, 0, len(list))
	for _, d := range list {
		out = append(out, domain.NewDownloadResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDownload handles GET /downloads/{id}.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := h.downloads.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, domain.NewDownloadResponse(d))
}

func (h *DownloadHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.Summarize(h.downloads.Snapshot()))
}

// AddDownload handles POST /downloads.
func (h *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	var req domain.AddDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	gids, err := h.commands.Add(r.Context(), req.Source)
	if err != nil {
		h.fail(w, "add", "", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ids": gids,
	})
}

func (h *DownloadHandler) PauseDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.commands.Pause(r.Context(), id); err != nil {
		h.fail(w, "pause", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.commands.Resume(r.Context(), id); err != nil {
		h.fail(w, "resume", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveDownload handles DELETE /downloads/{id}[?delete_files=true].
func (h *DownloadHandler) RemoveDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleteFiles := false
	if raw := r.URL.Query().Get("delete_files"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "delete_files must be a boolean")
			return
		}
		deleteFiles = v
	}

	if err := h.commands.Remove(r.Context(), id, deleteFiles); err != nil {
		h.fail(w, "remove", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) PurgeCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.commands.PurgeCompleted(r.Context())
	if err != nil {
		h.logger.Warn("purge incomplete", "purged", n, "error", err)
		writeJSON(w, statusFor(err), map[string]any{
			"purged": n,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

func (h *DownloadHandler) fail(w http.ResponseWriter, command, id string, err error) {
	h.logger.Warn("command rejected",
		"command", command,
		"gid", id,
		"error", err,
	)
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errpkg.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrDownloadNotFound):
		return http.StatusNotFound
	case errors.Is(err, errpkg.ErrDisconnected),
		errors.Is(err, errpkg.ErrUnreachable),
		errors.Is(err, errpkg.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errpkg.IsRemote(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errpkg.ErrProtocol):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
