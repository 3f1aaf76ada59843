package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the status endpoint: downloads, stats, health and metrics.
func NewRouter(downloads DownloadReader, commands DownloadCommands, health HealthFunc, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	h := NewDownloadHandler(downloads, commands, health, logger)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.ListDownloads)
		r.Post("/", h.AddDownload)
		r.Post("/purge", h.PurgeCompleted)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDownload)
			r.Delete("/", h.RemoveDownload)
			r.Post("/pause", h.PauseDownload)
			r.Post("/resume", h.ResumeDownload)
		})
	})

	r.Get("/stats", h.Stats)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("status request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
