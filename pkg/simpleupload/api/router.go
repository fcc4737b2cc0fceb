package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig selects the handlers mounted by NewRouter. Nil handlers are
// not mounted.
type RouterConfig struct {
	Uploads *UploadHandler
	Records *RecordsHandler
	Files   *FilesHandler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// MaxRequestBytes limits request bodies; zero disables the limit.
	MaxRequestBytes int64
	Logger          *slog.Logger
}

// NewRouter assembles the HTTP surface.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestSizeLimitMiddleware(cfg.MaxRequestBytes))
		if cfg.Uploads != nil {
			r.Mount("/upload", cfg.Uploads.Routes())
		}
		if cfg.Records != nil {
			r.Mount("/records", cfg.Records.Routes())
		}
	})
	if cfg.Files != nil {
		r.Mount("/files", cfg.Files.Routes())
	}
	return r
}
