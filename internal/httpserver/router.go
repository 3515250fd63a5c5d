package httpserver

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/handlers"
	"github.com/tmcclell/CodeCounselor/internal/metrics"
	"github.com/tmcclell/CodeCounselor/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	chatHandler *handlers.ChatHandler,
	healthHandler *handlers.HealthHandler,
	debugHandler *handlers.DebugHandler,
	staticDir string,
) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())             // panic recovery
	r.Use(middleware.MaxBodySize(512 * 1024)) // 512 KB max body

	// Streaming endpoints carry their own duration bound inside the
	// completion client, so no timeout middleware here.
	r.Post("/chat", chatHandler.Chat)
	r.Post("/test-simple", chatHandler.SelfTest)

	// quick JSON endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/health", healthHandler.Health)
		r.Get("/debug", debugHandler.Debug)
	})

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":       "Welcome to CodeCounselor - Your AI Code Therapist",
			"chat_endpoint": "/chat",
		})
	})

	r.Handle("/metrics", metrics.Handler())

	if staticDir != "" {
		if _, err := os.Stat(staticDir); err == nil {
			fs := http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))
			r.Handle("/static/*", fs)
		} else {
			baseLogger.Warn("static directory not found, skipping static file serving",
				zap.String("dir", staticDir),
			)
		}
	}
}
