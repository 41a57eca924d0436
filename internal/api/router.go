package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/TWRT/taskboard/internal/api/handlers"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/metrics"
	"github.com/TWRT/taskboard/internal/repository"
	"github.com/TWRT/taskboard/internal/service"
)

type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	Blobs     blob.Store
	// Files serves a local blob store under /files/. Nil when blobs live in S3.
	Files   http.Handler
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func SetupRouter(db *sql.DB, opts Options) http.Handler {
	mux := http.NewServeMux()
	logger := opts.Logger

	taskRepo := repository.NewTaskRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	userRepo := repository.NewUserRepository(db)

	taskService := service.NewTaskService(taskRepo, opts.Blobs, opts.Metrics, logger)
	preferenceService := service.NewPreferenceService(preferenceRepo, logger)
	authService := service.NewAuthService(userRepo, opts.JWTSecret, opts.TokenTTL, logger)

	taskHandler := handlers.NewTaskHandler(taskService, logger)
	preferenceHandler := handlers.NewPreferenceHandler(preferenceService, logger)
	authHandler := handlers.NewAuthHandler(authService, logger)

	auth := RequireAuth(authService)
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	protected("GET /auth/me", authHandler.Me)

	protected("GET /tasks", taskHandler.ListTasks)
	protected("POST /tasks", taskHandler.CreateTask)
	protected("POST /tasks/bulk-update", taskHandler.BulkUpdate)
	protected("POST /tasks/bulk-delete", taskHandler.BulkDelete)
	protected("GET /tasks/{id}", taskHandler.GetTask)
	protected("PATCH /tasks/{id}", taskHandler.UpdateTask)
	protected("DELETE /tasks/{id}", taskHandler.DeleteTask)
	protected("GET /board", taskHandler.Board)

	protected("GET /preferences", preferenceHandler.GetPreferences)
	protected("PUT /preferences/theme", preferenceHandler.SetTheme)
	protected("PUT /preferences/view", preferenceHandler.SetView)

	if opts.Files != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files", opts.Files))
	}
	mux.Handle("GET /metrics", opts.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			handlers.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return Chain(mux,
		WithRequestID,
		WithRecover(logger),
		WithAccessLog(logger),
		WithMetrics(opts.Metrics),
	)
}
