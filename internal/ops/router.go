package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"annexbot/internal/infra"
)

// UserCounter reports the total registered accounts.
type UserCounter interface {
	CountUsers(ctx context.Context) (int64, error)
}

// JobCounter reports how many generations are currently in flight.
type JobCounter interface {
	ActiveJobs() int
}

type statsResponse struct {
	Status     string `json:"status"`
	Users      int64  `json:"users"`
	ActiveJobs int    `json:"active_jobs"`
	Uptime     string `json:"uptime"`
}

// NewRouter builds the ops endpoint: liveness plus a small stats snapshot.
func NewRouter(users UserCounter, jobs JobCounter, log infra.Logger) http.Handler {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/statsz", func(w http.ResponseWriter, req *http.Request) {
		total, err := users.CountUsers(req.Context())
		if err != nil {
			log.Error().Err(err).Msg("count users")
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsResponse{
			Status:     "ok",
			Users:      total,
			ActiveJobs: jobs.ActiveJobs(),
			Uptime:     time.Since(started).Round(time.Second).String(),
		})
	})

	return r
}
