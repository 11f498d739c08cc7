package daemon

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vshn/timevault/scheduler"
)

type runner interface {
	HasSchedule(key string) bool
	Running(key string) bool
	RunNow(ctx context.Context, key string) error
	Keys() []string
}

type scheduleStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

type server struct {
	// ctx bounds the runs started through the API.
	ctx    context.Context
	runner runner
	log    logr.Logger
}

func newRouter(ctx context.Context, r runner, gatherer prometheus.Gatherer, log logr.Logger) http.Handler {
	s := &server{ctx: ctx, runner: r, log: log.WithName("http")}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.healthz)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Route("/schedules", func(r chi.Router) {
		r.Get("/", s.listSchedules)
		r.Post("/{name}/run", s.runSchedule)
	})
	return router
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	keys := s.runner.Keys()
	statuses := make([]scheduleStatus, 0, len(keys))
	for _, key := range keys {
		statuses = append(statuses, scheduleStatus{Name: key, Running: s.runner.Running(key)})
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *server) runSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch {
	case !s.runner.HasSchedule(name):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown schedule " + name})
		return
	case s.runner.Running(name):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "schedule " + name + " is already running"})
		return
	}

	go func() {
		err := s.runner.RunNow(s.ctx, name)
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			s.log.Info("previous run is still active, skipping", "key", name)
		}
	}()
	writeJSON(w, http.StatusAccepted, scheduleStatus{Name: name, Running: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
