package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mailcourier/internal/dispatch"
	"mailcourier/internal/health"
	"mailcourier/internal/models"
	"mailcourier/internal/ratelimit"
	"mailcourier/internal/store"
	"mailcourier/internal/telemetry"
)

// Server exposes the dispatch library to controllers, schedulers, and
// admin tooling. All policy lives in the dispatch package; handlers only
// translate HTTP.
type Server struct {
	dispatcher *dispatch.Dispatcher
	reporter   *health.Reporter
	// store and throttle are optional; nil disables the feature.
	store    *store.Store
	throttle *ratelimit.Throttle
	log      *slog.Logger
}

func New(d *dispatch.Dispatcher, r *health.Reporter, st *store.Store, throttle *ratelimit.Throttle, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{dispatcher: d, reporter: r, store: st, throttle: throttle, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/emails", s.handleImmediate)
	r.Post("/emails/scheduled", s.handleScheduled)
	r.Post("/emails/{id}/retry", s.handleRetry)
	r.Post("/campaigns", s.handleCampaign)

	r.Get("/health", s.handleHealth)
	r.Post("/queue/pause", s.handlePause)
	r.Post("/queue/resume", s.handleResume)
	r.Post("/queue/cleanup", s.handleCleanup)
	r.Get("/deliveries", s.handleDeliveries)
	return r
}

type immediateRequest struct {
	Recipients []string       `json:"recipients"`
	Template   string         `json:"template"`
	Data       map[string]any `json:"data"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) handleImmediate(w http.ResponseWriter, r *http.Request) {
	var req immediateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	job, err := s.dispatcher.SubmitImmediate(r.Context(), req.Recipients, req.Template, req.Data, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.EnqueuedTotal.WithLabelValues(models.CategoryImmediate).Inc()
	writeJSON(w, http.StatusAccepted, job)
}

type scheduledRequest struct {
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data"`
	DelayMs   *int64         `json:"delay_ms"`
	At        *time.Time     `json:"at"`
	Cron      string         `json:"cron"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	var req scheduledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	spec := dispatch.ScheduleSpec{At: req.At, Cron: req.Cron}
	if req.DelayMs != nil {
		d := time.Duration(*req.DelayMs) * time.Millisecond
		spec.Delay = &d
	}
	job, err := s.dispatcher.SubmitScheduled(r.Context(), req.Recipient, req.Template, req.Data, spec, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	telemetry.EnqueuedTotal.WithLabelValues(models.CategoryScheduled).Inc()
	writeJSON(w, http.StatusAccepted, job)
}

type campaignRequest struct {
	Recipients    []string                  `json:"recipients"`
	Template      string                    `json:"template"`
	RecipientData map[string]map[string]any `json:"recipient_data"`
	Metadata      map[string]any            `json:"metadata"`
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	if s.throttle != nil {
		allowed, _, err := s.throttle.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			http.Error(w, "throttle error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.ThrottleRejects.Inc()
			http.Error(w, "campaign rate limited", http.StatusTooManyRequests)
			return
		}
	}
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	jobs, err := s.dispatcher.SubmitBulkCampaign(r.Context(), req.Recipients, req.Template, req.RecipientData, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for range jobs {
		telemetry.EnqueuedTotal.WithLabelValues(models.CategoryBulk).Inc()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"batches": len(jobs), "jobs": jobs})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.dispatcher.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		http.Error(w, "job not found among failed jobs", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Snapshot(r.Context()))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.PauseQueue(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.ResumeQueue(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.CleanupOldJobs(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit log not configured", http.StatusNotFound)
		return
	}
	deliveries, err := s.store.RecentDeliveries(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read deliveries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrQueueUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
