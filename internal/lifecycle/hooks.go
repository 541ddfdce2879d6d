// Package lifecycle forwards queue events to the observability surface.
// No retry or routing decisions happen here: a failed event is recorded,
// never acted on. Retries are always caller-initiated through the
// dispatcher.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"mailcourier/internal/queue"
	"mailcourier/internal/store"
	"mailcourier/internal/telemetry"
)

const auditTimeout = 2 * time.Second

// Hooks turns adapter lifecycle events into counters, log lines, and
// optional audit rows. The store may be nil.
type Hooks struct {
	log   *slog.Logger
	store *store.Store
}

func New(log *slog.Logger, st *store.Store) *Hooks {
	if log == nil {
		log = slog.Default()
	}
	return &Hooks{log: log, store: st}
}

// Bind subscribes the hooks to the queue. Call once at startup.
func (h *Hooks) Bind(q queue.Adapter) {
	q.Subscribe(h.handle)
}

func (h *Hooks) handle(ev queue.Event) {
	// A broken handler must never take down the worker loop.
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("lifecycle handler panicked", "panic", r, "job_id", ev.JobID)
		}
	}()

	switch ev.Kind {
	case queue.EventCompleted:
		telemetry.SentTotal.WithLabelValues(ev.Name).Inc()
		h.log.Info("email job completed", "job_id", ev.JobID, "category", ev.Name, "duration", ev.Duration)
	case queue.EventFailed:
		telemetry.FailedTotal.WithLabelValues(ev.Name).Inc()
		h.log.Warn("email job failed", "job_id", ev.JobID, "category", ev.Name, "error", ev.Err)
	case queue.EventStalled:
		telemetry.StalledTotal.WithLabelValues(ev.Name).Inc()
		h.log.Warn("email job stalled", "job_id", ev.JobID, "category", ev.Name)
	}

	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := h.store.RecordDelivery(ctx, store.Delivery{
		JobID:    ev.JobID,
		Category: ev.Name,
		Outcome:  ev.Kind.String(),
		Error:    ev.Err,
		Duration: ev.Duration,
	})
	if err != nil {
		h.log.Error("audit write failed", "job_id", ev.JobID, "error", err)
	}
}
