package health

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mailcourier/internal/models"
	"mailcourier/internal/queue"
)

var categories = []string{
	models.CategoryImmediate,
	models.CategoryScheduled,
	models.CategoryBulk,
	models.CategoryDeadLetter,
}

// Reporter aggregates queue and broker state into a HealthSnapshot. All
// reads are best-effort: a failing sub-query zero-fills its block and the
// snapshot always comes back fully shaped.
type Reporter struct {
	q     queue.Adapter
	probe queue.Prober
	log   *slog.Logger
}

func NewReporter(q queue.Adapter, probe queue.Prober, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{q: q, probe: probe, log: log}
}

// Snapshot recomputes the whole aggregate. It never returns an error:
// connectivity problems show up as connected=false and zero counters.
func (r *Reporter) Snapshot(ctx context.Context) *models.HealthSnapshot {
	snap := &models.HealthSnapshot{TakenAt: time.Now()}

	if resp, err := r.probe.Ping(ctx); err == nil && resp == "PONG" {
		snap.Redis.Connected = true
	}
	if info, err := r.probe.Info(ctx); err == nil {
		snap.Redis.UsedMemoryBytes = infoInt(info, "used_memory")
		snap.Redis.UptimeSeconds = infoInt(info, "uptime_in_seconds")
	}

	for _, name := range categories {
		stats, err := r.categoryStats(ctx, name)
		if err != nil {
			r.log.Warn("health category query failed", "category", name, "error", err)
			stats = models.CategoryStats{LastProcessed: time.Now()}
		}
		if block := snap.Category(name); block != nil {
			*block = stats
		}
	}

	snap.Workers = r.workerRollup(ctx)
	return snap
}

// categoryStats queries the state sets independently per category so one
// category's failure cannot poison another's counters.
func (r *Reporter) categoryStats(ctx context.Context, name string) (models.CategoryStats, error) {
	waiting, err := r.q.ListByState(ctx, queue.StateWaiting)
	if err != nil {
		return models.CategoryStats{}, err
	}
	completed, err := r.q.ListByState(ctx, queue.StateCompleted)
	if err != nil {
		return models.CategoryStats{}, err
	}
	failed, err := r.q.ListByState(ctx, queue.StateFailed)
	if err != nil {
		return models.CategoryStats{}, err
	}

	stats := models.CategoryStats{}
	for _, j := range waiting {
		if j.Name == name {
			stats.QueueDepth++
		}
	}

	var totalProcessing time.Duration
	var lastProcessed time.Time
	for _, j := range completed {
		if j.Name != name {
			continue
		}
		stats.Sent++
		if j.AttemptsMade > 1 {
			stats.Retried++
		}
		if !j.ProcessedOn.IsZero() && j.FinishedOn.After(j.ProcessedOn) {
			totalProcessing += j.FinishedOn.Sub(j.ProcessedOn)
		}
		if j.FinishedOn.After(lastProcessed) {
			lastProcessed = j.FinishedOn
		}
	}
	for _, j := range failed {
		if j.Name != name {
			continue
		}
		stats.Failed++
		if j.AttemptsMade > 1 {
			stats.Retried++
		}
	}

	if stats.Sent > 0 {
		stats.AvgProcessingTimeMs = float64(totalProcessing.Milliseconds()) / float64(stats.Sent)
	}
	if lastProcessed.IsZero() {
		// Soft default so the snapshot shape stays uniform for consumers
		// that chart this field.
		lastProcessed = time.Now()
	}
	stats.LastProcessed = lastProcessed
	return stats, nil
}

// workerRollup counts jobs per state across every category. Failed
// queries leave the corresponding counter at zero.
func (r *Reporter) workerRollup(ctx context.Context) models.WorkerStats {
	var stats models.WorkerStats
	if jobs, err := r.q.ListByState(ctx, queue.StateActive); err == nil {
		stats.Active = len(jobs)
	}
	if jobs, err := r.q.ListByState(ctx, queue.StateWaiting); err == nil {
		stats.Waiting = len(jobs)
	}
	if jobs, err := r.q.ListByState(ctx, queue.StateCompleted); err == nil {
		stats.Completed = len(jobs)
	}
	if jobs, err := r.q.ListByState(ctx, queue.StateFailed); err == nil {
		stats.Failed = len(jobs)
	}
	return stats
}

// infoInt pulls a numeric field out of Redis INFO key:value text,
// returning 0 when the field is missing or malformed.
func infoInt(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok || key != field {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
