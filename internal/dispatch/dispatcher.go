package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"mailcourier/internal/models"
	"mailcourier/internal/queue"
)

// Per-category policy constants. These are the contract with downstream
// consumers; changing them changes retry and pacing behavior fleet-wide.
const (
	immediateAttempts     = 3
	immediateBackoffDelay = 2000 * time.Millisecond
	scheduledAttempts     = 5
	bulkAttempts          = 3

	retryBackoffDelay    = 10000 * time.Millisecond
	retryDelayPerAttempt = time.Minute

	keepCompleted = 100
	keepFailed    = 50

	// DefaultBatchSize and DefaultBatchStagger govern bulk splitting.
	DefaultBatchSize    = 50
	DefaultBatchStagger = 50 * time.Second

	// DefaultRetention is how long finished job records survive before
	// CleanupOldJobs purges them.
	DefaultRetention = 24 * time.Hour
)

// Config tunes the dispatcher. Zero values fall back to the defaults
// above.
type Config struct {
	BatchSize    int
	BatchStagger time.Duration
	Retention    time.Duration
}

// Dispatcher classifies email intents, computes per-category priority and
// retry policy, and hands jobs to the queue adapter. It holds no state of
// its own beyond configuration and is safe for concurrent use.
type Dispatcher struct {
	q         queue.Adapter
	validate  *validator.Validate
	log       *slog.Logger
	batchSize int
	stagger   time.Duration
	retention time.Duration
}

// New wires a dispatcher onto a queue adapter.
func New(q queue.Adapter, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchStagger <= 0 {
		cfg.BatchStagger = DefaultBatchStagger
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		q:         q,
		validate:  validator.New(),
		log:       log,
		batchSize: cfg.BatchSize,
		stagger:   cfg.BatchStagger,
		retention: cfg.Retention,
	}
}

// SubmitImmediate enqueues a transactional email at critical priority:
// 3 attempts with 2s exponential backoff.
func (d *Dispatcher) SubmitImmediate(ctx context.Context, recipients []string, template string, data, metadata map[string]any) (*queue.Job, error) {
	if err := d.checkRecipients(recipients); err != nil {
		return nil, err
	}
	payload := models.EmailPayload{
		Recipients: recipients,
		Template:   template,
		Data:       data,
		Metadata:   metadata,
		Priority:   models.PriorityCritical,
	}
	job, err := d.q.Enqueue(ctx, models.CategoryImmediate, payload, queue.Options{
		Priority:         models.PriorityCritical,
		Attempts:         immediateAttempts,
		Backoff:          &queue.Backoff{Type: queue.BackoffExponential, Delay: immediateBackoffDelay},
		RemoveOnComplete: keepCompleted,
		RemoveOnFail:     keepFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	d.log.Debug("immediate email queued", "job_id", job.ID, "template", template, "recipients", len(recipients))
	return job, nil
}

// ScheduleSpec selects exactly one way to defer a scheduled email:
// a relative delay, an absolute fire time, or a recurring cron rule.
type ScheduleSpec struct {
	Delay *time.Duration
	At    *time.Time
	Cron  string
}

func (s ScheduleSpec) count() int {
	n := 0
	if s.Delay != nil {
		n++
	}
	if s.At != nil {
		n++
	}
	if s.Cron != "" {
		n++
	}
	return n
}

// SubmitScheduled enqueues a deferred email at high priority with 5
// attempts. An absolute time in the past fires immediately rather than
// erroring; cron text is passed through verbatim and only the adapter
// judges its syntax.
func (d *Dispatcher) SubmitScheduled(ctx context.Context, recipient, template string, data map[string]any, spec ScheduleSpec, metadata map[string]any) (*queue.Job, error) {
	if err := d.checkRecipients([]string{recipient}); err != nil {
		return nil, err
	}
	if spec.count() != 1 {
		return nil, fmt.Errorf("%w: schedule needs exactly one of delay, at, cron", ErrInvalidInput)
	}

	opts := queue.Options{
		Priority:         models.PriorityHigh,
		Attempts:         scheduledAttempts,
		RemoveOnComplete: keepCompleted,
		RemoveOnFail:     keepFailed,
	}
	switch {
	case spec.Delay != nil:
		opts.Delay = *spec.Delay
	case spec.At != nil:
		opts.Delay = time.Until(*spec.At)
		if opts.Delay < 0 {
			opts.Delay = 0
		}
	default:
		opts.RepeatCron = spec.Cron
	}

	payload := models.EmailPayload{
		Recipients: []string{recipient},
		Template:   template,
		Data:       data,
		Metadata:   metadata,
		Priority:   models.PriorityHigh,
	}
	job, err := d.q.Enqueue(ctx, models.CategoryScheduled, payload, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	d.log.Debug("scheduled email queued", "job_id", job.ID, "template", template, "delay", opts.Delay, "cron", opts.RepeatCron)
	return job, nil
}

// SubmitBulkCampaign splits a campaign into staggered batches and enqueues
// one bulk-priority job per batch. Per-recipient data is matched by
// address; recipients without an entry still go out with empty data.
func (d *Dispatcher) SubmitBulkCampaign(ctx context.Context, recipients []string, template string, recipientData map[string]map[string]any, metadata map[string]any) ([]*queue.Job, error) {
	if err := d.checkRecipients(recipients); err != nil {
		return nil, err
	}
	batches := SplitBatches(recipients, d.batchSize, d.stagger)
	jobs := make([]*queue.Job, 0, len(batches))
	for _, b := range batches {
		data := make(map[string]any, len(b.Recipients))
		for _, r := range b.Recipients {
			if rd, ok := recipientData[r]; ok {
				data[r] = rd
			} else {
				data[r] = map[string]any{}
			}
		}
		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["batchNumber"] = b.Number
		meta["totalBatches"] = b.Total

		payload := models.EmailPayload{
			Recipients: b.Recipients,
			Template:   template,
			Data:       data,
			Metadata:   meta,
			Priority:   models.PriorityBulk,
		}
		job, err := d.q.Enqueue(ctx, models.CategoryBulk, payload, queue.Options{
			Priority:         models.PriorityBulk,
			Attempts:         bulkAttempts,
			Backoff:          &queue.Backoff{Type: queue.BackoffExponential, Delay: immediateBackoffDelay},
			Delay:            b.Delay,
			RemoveOnComplete: keepCompleted,
			RemoveOnFail:     keepFailed,
		})
		if err != nil {
			return jobs, fmt.Errorf("%w: batch %d/%d: %v", ErrQueueUnavailable, b.Number, b.Total, err)
		}
		jobs = append(jobs, job)
	}
	d.log.Info("bulk campaign queued", "template", template, "recipients", len(recipients), "batches", len(batches))
	return jobs, nil
}

// RetryFailed re-enqueues a job from the failed set at high priority with
// a linear delay keyed to how many attempts it already burned. Returns
// (nil, nil) when the id is not among the currently failed jobs: nothing
// to retry is a steady-state outcome, not an error.
func (d *Dispatcher) RetryFailed(ctx context.Context, jobID string) (*queue.Job, error) {
	failed, err := d.q.ListByState(ctx, queue.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	var orig *queue.Job
	for _, j := range failed {
		if j.ID == jobID {
			orig = j
			break
		}
	}
	if orig == nil {
		return nil, nil
	}

	attempts := orig.AttemptsMade
	if attempts < 1 {
		attempts = 1
	}
	payload := orig.Payload
	payload.Priority = models.PriorityHigh
	job, err := d.q.Enqueue(ctx, orig.Name, payload, queue.Options{
		Priority:         models.PriorityHigh,
		Attempts:         attempts,
		Backoff:          &queue.Backoff{Type: queue.BackoffExponential, Delay: retryBackoffDelay},
		Delay:            time.Duration(orig.AttemptsMade) * retryDelayPerAttempt,
		RemoveOnComplete: orig.Opts.RemoveOnComplete,
		RemoveOnFail:     orig.Opts.RemoveOnFail,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	d.log.Info("failed email requeued", "job_id", jobID, "new_job_id", job.ID, "prior_attempts", orig.AttemptsMade)
	return job, nil
}

// PauseQueue halts new job starts without dropping waiting jobs.
func (d *Dispatcher) PauseQueue(ctx context.Context) error {
	if err := d.q.Pause(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// ResumeQueue restarts consumption after a pause.
func (d *Dispatcher) ResumeQueue(ctx context.Context) error {
	if err := d.q.Resume(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// CleanupOldJobs purges completed and failed records older than the
// retention window, one Clean call per state.
func (d *Dispatcher) CleanupOldJobs(ctx context.Context) error {
	var errs []error
	for _, state := range []queue.State{queue.StateCompleted, queue.StateFailed} {
		n, err := d.q.Clean(ctx, d.retention, state)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean %s: %w", state, err))
			continue
		}
		if n > 0 {
			d.log.Info("purged old job records", "state", string(state), "count", n)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) checkRecipients(recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidInput)
	}
	for _, r := range recipients {
		if err := d.validate.Var(r, "required,email"); err != nil {
			return fmt.Errorf("%w: bad recipient address %q", ErrInvalidInput, r)
		}
	}
	return nil
}
