package queue

import (
	"context"
	"time"

	"mailcourier/internal/models"
)

// State enumerates the job sets a backing queue must expose.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// BackoffType selects how the retry delay grows between attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the delay policy applied between automatic retries.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Options carries everything the dispatch layer decides about a job before
// handing it to the queue. RemoveOnComplete/RemoveOnFail bound how many
// finished records the queue retains for the job's category.
type Options struct {
	Priority         models.Priority `json:"priority"`
	Attempts         int             `json:"attempts"`
	Backoff          *Backoff        `json:"backoff,omitempty"`
	Delay            time.Duration   `json:"delay,omitempty"`
	RepeatCron       string          `json:"repeat_cron,omitempty"`
	RemoveOnComplete int             `json:"remove_on_complete,omitempty"`
	RemoveOnFail     int             `json:"remove_on_fail,omitempty"`
}

// Job is a queue-owned unit of work. The dispatch layer constructs the
// initial payload and options; everything else is maintained by the queue.
type Job struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Payload      models.EmailPayload `json:"payload"`
	Opts         Options             `json:"opts"`
	AttemptsMade int                 `json:"attempts_made"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	ProcessedOn  time.Time           `json:"processed_on,omitempty"`
	FinishedOn   time.Time           `json:"finished_on,omitempty"`
	FailedReason string              `json:"failed_reason,omitempty"`
}

// EventKind tags the lifecycle events a queue emits.
type EventKind int

const (
	EventCompleted EventKind = iota
	EventFailed
	EventStalled
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribed handlers when a job completes, fails
// terminally, or stalls past its lease.
type Event struct {
	Kind     EventKind
	JobID    string
	Name     string
	Err      string
	Duration time.Duration
}

// Handler receives lifecycle events. Handlers run synchronously on the
// worker path and must not block for long.
type Handler func(Event)

// Adapter is the durable-queue contract consumed by the dispatch policy
// layer. Implementations must order waiting jobs FIFO within a priority
// and prefer lower priority values across levels.
type Adapter interface {
	Enqueue(ctx context.Context, name string, payload models.EmailPayload, opts Options) (*Job, error)
	ListByState(ctx context.Context, state State) ([]*Job, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clean(ctx context.Context, age time.Duration, state State) (int, error)
	Subscribe(h Handler)
}

// Prober exposes broker transport introspection for health reporting.
// Info returns key:value lines in the Redis INFO format.
type Prober interface {
	Ping(ctx context.Context) (string, error)
	Info(ctx context.Context) (string, error)
}
