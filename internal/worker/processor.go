package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"mailcourier/internal/queue"
	"mailcourier/internal/telemetry"
)

// Processor drives the send loop: promote due delayed jobs, reclaim
// expired leases, then drain ready jobs in priority order. Retry count
// and delay are the queue's business; the processor only reports success
// or failure per attempt.
type Processor struct {
	q            *queue.RedisQueue
	sender       Sender
	breaker      *gobreaker.CircuitBreaker
	log          *slog.Logger
	pollInterval time.Duration
	promoteBatch int64
}

func NewProcessor(q *queue.RedisQueue, sender Sender, pollInterval time.Duration, log *slog.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "email-transport",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Processor{
		q:            q,
		sender:       sender,
		breaker:      breaker,
		log:          log,
		pollInterval: pollInterval,
		promoteBatch: 100,
	}
}

// Run processes jobs until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		if _, err := p.q.PromoteDelayed(ctx, now, p.promoteBatch); err != nil {
			p.log.Error("promote delayed jobs", "error", err)
		}
		if reclaimed, err := p.q.ReclaimStalled(ctx, now, p.promoteBatch); err != nil {
			p.log.Error("reclaim stalled jobs", "error", err)
		} else if len(reclaimed) > 0 {
			p.log.Warn("reclaimed stalled jobs", "count", len(reclaimed))
		}
		if waiting, err := p.q.ListByState(ctx, queue.StateWaiting); err == nil {
			telemetry.QueueDepthGauge.Set(float64(len(waiting)))
		}

		job, err := p.q.Dequeue(ctx)
		if err != nil {
			p.log.Error("dequeue", "error", err)
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		if sendErr := p.send(ctx, job); sendErr != nil {
			p.log.Warn("send attempt failed",
				"job_id", job.ID, "category", job.Name,
				"attempt", job.AttemptsMade, "max_attempts", job.Opts.Attempts,
				"error", sendErr)
			if err := p.q.Fail(ctx, job, sendErr); err != nil {
				p.log.Error("mark job failed", "job_id", job.ID, "error", err)
			}
			continue
		}
		if err := p.q.Complete(ctx, job); err != nil {
			p.log.Error("mark job completed", "job_id", job.ID, "error", err)
		}
	}
}

// send routes the attempt through the transport circuit breaker so a
// flapping provider stops burning attempt budgets.
func (p *Processor) send(ctx context.Context, job *queue.Job) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.sender.Send(ctx, job.Payload.Recipients, job.Payload.Template, job.Payload.Data)
	})
	return err
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
