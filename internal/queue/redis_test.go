package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mailcourier/internal/models"
)

func newTestQueue(t *testing.T, leaseTTL time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, leaseTTL)
}

func payloadTo(addr string) models.EmailPayload {
	return models.EmailPayload{
		Recipients: []string{addr},
		Template:   "lease-renewal",
		Priority:   models.PriorityNormal,
	}
}

func TestEnqueueServesPriorityOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	bulk, err := q.Enqueue(ctx, models.CategoryBulk, payloadTo("a@example.com"), Options{Priority: models.PriorityBulk})
	require.NoError(t, err)
	critical, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo("b@example.com"), Options{Priority: models.PriorityCritical})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, critical.ID, first.ID, "critical jobs jump ahead of bulk")
	require.Equal(t, 1, first.AttemptsMade)
	require.False(t, first.ProcessedOn.IsZero())

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, bulk.ID, second.ID)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, third, "queue drained")
}

func TestEnqueueFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	var ids []string
	for _, addr := range []string{"1@example.com", "2@example.com", "3@example.com"} {
		job, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo(addr), Options{Priority: models.PriorityCritical})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, want := range ids {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, job.ID)
	}
}

func TestDelayedJobPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	job, err := q.Enqueue(ctx, models.CategoryScheduled, payloadTo("t@example.com"), Options{
		Priority: models.PriorityHigh,
		Delay:    time.Hour,
	})
	require.NoError(t, err)

	delayed, err := q.ListByState(ctx, StateDelayed)
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	require.Equal(t, job.ID, delayed[0].ID)

	// Not due yet.
	n, err := q.PromoteDelayed(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = q.PromoteDelayed(ctx, time.Now().Add(2*time.Hour), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	waiting, err := q.ListByState(ctx, StateWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, job.ID, waiting[0].ID)
}

func TestFailRetriesUntilAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	var events []Event
	q.Subscribe(func(ev Event) { events = append(events, ev) })

	job, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo("t@example.com"), Options{
		Priority: models.PriorityCritical,
		Attempts: 2,
	})
	require.NoError(t, err)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, got, errors.New("smtp 451")))
	require.Empty(t, events, "first failure reschedules silently")

	delayed, err := q.ListByState(ctx, StateDelayed)
	require.NoError(t, err)
	require.Len(t, delayed, 1)

	_, err = q.PromoteDelayed(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got.AttemptsMade)
	require.NoError(t, q.Fail(ctx, got, errors.New("smtp 451 again")))

	require.Len(t, events, 1)
	require.Equal(t, EventFailed, events[0].Kind)
	require.Equal(t, job.ID, events[0].JobID)
	require.Equal(t, models.CategoryImmediate, events[0].Name)

	failed, err := q.ListByState(ctx, StateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "smtp 451 again", failed[0].FailedReason)
}

func TestCompleteTrimsRetention(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	var completed []string
	q.Subscribe(func(ev Event) {
		if ev.Kind == EventCompleted {
			completed = append(completed, ev.JobID)
		}
	})

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo("t@example.com"), Options{
			Priority:         models.PriorityCritical,
			RemoveOnComplete: 2,
		})
		require.NoError(t, err)
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
	}
	require.Len(t, completed, 3)

	records, err := q.ListByState(ctx, StateCompleted)
	require.NoError(t, err)
	require.Len(t, records, 2, "history bounded by removeOnComplete")
}

func TestPauseBlocksDequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	_, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo("t@example.com"), Options{Priority: models.PriorityCritical})
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job, "paused queue hands out nothing")

	waiting, err := q.ListByState(ctx, StateWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1, "waiting jobs survive a pause")

	require.NoError(t, q.Resume(ctx))
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestReclaimStalledEmitsEvent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Millisecond)

	var events []Event
	q.Subscribe(func(ev Event) { events = append(events, ev) })

	job, err := q.Enqueue(ctx, models.CategoryBulk, payloadTo("t@example.com"), Options{Priority: models.PriorityBulk})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	reclaimed, err := q.ReclaimStalled(ctx, time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	require.Equal(t, []string{job.ID}, reclaimed)
	require.Len(t, events, 1)
	require.Equal(t, EventStalled, events[0].Kind)

	waiting, err := q.ListByState(ctx, StateWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
}

func TestCleanPurgesFinishedRecords(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	_, err := q.Enqueue(ctx, models.CategoryImmediate, payloadTo("t@example.com"), Options{Priority: models.PriorityCritical})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))

	// Young records survive a bounded-age clean.
	n, err := q.Clean(ctx, time.Hour, StateCompleted)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = q.Clean(ctx, 0, StateCompleted)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	records, err := q.ListByState(ctx, StateCompleted)
	require.NoError(t, err)
	require.Empty(t, records)

	_, err = q.Clean(ctx, 0, StateWaiting)
	require.Error(t, err, "clean only applies to finished states")
}

func TestMalformedRepeatRuleFailsEnqueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	_, err := q.Enqueue(ctx, models.CategoryScheduled, payloadTo("t@example.com"), Options{
		Priority:   models.PriorityHigh,
		RepeatCron: "not a cron rule",
	})
	require.Error(t, err)

	// Nothing was written.
	for _, state := range []State{StateWaiting, StateDelayed} {
		jobs, err := q.ListByState(ctx, state)
		require.NoError(t, err)
		require.Empty(t, jobs)
	}
}

func TestRepeatRuleSchedulesDelayed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 0)

	job, err := q.Enqueue(ctx, models.CategoryScheduled, payloadTo("t@example.com"), Options{
		Priority:   models.PriorityHigh,
		RepeatCron: "0 9 * * 1",
	})
	require.NoError(t, err)
	require.Equal(t, "0 9 * * 1", job.Opts.RepeatCron)

	delayed, err := q.ListByState(ctx, StateDelayed)
	require.NoError(t, err)
	require.Len(t, delayed, 1)
}

func TestPing(t *testing.T) {
	q := newTestQueue(t, 0)
	resp, err := q.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, "PONG", resp)
}

func TestRetryDelayGrowth(t *testing.T) {
	exp := &Backoff{Type: BackoffExponential, Delay: 2 * time.Second}
	require.Equal(t, 2*time.Second, retryDelay(exp, 1))
	require.Equal(t, 4*time.Second, retryDelay(exp, 2))
	require.Equal(t, 8*time.Second, retryDelay(exp, 3))

	fixed := &Backoff{Type: BackoffFixed, Delay: 10 * time.Second}
	require.Equal(t, 10*time.Second, retryDelay(fixed, 3))

	require.Zero(t, retryDelay(nil, 2))
}
