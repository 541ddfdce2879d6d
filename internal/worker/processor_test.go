package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mailcourier/internal/models"
	"mailcourier/internal/queue"
)

func newTestQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedis(client, 0)
}

func waitForEvent(t *testing.T, ch <-chan queue.Event) queue.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lifecycle event")
		return queue.Event{}
	}
}

func TestProcessorCompletesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := newTestQueue(t)

	events := make(chan queue.Event, 4)
	q.Subscribe(func(ev queue.Event) { events <- ev })

	var sent atomic.Int32
	sender := SenderFunc(func(_ context.Context, recipients []string, template string, _ map[string]any) error {
		require.Equal(t, []string{"tenant@example.com"}, recipients)
		require.Equal(t, "lease-renewal", template)
		sent.Add(1)
		return nil
	})

	job, err := q.Enqueue(ctx, models.CategoryImmediate, models.EmailPayload{
		Recipients: []string{"tenant@example.com"},
		Template:   "lease-renewal",
	}, queue.Options{Priority: models.PriorityCritical, Attempts: 3})
	require.NoError(t, err)

	p := NewProcessor(q, sender, 10*time.Millisecond, nil)
	go func() { _ = p.Run(ctx) }()

	ev := waitForEvent(t, events)
	require.Equal(t, queue.EventCompleted, ev.Kind)
	require.Equal(t, job.ID, ev.JobID)
	require.Equal(t, int32(1), sent.Load())
}

func TestProcessorFailsJobAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := newTestQueue(t)

	events := make(chan queue.Event, 4)
	q.Subscribe(func(ev queue.Event) { events <- ev })

	sender := SenderFunc(func(context.Context, []string, string, map[string]any) error {
		return errors.New("provider rejected message")
	})

	job, err := q.Enqueue(ctx, models.CategoryBulk, models.EmailPayload{
		Recipients: []string{"tenant@example.com"},
		Template:   "newsletter",
	}, queue.Options{Priority: models.PriorityBulk, Attempts: 2})
	require.NoError(t, err)

	p := NewProcessor(q, sender, 10*time.Millisecond, nil)
	go func() { _ = p.Run(ctx) }()

	ev := waitForEvent(t, events)
	require.Equal(t, queue.EventFailed, ev.Kind)
	require.Equal(t, job.ID, ev.JobID)
	require.Contains(t, ev.Err, "provider rejected")

	failed, err := q.ListByState(ctx, queue.StateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, 2, failed[0].AttemptsMade, "both attempts were burned")
}
