package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"mailcourier/internal/models"
)

const keyPrefix = "mail"

// RedisQueue is a single-node Redis binding of the Adapter contract.
// Ready jobs live in one list per priority, delayed jobs in a zset scored
// by fire time, and leased jobs in a zset scored by lease deadline.
// Finished job records are kept in bounded lists for health reporting.
type RedisQueue struct {
	client   *redis.Client
	leaseTTL time.Duration

	mu       sync.RWMutex
	handlers []Handler
}

// NewRedis builds a queue on top of an existing client. A zero leaseTTL
// falls back to 30s.
func NewRedis(client *redis.Client, leaseTTL time.Duration) *RedisQueue {
	if leaseTTL == 0 {
		leaseTTL = 30 * time.Second
	}
	return &RedisQueue{client: client, leaseTTL: leaseTTL}
}

func readyKey(p models.Priority) string {
	return fmt.Sprintf("%s:ready:%d", keyPrefix, p)
}

func jobKey(id string) string {
	return keyPrefix + ":job:" + id
}

var (
	delayedKey   = keyPrefix + ":delayed"
	activeKey    = keyPrefix + ":active"
	completedKey = keyPrefix + ":completed"
	failedKey    = keyPrefix + ":failed"
	pausedKey    = keyPrefix + ":paused"
)

var priorities = []models.Priority{
	models.PriorityCritical,
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityBulk,
}

// Subscribe registers a lifecycle event handler. Handlers run
// synchronously in enqueue order on the worker path.
func (q *RedisQueue) Subscribe(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, h)
}

func (q *RedisQueue) emit(ev Event) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Enqueue stores the job record and places it in the ready list or, when
// delayed or recurring, the delayed set. A malformed repeat rule fails
// here, before anything is written.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload models.EmailPayload, opts Options) (*Job, error) {
	if opts.Priority == 0 {
		opts.Priority = models.PriorityNormal
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}

	now := time.Now()
	var fireAt time.Time
	if opts.RepeatCron != "" {
		sched, err := cron.ParseStandard(opts.RepeatCron)
		if err != nil {
			return nil, fmt.Errorf("parse repeat rule %q: %w", opts.RepeatCron, err)
		}
		fireAt = sched.Next(now)
	} else if opts.Delay > 0 {
		fireAt = now.Add(opts.Delay)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		Opts:       opts,
		EnqueuedAt: now,
	}
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	if !fireAt.IsZero() {
		err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: float64(fireAt.UnixMilli()), Member: job.ID}).Err()
		if err != nil {
			return nil, err
		}
		return job, nil
	}
	if err := q.client.RPush(ctx, readyKey(opts.Priority), job.ID).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

// Dequeue pops the highest-priority ready job and leases it. Returns
// (nil, nil) when the queue is paused or empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	paused, err := q.client.Exists(ctx, pausedKey).Result()
	if err != nil {
		return nil, err
	}
	if paused > 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(priorities)+1)
	for _, p := range priorities {
		keys = append(keys, readyKey(p))
	}
	keys = append(keys, activeKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.leaseTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	job, err := q.loadJob(ctx, id)
	if err != nil || job == nil {
		// Record vanished under us; drop the lease.
		_ = q.client.ZRem(ctx, activeKey, id)
		return nil, err
	}
	job.AttemptsMade++
	job.ProcessedOn = time.Now()
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete records a successful send, trims the completed history to the
// job's retention, and emits a completed event. Recurring jobs get their
// next occurrence scheduled as a fresh job.
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	job.FinishedOn = time.Now()
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.LPush(ctx, completedKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if err := q.trimFinished(ctx, completedKey, job.Opts.RemoveOnComplete); err != nil {
		return err
	}
	if job.Opts.RepeatCron != "" {
		q.scheduleNextOccurrence(ctx, job)
	}
	q.emit(Event{
		Kind:     EventCompleted,
		JobID:    job.ID,
		Name:     job.Name,
		Duration: job.FinishedOn.Sub(job.ProcessedOn),
	})
	return nil
}

// Fail either reschedules the job per its backoff policy or, once the
// attempt budget is exhausted, moves it to the failed set and emits a
// failed event.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	job.FailedReason = cause.Error()
	if job.AttemptsMade < job.Opts.Attempts {
		delay := retryDelay(job.Opts.Backoff, job.AttemptsMade)
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, job.ID)
		pipe.ZAdd(ctx, delayedKey, redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: job.ID,
		})
		_, err := pipe.Exec(ctx)
		return err
	}

	job.FinishedOn = time.Now()
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.LPush(ctx, failedKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if err := q.trimFinished(ctx, failedKey, job.Opts.RemoveOnFail); err != nil {
		return err
	}
	q.emit(Event{
		Kind:     EventFailed,
		JobID:    job.ID,
		Name:     job.Name,
		Err:      job.FailedReason,
		Duration: job.FinishedOn.Sub(job.ProcessedOn),
	})
	return nil
}

// PromoteDelayed moves due delayed jobs into their ready lists and returns
// how many were promoted.
func (q *RedisQueue) PromoteDelayed(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return promoted, err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, id)
		if job != nil {
			pipe.RPush(ctx, readyKey(job.Opts.Priority), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, err
		}
		if job != nil {
			promoted++
		}
	}
	return promoted, nil
}

// ReclaimStalled requeues jobs whose lease expired and emits a stalled
// event for each.
func (q *RedisQueue) ReclaimStalled(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	var reclaimed []string
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return reclaimed, err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, id)
		if job != nil {
			pipe.RPush(ctx, readyKey(job.Opts.Priority), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, err
		}
		if job != nil {
			reclaimed = append(reclaimed, id)
			q.emit(Event{Kind: EventStalled, JobID: id, Name: job.Name})
		}
	}
	return reclaimed, nil
}

// ListByState loads the full job records for one state set. Waiting jobs
// come back in service order: priority ascending, FIFO within a priority.
func (q *RedisQueue) ListByState(ctx context.Context, state State) ([]*Job, error) {
	var ids []string
	var err error
	switch state {
	case StateWaiting:
		for _, p := range priorities {
			chunk, err := q.client.LRange(ctx, readyKey(p), 0, -1).Result()
			if err != nil {
				return nil, err
			}
			ids = append(ids, chunk...)
		}
	case StateActive:
		ids, err = q.client.ZRange(ctx, activeKey, 0, -1).Result()
	case StateDelayed:
		ids, err = q.client.ZRange(ctx, delayedKey, 0, -1).Result()
	case StateCompleted:
		ids, err = q.client.LRange(ctx, completedKey, 0, -1).Result()
	case StateFailed:
		ids, err = q.client.LRange(ctx, failedKey, 0, -1).Result()
	default:
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Pause stops workers from starting new jobs. Waiting jobs stay put and
// active jobs run to completion.
func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, pausedKey, "1", 0).Err()
}

// Resume re-enables job consumption.
func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, pausedKey).Err()
}

// Clean purges completed or failed records older than age and returns how
// many were removed.
func (q *RedisQueue) Clean(ctx context.Context, age time.Duration, state State) (int, error) {
	var listKey string
	switch state {
	case StateCompleted:
		listKey = completedKey
	case StateFailed:
		listKey = failedKey
	default:
		return 0, fmt.Errorf("clean does not apply to state %q", state)
	}

	ids, err := q.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			return removed, err
		}
		if job != nil && (job.FinishedOn.IsZero() || job.FinishedOn.After(cutoff)) {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, listKey, 0, id)
		pipe.Del(ctx, jobKey(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Ping reports broker liveness ("PONG" when healthy).
func (q *RedisQueue) Ping(ctx context.Context) (string, error) {
	return q.client.Ping(ctx).Result()
}

// Info returns the raw INFO text for transport introspection.
func (q *RedisQueue) Info(ctx context.Context) (string, error) {
	return q.client.Info(ctx).Result()
}

func (q *RedisQueue) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return q.client.Set(ctx, jobKey(job.ID), raw, 0).Err()
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// trimFinished drops record ids beyond the retention bound and deletes
// their job records.
func (q *RedisQueue) trimFinished(ctx context.Context, listKey string, keep int) error {
	if keep <= 0 {
		return nil
	}
	overflow, err := q.client.LRange(ctx, listKey, int64(keep), -1).Result()
	if err != nil {
		return err
	}
	if len(overflow) == 0 {
		return nil
	}
	pipe := q.client.TxPipeline()
	pipe.LTrim(ctx, listKey, 0, int64(keep)-1)
	for _, id := range overflow {
		pipe.Del(ctx, jobKey(id))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) scheduleNextOccurrence(ctx context.Context, job *Job) {
	sched, err := cron.ParseStandard(job.Opts.RepeatCron)
	if err != nil {
		// Validated at enqueue; a parse failure here means the stored
		// rule was corrupted, so the recurrence simply stops.
		return
	}
	next := &Job{
		ID:         uuid.NewString(),
		Name:       job.Name,
		Payload:    job.Payload,
		Opts:       job.Opts,
		EnqueuedAt: time.Now(),
	}
	if err := q.saveJob(ctx, next); err != nil {
		return
	}
	_ = q.client.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(sched.Next(time.Now()).UnixMilli()),
		Member: next.ID,
	}).Err()
}

func retryDelay(b *Backoff, attemptsMade int) time.Duration {
	if b == nil {
		return 0
	}
	if b.Type == BackoffFixed || attemptsMade <= 1 {
		return b.Delay
	}
	return b.Delay << (attemptsMade - 1)
}

var dequeueScript = redis.NewScript(`
local active = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', active, ARGV[1], job)
    return job
  end
end
return nil
`)
