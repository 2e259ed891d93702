package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"gorvnbridge/types"
)

// ErrJobNotFound is returned by Requeue for ids missing from the dead letter list.
var ErrJobNotFound = errors.New("job not found")

// Queue is a durable at-least-once job queue.
//
// Layout per queue name:
//
//	queue:<name>:job:<id>  job JSON, exists from Enqueue until Complete
//	queue:<name>:wait      list of ids ready to run
//	queue:<name>:active    list of ids handed to a worker
//	queue:<name>:delayed   zset of ids waiting for their backoff, scored by unix ms
//	queue:<name>:dead      list of ids whose attempts are exhausted
type Queue struct {
	pool        *redis.Pool
	name        string
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

type QueueOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

type QueueStats struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Delayed int `json:"delayed"`
	Dead    int `json:"dead"`
}

// the job record doubles as the dedup marker, so a deposit waiting, retrying
// or dead lettered is never queued twice
var enqueueScript = redis.NewScript(2, `
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('LPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

var promoteScript = redis.NewScript(2, `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

func NewQueue(pool *redis.Pool, name string, opts QueueOptions) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	return &Queue{
		pool:        pool,
		name:        name,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		maxBackoff:  opts.MaxBackoff,
		now:         time.Now,
	}
}

func (q *Queue) key(part string) string {
	return "queue:" + q.name + ":" + part
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Close releases the connection pool.
func (q *Queue) Close() error {
	return q.pool.Close()
}

func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue durably stores the job. It reports false when a job with the same
// id is already in the queue.
func (q *Queue) Enqueue(ctx context.Context, job *types.PayoutJob) (bool, error) {
	if job == nil || job.ID == "" {
		return false, errors.New("job must have an id")
	}

	now := q.now().Unix()
	job.Status = types.JobWaiting
	job.TsCreated = now
	job.TsUpdated = now

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("cannot marshal job to JSON: %w", err)
	}

	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	added, err := redis.Int(enqueueScript.Do(conn, q.jobKey(job.ID), q.key("wait"), data, job.ID))
	if err != nil {
		return false, fmt.Errorf("redis enqueue: %w", err)
	}
	return added == 1, nil
}

// Dequeue moves the next ready job to the active list and counts the attempt.
// Ids whose record is gone are dropped on the way. It returns nil when
// nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*types.PayoutJob, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var job *types.PayoutJob
	for job == nil {
		id, err := redis.String(conn.Do("RPOPLPUSH", q.key("wait"), q.key("active")))
		if errors.Is(err, redis.ErrNil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis RPOPLPUSH: %w", err)
		}

		if job, err = q.getJob(conn, id); err != nil {
			return nil, err
		}
		if job == nil {
			// completed by an earlier delivery, skip to the next id
			if _, err := conn.Do("LREM", q.key("active"), 1, id); err != nil {
				return nil, fmt.Errorf("redis LREM: %w", err)
			}
		}
	}

	job.Status = types.JobActive
	job.Attempts++
	job.TsUpdated = q.now().Unix()
	if err := q.putJob(conn, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete discards a successfully handled job for good.
func (q *Queue) Complete(ctx context.Context, job *types.PayoutJob) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("LREM", q.key("active"), 1, job.ID)
	conn.Send("DEL", q.jobKey(job.ID))
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	return nil
}

// Fail schedules a retry with exponential backoff, or moves the job to the
// dead letter list once its attempts are used up. It reports whether the job
// was dead lettered.
func (q *Queue) Fail(ctx context.Context, job *types.PayoutJob, cause error) (bool, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if cause != nil {
		job.LastError = cause.Error()
	}
	job.TsUpdated = q.now().Unix()

	dead := job.Attempts >= q.maxAttempts
	if dead {
		job.Status = types.JobDead
	} else {
		job.Status = types.JobDelayed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("cannot marshal job to JSON: %w", err)
	}

	conn.Send("MULTI")
	conn.Send("LREM", q.key("active"), 1, job.ID)
	conn.Send("SET", q.jobKey(job.ID), data)
	if dead {
		conn.Send("LPUSH", q.key("dead"), job.ID)
	} else {
		readyAt := q.now().Add(q.Backoff(job.Attempts))
		conn.Send("ZADD", q.key("delayed"), readyAt.UnixMilli(), job.ID)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return false, fmt.Errorf("redis fail: %w", err)
	}
	return dead, nil
}

// Postpone puts the job back for a later run without using up an attempt.
// It is meant for failures that say nothing about the job itself.
func (q *Queue) Postpone(ctx context.Context, job *types.PayoutJob, cause error) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempts > 0 {
		job.Attempts--
	}
	job.Status = types.JobDelayed
	job.TsUpdated = q.now().Unix()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cannot marshal job to JSON: %w", err)
	}

	conn.Send("MULTI")
	conn.Send("LREM", q.key("active"), 1, job.ID)
	conn.Send("SET", q.jobKey(job.ID), data)
	conn.Send("ZADD", q.key("delayed"), q.now().Add(q.maxBackoff).UnixMilli(), job.ID)
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis postpone: %w", err)
	}
	return nil
}

// Backoff returns the delay before the retry that follows the given attempt.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := q.backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	return delay
}

// PromoteDelayed moves jobs whose backoff has elapsed back to the wait list.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := redis.Int(promoteScript.Do(conn, q.key("delayed"), q.key("wait"), q.now().UnixMilli(), 100))
	if err != nil {
		return 0, fmt.Errorf("redis promote: %w", err)
	}
	return n, nil
}

// RecoverActive puts jobs left active by a crashed process back on the wait list.
// Only safe while a single process consumes the queue.
func (q *Queue) RecoverActive(ctx context.Context) (int, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	recovered := 0
	for {
		_, err := redis.String(conn.Do("RPOPLPUSH", q.key("active"), q.key("wait")))
		if errors.Is(err, redis.ErrNil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("redis RPOPLPUSH: %w", err)
		}
		recovered++
	}
}

func (q *Queue) DeadLetters(ctx context.Context) ([]*types.PayoutJob, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("LRANGE", q.key("dead"), 0, -1))
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}

	jobs := make([]*types.PayoutJob, 0, len(ids))
	for _, id := range ids {
		job, err := q.getJob(conn, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Requeue gives a dead lettered job a fresh attempt budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	removed, err := redis.Int(conn.Do("LREM", q.key("dead"), 1, id))
	if err != nil {
		return fmt.Errorf("redis LREM: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s is not dead lettered", ErrJobNotFound, id)
	}

	job, err := q.getJob(conn, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s has no record", ErrJobNotFound, id)
	}

	job.Attempts = 0
	job.Status = types.JobWaiting
	job.TsUpdated = q.now().Unix()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cannot marshal job to JSON: %w", err)
	}

	conn.Send("MULTI")
	conn.Send("SET", q.jobKey(id), data)
	conn.Send("LPUSH", q.key("wait"), id)
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

// Get returns nil when the job is not in the queue.
func (q *Queue) Get(ctx context.Context, id string) (*types.PayoutJob, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return q.getJob(conn, id)
}

func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("LLEN", q.key("wait"))
	conn.Send("LLEN", q.key("active"))
	conn.Send("ZCARD", q.key("delayed"))
	conn.Send("LLEN", q.key("dead"))
	counts, err := redis.Ints(conn.Do("EXEC"))
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	return &QueueStats{Waiting: counts[0], Active: counts[1], Delayed: counts[2], Dead: counts[3]}, nil
}

func (q *Queue) getJob(conn redis.Conn, id string) (*types.PayoutJob, error) {
	data, err := redis.Bytes(conn.Do("GET", q.jobKey(id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}

	var job types.PayoutJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("cannot unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) putJob(conn redis.Conn, job *types.PayoutJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cannot marshal job to JSON: %w", err)
	}
	if _, err := conn.Do("SET", q.jobKey(job.ID), data); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}
