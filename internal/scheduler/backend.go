package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m0rphlin/operetta/api/schemas"
)

// Backend is the durable substrate the scheduler runs on. Implementations
// must make Enqueue idempotent by job key: a pending job with the same key
// is replaced, and while the keyed job is active the enqueue is dropped,
// never duplicated.
type Backend interface {
	// Enqueue stores the job and makes it ready at job.ReadyAt.
	Enqueue(ctx context.Context, job schemas.Job) error
	// Dequeue pops the oldest ready job from the queue, marks it active,
	// bumps its attempt counter and leases it for the given duration.
	// It returns nil when nothing is ready.
	Dequeue(ctx context.Context, queue schemas.QueueName, now time.Time, lease time.Duration) (*schemas.Job, error)
	// Heartbeat extends an active job's lease.
	Heartbeat(ctx context.Context, job schemas.Job, lease time.Duration) error
	// Requeue returns an active job to the pending set, ready at readyAt.
	Requeue(ctx context.Context, job schemas.Job, readyAt time.Time) error
	// Finish moves an active job to a terminal state.
	Finish(ctx context.Context, job schemas.Job, state schemas.JobState) error
	// Stalled returns active jobs whose lease has lapsed.
	Stalled(ctx context.Context, queue schemas.QueueName) ([]schemas.Job, error)
	Close() error
}

const keyPrefix = "operetta:sched:"

// finishedJobTTL bounds how long terminal job records stay readable.
const finishedJobTTL = 24 * time.Hour

// RedisBackend keeps queue state in Redis: a sorted set of ready job IDs
// per queue scored by ready time, a JSON record per job, a key index for
// replacement, a set of active job IDs per queue, and a TTL key per active
// job acting as its lease.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return &RedisBackend{client: client}, nil
}

func readyKey(q schemas.QueueName) string  { return keyPrefix + string(q) + ":ready" }
func activeKey(q schemas.QueueName) string { return keyPrefix + string(q) + ":active" }
func jobKey(id string) string              { return keyPrefix + "job:" + id }
func indexKey(key string) string           { return keyPrefix + "key:" + key }
func leaseKey(id string) string            { return keyPrefix + "lease:" + id }

func (b *RedisBackend) Enqueue(ctx context.Context, job schemas.Job) error {
	// Replace a pending job carrying the same key instead of queueing a
	// second copy; drop the enqueue outright while the keyed job is
	// active. Finish deletes the index, so the drop window closes with
	// the running job.
	if job.Key != "" {
		oldID, err := b.client.Get(ctx, indexKey(job.Key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read job key index: %w", err)
		}
		if oldID != "" && oldID != job.ID {
			old, err := b.loadJob(ctx, oldID)
			if err == nil && old != nil {
				switch old.State {
				case schemas.JobPending:
					if _, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.ZRem(ctx, readyKey(old.Queue), old.ID)
						pipe.Del(ctx, jobKey(old.ID))
						return nil
					}); err != nil {
						return fmt.Errorf("failed to replace pending job %s: %w", oldID, err)
					}
				case schemas.JobActive:
					return nil
				}
			}
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), payload, 0)
		if job.Key != "" {
			pipe.Set(ctx, indexKey(job.Key), job.ID, 0)
		}
		pipe.ZAdd(ctx, readyKey(job.Queue), redis.Z{
			Score:  float64(job.ReadyAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Dequeue(ctx context.Context, queue schemas.QueueName, now time.Time, lease time.Duration) (*schemas.Job, error) {
	ids, err := b.client.ZRangeByScore(ctx, readyKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ready set for %s: %w", queue, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	// A competing worker may have claimed it between the read and the
	// remove; ZRem's return tells us who won.
	removed, err := b.client.ZRem(ctx, readyKey(queue), id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	if removed == 0 {
		return nil, nil
	}

	job, err := b.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	job.State = schemas.JobActive
	job.Attempts++
	if err := b.saveActive(ctx, *job, lease); err != nil {
		return nil, err
	}
	return job, nil
}

func (b *RedisBackend) Heartbeat(ctx context.Context, job schemas.Job, lease time.Duration) error {
	if err := b.client.Set(ctx, leaseKey(job.ID), "1", lease).Err(); err != nil {
		return fmt.Errorf("failed to extend lease for job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Requeue(ctx context.Context, job schemas.Job, readyAt time.Time) error {
	job.State = schemas.JobPending
	job.ReadyAt = readyAt
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), payload, 0)
		pipe.SRem(ctx, activeKey(job.Queue), job.ID)
		pipe.Del(ctx, leaseKey(job.ID))
		pipe.ZAdd(ctx, readyKey(job.Queue), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Finish(ctx context.Context, job schemas.Job, state schemas.JobState) error {
	job.State = state
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), payload, finishedJobTTL)
		pipe.SRem(ctx, activeKey(job.Queue), job.ID)
		pipe.Del(ctx, leaseKey(job.ID))
		if job.Key != "" {
			pipe.Del(ctx, indexKey(job.Key))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Stalled(ctx context.Context, queue schemas.QueueName) ([]schemas.Job, error) {
	ids, err := b.client.SMembers(ctx, activeKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active set for %s: %w", queue, err)
	}

	var stalled []schemas.Job
	for _, id := range ids {
		alive, err := b.client.Exists(ctx, leaseKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check lease for job %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}
		job, err := b.loadJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Orphaned member; drop it from the active set.
			b.client.SRem(ctx, activeKey(queue), id)
			continue
		}
		stalled = append(stalled, *job)
	}
	return stalled, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) loadJob(ctx context.Context, id string) (*schemas.Job, error) {
	raw, err := b.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job schemas.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (b *RedisBackend) saveActive(ctx context.Context, job schemas.Job, lease time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), payload, 0)
		pipe.SAdd(ctx, activeKey(job.Queue), job.ID)
		pipe.Set(ctx, leaseKey(job.ID), "1", lease)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to activate job %s: %w", job.ID, err)
	}
	return nil
}

var _ Backend = (*RedisBackend)(nil)
