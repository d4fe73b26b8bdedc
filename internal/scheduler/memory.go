package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/m0rphlin/operetta/api/schemas"
)

// MemoryBackend is an in-process Backend with the same semantics as the
// Redis one. It backs dev mode and the scheduler's own tests; nothing
// survives a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	jobs    map[string]schemas.Job
	byKey   map[string]string
	ready   map[schemas.QueueName][]string
	active  map[schemas.QueueName]map[string]bool
	leases  map[string]time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:   make(map[string]schemas.Job),
		byKey:  make(map[string]string),
		ready:  make(map[schemas.QueueName][]string),
		active: make(map[schemas.QueueName]map[string]bool),
		leases: make(map[string]time.Time),
	}
}

func (b *MemoryBackend) Enqueue(_ context.Context, job schemas.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if job.Key != "" {
		if oldID, ok := b.byKey[job.Key]; ok && oldID != job.ID {
			if old, ok := b.jobs[oldID]; ok {
				switch old.State {
				case schemas.JobPending:
					b.removeReadyLocked(old.Queue, oldID)
					delete(b.jobs, oldID)
				case schemas.JobActive:
					// The keyed work is already running. Queueing a second
					// copy would make it additive; Finish clears the index,
					// so a later enqueue goes through.
					return nil
				}
			}
		}
		b.byKey[job.Key] = job.ID
	}

	b.jobs[job.ID] = job
	b.ready[job.Queue] = append(b.ready[job.Queue], job.ID)
	return nil
}

func (b *MemoryBackend) Dequeue(_ context.Context, queue schemas.QueueName, now time.Time, lease time.Duration) (*schemas.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bestIdx := -1
	var bestAt time.Time
	for i, id := range b.ready[queue] {
		job, ok := b.jobs[id]
		if !ok {
			continue
		}
		if job.ReadyAt.After(now) {
			continue
		}
		if bestIdx == -1 || job.ReadyAt.Before(bestAt) {
			bestIdx, bestAt = i, job.ReadyAt
		}
	}
	if bestIdx == -1 {
		return nil, nil
	}

	id := b.ready[queue][bestIdx]
	b.ready[queue] = append(b.ready[queue][:bestIdx], b.ready[queue][bestIdx+1:]...)

	job := b.jobs[id]
	job.State = schemas.JobActive
	job.Attempts++
	b.jobs[id] = job

	if b.active[queue] == nil {
		b.active[queue] = make(map[string]bool)
	}
	b.active[queue][id] = true
	b.leases[id] = now.Add(lease)

	out := job
	return &out, nil
}

func (b *MemoryBackend) Heartbeat(_ context.Context, job schemas.Job, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases[job.ID] = time.Now().Add(lease)
	return nil
}

func (b *MemoryBackend) Requeue(_ context.Context, job schemas.Job, readyAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job.State = schemas.JobPending
	job.ReadyAt = readyAt
	b.jobs[job.ID] = job

	delete(b.active[job.Queue], job.ID)
	delete(b.leases, job.ID)
	b.ready[job.Queue] = append(b.ready[job.Queue], job.ID)
	return nil
}

func (b *MemoryBackend) Finish(_ context.Context, job schemas.Job, state schemas.JobState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job.State = state
	b.jobs[job.ID] = job

	delete(b.active[job.Queue], job.ID)
	delete(b.leases, job.ID)
	if job.Key != "" && b.byKey[job.Key] == job.ID {
		delete(b.byKey, job.Key)
	}
	return nil
}

func (b *MemoryBackend) Stalled(_ context.Context, queue schemas.QueueName) ([]schemas.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var stalled []schemas.Job
	for id := range b.active[queue] {
		if expiry, ok := b.leases[id]; ok && expiry.After(now) {
			continue
		}
		if job, ok := b.jobs[id]; ok {
			stalled = append(stalled, job)
		}
	}
	return stalled, nil
}

func (b *MemoryBackend) Close() error { return nil }

// Job returns a snapshot of a stored job. Tests only.
func (b *MemoryBackend) Job(id string) (schemas.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	return job, ok
}

// PendingCount reports how many jobs are waiting in a queue. Tests only.
func (b *MemoryBackend) PendingCount(queue schemas.QueueName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready[queue])
}

func (b *MemoryBackend) removeReadyLocked(queue schemas.QueueName, id string) {
	list := b.ready[queue]
	for i, candidate := range list {
		if candidate == id {
			b.ready[queue] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

var _ Backend = (*MemoryBackend)(nil)
