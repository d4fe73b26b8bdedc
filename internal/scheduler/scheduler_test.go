package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Backend:           "memory",
		MaxAttempts:       3,
		BackoffBase:       10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		StallTimeout:      60 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

// collector gathers handler invocations for assertions.
type collector struct {
	mu   sync.Mutex
	jobs []schemas.Job
}

func (c *collector) record(job schemas.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerCompletesJob(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(testConfig(), backend, zap.NewNop())

	var got collector
	s.Register(schemas.QueueSessions, func(_ context.Context, job schemas.Job) error {
		got.record(job)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	job := schemas.Job{
		Queue:   schemas.QueueSessions,
		Key:     schemas.SessionJobKey("sess-1"),
		Payload: schemas.JobPayload{SessionID: "sess-1", AccountID: "acct-1"},
	}
	require.NoError(t, s.Enqueue(context.Background(), job))

	waitFor(t, func() bool { return got.count() == 1 })
	assert.Equal(t, "sess-1", got.jobs[0].Payload.SessionID)
	assert.Equal(t, 1, got.jobs[0].Attempts)

	select {
	case e := <-s.Events():
		assert.Equal(t, schemas.JobEventCompleted, e.Type)
		assert.Equal(t, schemas.SessionJobKey("sess-1"), e.Key)
	case <-time.After(time.Second):
		t.Fatal("expected a completed event")
	}
}

func TestSchedulerRetriesUntilExhausted(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(testConfig(), backend, zap.NewNop())

	var got collector
	s.Register(schemas.QueueSessions, func(_ context.Context, job schemas.Job) error {
		got.record(job)
		return errors.New("login page changed")
	})

	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Enqueue(context.Background(), schemas.Job{
		Queue: schemas.QueueSessions,
		Key:   schemas.SessionJobKey("sess-2"),
	}))

	waitFor(t, func() bool { return got.count() == 3 })

	var failed *schemas.JobEvent
	deadline := time.After(2 * time.Second)
	for failed == nil {
		select {
		case e := <-s.Events():
			if e.Type == schemas.JobEventFailed {
				failed = &e
			}
		case <-deadline:
			t.Fatal("expected a failed event")
		}
	}
	assert.Equal(t, 3, failed.Attempts)
	assert.Contains(t, failed.Error, "login page changed")

	// No fourth attempt after exhaustion.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, got.count())
}

func TestSchedulerRetryDelayGrows(t *testing.T) {
	s := New(testConfig(), NewMemoryBackend(), zap.NewNop())

	assert.Equal(t, 10*time.Millisecond, s.retryDelay(1))
	assert.Equal(t, 20*time.Millisecond, s.retryDelay(2))
	assert.Equal(t, 40*time.Millisecond, s.retryDelay(3))
}

func TestSchedulerQueueConcurrencyIsOne(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(testConfig(), backend, zap.NewNop())

	var mu sync.Mutex
	inFlight, maxInFlight, total := 0, 0, 0
	s.Register(schemas.QueueScenarios, func(_ context.Context, _ schemas.Job) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		total++
		mu.Unlock()
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Enqueue(context.Background(), schemas.Job{
			Queue: schemas.QueueScenarios,
			Key:   schemas.ScenarioJobKey("sess-" + string(rune('a'+i))),
		}))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 4
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "scenario jobs must run strictly one at a time")
}

func TestSchedulerEnqueueReplacesPendingByKey(t *testing.T) {
	backend := NewMemoryBackend()
	cfg := testConfig()
	s := New(cfg, backend, zap.NewNop())
	s.Register(schemas.QueueScenarios, func(_ context.Context, _ schemas.Job) error { return nil })

	// Not started, so both enqueues land while the queue is idle.
	key := schemas.ScenarioJobKey("sess-9")
	require.NoError(t, s.Enqueue(context.Background(), schemas.Job{
		Queue:   schemas.QueueScenarios,
		Key:     key,
		Payload: schemas.JobPayload{ScenarioID: "scn-old"},
	}))
	require.NoError(t, s.Enqueue(context.Background(), schemas.Job{
		Queue:   schemas.QueueScenarios,
		Key:     key,
		Payload: schemas.JobPayload{ScenarioID: "scn-new"},
	}))

	require.Equal(t, 1, backend.PendingCount(schemas.QueueScenarios))

	job, err := backend.Dequeue(context.Background(), schemas.QueueScenarios, time.Now(), cfg.StallTimeout)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "scn-new", job.Payload.ScenarioID)
}

func TestEnqueueDroppedWhileKeyedJobActive(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	key := schemas.SessionJobKey("sess-busy")

	require.NoError(t, backend.Enqueue(ctx, schemas.Job{
		ID:          "job-first",
		Queue:       schemas.QueueSessions,
		Key:         key,
		State:       schemas.JobPending,
		MaxAttempts: 3,
		ReadyAt:     time.Now().Add(-time.Second),
	}))
	claimed, err := backend.Dequeue(ctx, schemas.QueueSessions, time.Now(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// The keyed work is running; re-enqueueing must not add a second copy.
	require.NoError(t, backend.Enqueue(ctx, schemas.Job{
		ID:    "job-second",
		Queue: schemas.QueueSessions,
		Key:   key,
		State: schemas.JobPending,
	}))
	assert.Equal(t, 0, backend.PendingCount(schemas.QueueSessions))
	_, ok := backend.Job("job-second")
	assert.False(t, ok, "enqueue against an active key must be dropped")

	// Finishing the running job frees the key for the next enqueue.
	require.NoError(t, backend.Finish(ctx, *claimed, schemas.JobCompleted))
	require.NoError(t, backend.Enqueue(ctx, schemas.Job{
		ID:    "job-third",
		Queue: schemas.QueueSessions,
		Key:   key,
		State: schemas.JobPending,
	}))
	assert.Equal(t, 1, backend.PendingCount(schemas.QueueSessions))
}

func TestSchedulerEnqueueRejectsUnknownQueue(t *testing.T) {
	s := New(testConfig(), NewMemoryBackend(), zap.NewNop())
	err := s.Enqueue(context.Background(), schemas.Job{Queue: "mystery"})
	require.Error(t, err)
}

func TestReaperRecoversStalledJobOnce(t *testing.T) {
	backend := NewMemoryBackend()
	cfg := testConfig()
	s := New(cfg, backend, zap.NewNop())
	s.Register(schemas.QueueSessions, func(_ context.Context, _ schemas.Job) error { return nil })

	ctx := context.Background()

	// Claim a job with an already-lapsed lease to simulate a dead worker.
	require.NoError(t, backend.Enqueue(ctx, schemas.Job{
		ID:          "job-stall",
		Queue:       schemas.QueueSessions,
		Key:         schemas.SessionJobKey("sess-stall"),
		State:       schemas.JobPending,
		MaxAttempts: 3,
		ReadyAt:     time.Now().Add(-time.Second),
	}))
	claimed, err := backend.Dequeue(ctx, schemas.QueueSessions, time.Now(), -time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s.reapQueue(ctx, schemas.QueueSessions)

	job, ok := backend.Job("job-stall")
	require.True(t, ok)
	assert.Equal(t, schemas.JobPending, job.State)
	assert.True(t, job.StalledOnce)

	// Stall it a second time: now it must fail instead of recovering.
	claimed, err = backend.Dequeue(ctx, schemas.QueueSessions, time.Now(), -time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s.reapQueue(ctx, schemas.QueueSessions)

	job, ok = backend.Job("job-stall")
	require.True(t, ok)
	assert.Equal(t, schemas.JobFailed, job.State)
}
