// Package scheduler runs the engine's two durable job queues. Each queue is
// drained by exactly one worker goroutine, so sessions and scenario batches
// execute strictly one at a time. Failed jobs are retried with exponential
// backoff; active jobs that stop heartbeating are recovered once, then
// failed for good.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// HandlerFunc processes one job. A nil return completes the job; an error
// schedules a retry until the attempt budget runs out.
type HandlerFunc func(ctx context.Context, job schemas.Job) error

// Scheduler dispatches jobs from its backend to registered handlers.
type Scheduler struct {
	cfg     config.SchedulerConfig
	backend Backend
	logger  *zap.Logger

	handlers map[schemas.QueueName]HandlerFunc
	events   chan schemas.JobEvent

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stateLock sync.Mutex
	isRunning bool
}

// New creates a scheduler on top of the given backend. Handlers must be
// registered before Start.
func New(cfg config.SchedulerConfig, backend Backend, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		backend:  backend,
		logger:   logger.With(zap.String("component", "scheduler")),
		handlers: make(map[schemas.QueueName]HandlerFunc),
		events:   make(chan schemas.JobEvent, 64),
	}
}

// Register binds a handler to a queue. One handler per queue.
func (s *Scheduler) Register(queue schemas.QueueName, h HandlerFunc) {
	s.handlers[queue] = h
}

// Events exposes terminal job events for observers. The channel is never
// closed and emission is best-effort; slow consumers lose events rather
// than blocking the workers.
func (s *Scheduler) Events() <-chan schemas.JobEvent {
	return s.events
}

// Enqueue fills in job defaults and hands it to the backend. It implements
// schemas.Queue.
func (s *Scheduler) Enqueue(ctx context.Context, job schemas.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = schemas.JobPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.cfg.MaxAttempts
	}
	if job.ReadyAt.IsZero() {
		job.ReadyAt = time.Now()
	}
	if _, ok := s.handlers[job.Queue]; !ok {
		return fmt.Errorf("no handler registered for queue %q", job.Queue)
	}
	return s.backend.Enqueue(ctx, job)
}

// Start launches one worker per registered queue plus the stall reaper.
func (s *Scheduler) Start(ctx context.Context) {
	s.stateLock.Lock()
	if s.isRunning {
		s.stateLock.Unlock()
		s.logger.Warn("Scheduler.Start called, but scheduler is already running.")
		return
	}
	s.isRunning = true
	s.stateLock.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for queue := range s.handlers {
		s.wg.Add(1)
		go s.runWorker(runCtx, queue)
	}
	s.wg.Add(1)
	go s.runReaper(runCtx)

	s.logger.Info("Scheduler started", zap.Int("queues", len(s.handlers)))
}

// Stop cancels the workers and waits for in-flight handlers to return.
func (s *Scheduler) Stop() {
	s.stateLock.Lock()
	if !s.isRunning {
		s.stateLock.Unlock()
		return
	}
	s.stateLock.Unlock()

	s.cancel()
	s.wg.Wait()

	s.stateLock.Lock()
	s.isRunning = false
	s.stateLock.Unlock()
	s.logger.Info("Scheduler stopped gracefully.")
}

// runWorker is the single consumer loop for one queue.
func (s *Scheduler) runWorker(ctx context.Context, queue schemas.QueueName) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("queue", string(queue)))
	logger.Info("Queue worker started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, queue worker shutting down.")
			return
		case <-ticker.C:
			job, err := s.backend.Dequeue(ctx, queue, time.Now(), s.cfg.StallTimeout)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Failed to dequeue job", zap.Error(err))
				}
				continue
			}
			if job == nil {
				continue
			}
			s.execute(ctx, *job, logger)
		}
	}
}

// execute runs the handler for one claimed job while keeping its lease
// alive, then settles the outcome.
func (s *Scheduler) execute(ctx context.Context, job schemas.Job, logger *zap.Logger) {
	logger = logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))
	logger.Info("Processing job", zap.String("key", job.Key))

	handler := s.handlers[job.Queue]
	done := make(chan error, 1)
	go func() {
		done <- handler(ctx, job)
	}()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case err := <-done:
			s.settle(ctx, job, err, logger)
			return
		case <-heartbeat.C:
			if err := s.backend.Heartbeat(ctx, job, s.cfg.StallTimeout); err != nil && ctx.Err() == nil {
				logger.Warn("Failed to extend job lease", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) settle(ctx context.Context, job schemas.Job, handlerErr error, logger *zap.Logger) {
	// Settlement must land even when shutdown cancelled the worker context.
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handlerErr == nil {
		if err := s.backend.Finish(settleCtx, job, schemas.JobCompleted); err != nil {
			logger.Error("Failed to mark job completed", zap.Error(err))
		}
		s.emit(schemas.JobEvent{
			Type:     schemas.JobEventCompleted,
			Queue:    job.Queue,
			JobID:    job.ID,
			Key:      job.Key,
			Attempts: job.Attempts,
		})
		logger.Info("Job completed")
		return
	}

	job.LastError = handlerErr.Error()

	if job.Attempts >= job.MaxAttempts {
		if err := s.backend.Finish(settleCtx, job, schemas.JobFailed); err != nil {
			logger.Error("Failed to mark job failed", zap.Error(err))
		}
		s.emit(schemas.JobEvent{
			Type:     schemas.JobEventFailed,
			Queue:    job.Queue,
			JobID:    job.ID,
			Key:      job.Key,
			Attempts: job.Attempts,
			Error:    handlerErr.Error(),
		})
		logger.Error("Job failed permanently", zap.Error(handlerErr))
		return
	}

	delay := s.retryDelay(job.Attempts)
	if err := s.backend.Requeue(settleCtx, job, time.Now().Add(delay)); err != nil {
		logger.Error("Failed to requeue job for retry", zap.Error(err))
		return
	}
	logger.Warn("Job failed, retrying",
		zap.Duration("delay", delay),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Error(handlerErr))
}

// retryDelay doubles the base delay for every attempt already spent.
func (s *Scheduler) retryDelay(attempts int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// runReaper periodically recovers jobs whose workers went quiet. A job gets
// exactly one recovery; a second stall fails it.
func (s *Scheduler) runReaper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for queue := range s.handlers {
				s.reapQueue(ctx, queue)
			}
		}
	}
}

func (s *Scheduler) reapQueue(ctx context.Context, queue schemas.QueueName) {
	stalled, err := s.backend.Stalled(ctx, queue)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to scan for stalled jobs",
				zap.String("queue", string(queue)), zap.Error(err))
		}
		return
	}

	for _, job := range stalled {
		logger := s.logger.With(zap.String("queue", string(queue)), zap.String("job_id", job.ID))
		if job.StalledOnce {
			job.LastError = "job stalled twice"
			if err := s.backend.Finish(ctx, job, schemas.JobFailed); err != nil {
				logger.Error("Failed to fail twice-stalled job", zap.Error(err))
				continue
			}
			s.emit(schemas.JobEvent{
				Type:     schemas.JobEventFailed,
				Queue:    queue,
				JobID:    job.ID,
				Key:      job.Key,
				Attempts: job.Attempts,
				Error:    job.LastError,
			})
			logger.Error("Job stalled twice, marked failed")
			continue
		}

		job.StalledOnce = true
		if err := s.backend.Requeue(ctx, job, time.Now()); err != nil {
			logger.Error("Failed to recover stalled job", zap.Error(err))
			continue
		}
		logger.Warn("Recovered stalled job", zap.Int("attempt", job.Attempts))
	}
}

func (s *Scheduler) emit(e schemas.JobEvent) {
	select {
	case s.events <- e:
	default:
	}
}

var _ schemas.Queue = (*Scheduler)(nil)
