// Package audit appends the engine's immutable interaction records and the
// finer-grained action log. Everything here is best-effort: a failed audit
// write is logged and swallowed, never surfaced to the action it describes.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
)

const actionBufferSize = 256

// Recorder implements schemas.Recorder on top of the relational store.
// Interaction records are written synchronously (they also drive the
// session action counter); action-log entries go through a buffered
// channel drained by a background writer so primitive actions never block
// on audit I/O.
type Recorder struct {
	store  schemas.Store
	logger *zap.Logger

	actionCh chan schemas.ActionLogEntry
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	dropped int
}

// NewRecorder creates a recorder and starts its action-log writer.
func NewRecorder(store schemas.Store, logger *zap.Logger) *Recorder {
	r := &Recorder{
		store:    store,
		logger:   logger.Named("audit"),
		actionCh: make(chan schemas.ActionLogEntry, actionBufferSize),
	}
	r.wg.Add(1)
	go r.drainActions()
	return r
}

// RecordInteraction appends one interaction record and bumps the owning
// session's action count. Errors are logged and swallowed.
func (r *Recorder) RecordInteraction(ctx context.Context, in schemas.Interaction) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	if err := r.store.InsertInteraction(ctx, &in); err != nil {
		r.logger.Warn("Failed to record interaction",
			zap.String("session_id", in.SessionID),
			zap.Int("step", in.StepNumber),
			zap.Error(err))
		return
	}

	if err := r.store.IncrementActionCount(ctx, in.SessionID); err != nil {
		r.logger.Warn("Failed to increment session action count",
			zap.String("session_id", in.SessionID),
			zap.Error(err))
	}
}

// RecordAction queues one action-log entry. When the buffer is full the
// entry is dropped rather than blocking the caller.
func (r *Recorder) RecordAction(_ context.Context, e schemas.ActionLogEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case r.actionCh <- e:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		r.logger.Warn("Action log buffer full, dropping entry",
			zap.String("session_id", e.SessionID),
			zap.String("kind", string(e.Kind)),
			zap.Int("dropped_total", n))
	}
}

// Dropped returns how many action-log entries were discarded due to a full
// buffer.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting action-log entries and drains what is buffered.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.actionCh)
		r.wg.Wait()
	})
}

func (r *Recorder) drainActions() {
	defer r.wg.Done()
	for e := range r.actionCh {
		// Writes use their own deadline, detached from any session context.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.InsertActionLog(ctx, &e); err != nil {
			r.logger.Warn("Failed to persist action log entry",
				zap.String("session_id", e.SessionID),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
		cancel()
	}
}

var _ schemas.Recorder = (*Recorder)(nil)
