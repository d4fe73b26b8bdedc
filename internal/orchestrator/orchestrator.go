// Package orchestrator owns the session lifecycle: admission against the
// daily quota, acquiring a verified browsing identity, authenticating on
// the platform, dispatching scenario batches, monitoring the dwell-time
// window, and finalizing with a guaranteed identity release.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
	"github.com/m0rphlin/operetta/internal/guardrail"
	"github.com/m0rphlin/operetta/internal/identity"
)

// AdapterFactory returns the platform adapter for a platform.
type AdapterFactory func(p schemas.Platform) (schemas.PlatformAdapter, error)

// Orchestrator coordinates every collaborator a session touches.
type Orchestrator struct {
	cfg      config.Interface
	store    schemas.Store
	queue    schemas.Queue
	identity *identity.Manager
	idsvc    schemas.IdentityService
	creds    schemas.CredentialSource
	browser  schemas.BrowserEngine
	textgen  schemas.TextGenerator
	recorder schemas.Recorder
	adapters AdapterFactory
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]*liveRun
}

// liveRun is the in-process state of one executing session. The session
// worker creates it; the scenario worker reaches the live browser through
// it.
type liveRun struct {
	session *schemas.Session
	account *schemas.Account
	profile *schemas.ProfileRecord
	adapter schemas.PlatformAdapter
	browser schemas.BrowserSession

	cancel    context.CancelFunc
	cancelled bool

	scenarioDone chan struct{}
	doneOnce     sync.Once

	errMu sync.Mutex
	errs  []string
}

func (r *liveRun) markScenarioDone() {
	r.doneOnce.Do(func() { close(r.scenarioDone) })
}

func (r *liveRun) noteError(msg string) {
	if msg == "" {
		return
	}
	r.errMu.Lock()
	r.errs = append(r.errs, msg)
	r.errMu.Unlock()
}

func (r *liveRun) errorLog() []string {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	out := make([]string, len(r.errs))
	copy(out, r.errs)
	return out
}

// New creates an orchestrator.
func New(
	cfg config.Interface,
	store schemas.Store,
	queue schemas.Queue,
	identityMgr *identity.Manager,
	idsvc schemas.IdentityService,
	creds schemas.CredentialSource,
	browser schemas.BrowserEngine,
	textgen schemas.TextGenerator,
	recorder schemas.Recorder,
	adapters AdapterFactory,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		queue:    queue,
		identity: identityMgr,
		idsvc:    idsvc,
		creds:    creds,
		browser:  browser,
		textgen:  textgen,
		recorder: recorder,
		adapters: adapters,
		logger:   logger.With(zap.String("component", "orchestrator")),
		runs:     make(map[string]*liveRun),
	}
}

// CreateSession admits a new session for the account, enforcing the daily
// quota, and enqueues its execution job. ScenarioID may be empty, in which
// case the session worker picks a scenario for the account's platform.
func (o *Orchestrator) CreateSession(ctx context.Context, accountID, scenarioID string) (*schemas.Session, error) {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := time.Now().UTC()
	count, err := o.store.CountSessionsSince(ctx, account.ID, guardrail.DayStartUTC(now))
	if err != nil {
		return nil, fmt.Errorf("failed to count today's sessions: %w", err)
	}
	if err := guardrail.CheckDailyLimit(count, o.cfg.Session().DailyLimit); err != nil {
		return nil, err
	}

	session := &schemas.Session{
		ID:         uuid.New().String(),
		AccountID:  account.ID,
		ScenarioID: scenarioID,
		Status:     schemas.StatusRunning,
		StartedAt:  now,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	err = o.queue.Enqueue(ctx, schemas.Job{
		Queue: schemas.QueueSessions,
		Key:   schemas.SessionJobKey(session.ID),
		Payload: schemas.JobPayload{
			SessionID:  session.ID,
			AccountID:  account.ID,
			ScenarioID: scenarioID,
		},
	})
	if err != nil {
		// The session row stays in running state; the failed-job event path
		// will finalize it if the job never executes.
		return nil, fmt.Errorf("failed to enqueue session job: %w", err)
	}

	o.logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("account_id", account.ID),
		zap.Int("sessions_today", count+1))
	return session, nil
}

// Cancel requests a graceful stop of a session. A session live in this
// process is interrupted at its next step boundary and finalized by its
// worker; one that never started is finalized directly.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	run, live := o.runs[sessionID]
	if live {
		run.cancelled = true
		run.cancel()
	}
	o.mu.Unlock()

	if live {
		o.logger.Info("Cancellation requested for live session", zap.String("session_id", sessionID))
		return nil
	}

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	duration := int(now.Sub(session.StartedAt).Seconds())
	if err := o.store.FinalizeSession(ctx, sessionID, schemas.StatusCancelled, now, duration); err != nil {
		return err
	}
	o.logger.Info("Cancelled queued session", zap.String("session_id", sessionID))
	return nil
}

// WatchJobEvents finalizes sessions whose jobs failed permanently, so a
// crashed-and-exhausted job still leaves a terminal session row. Run it in
// its own goroutine; it exits with the context or when the channel closes.
func (o *Orchestrator) WatchJobEvents(ctx context.Context, events <-chan schemas.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != schemas.JobEventFailed || e.Queue != schemas.QueueSessions {
				continue
			}
			sessionID := strings.TrimPrefix(e.Key, string(schemas.QueueSessions)+":")
			o.logger.Warn("Session job failed permanently",
				zap.String("session_id", sessionID),
				zap.String("error", e.Error))

			session, err := o.store.GetSession(ctx, sessionID)
			if err != nil || session.Status.Terminal() {
				continue
			}
			now := time.Now().UTC()
			duration := int(now.Sub(session.StartedAt).Seconds())
			if err := o.store.FinalizeSession(ctx, sessionID, schemas.StatusFailed, now, duration); err != nil {
				o.logger.Error("Failed to finalize session after job failure",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) registerRun(run *liveRun) {
	o.mu.Lock()
	o.runs[run.session.ID] = run
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterRun(sessionID string) {
	o.mu.Lock()
	delete(o.runs, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(sessionID string) *liveRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[sessionID]
}
