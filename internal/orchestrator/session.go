package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/audit"
	"github.com/m0rphlin/operetta/internal/guardrail"
)

// finalizeTimeout bounds the persistence and release work done when a
// session ends. It runs on a background context so a dead job context
// cannot leave an identity running.
const finalizeTimeout = 30 * time.Second

// HandleSessionJob is the sessions-queue handler. It acquires an identity,
// attaches to its browser, logs in, dispatches the scenario batch and then
// monitors the dwell-time window until the session ends.
//
// Failures propagate to the scheduler for retry. Once a failure has
// finalized the session, the terminal-status guard turns any replay into
// a no-op.
func (o *Orchestrator) HandleSessionJob(ctx context.Context, job schemas.Job) error {
	session, err := o.store.GetSession(ctx, job.Payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	logger := o.logger.With(zap.String("session_id", session.ID))

	if session.Status.Terminal() {
		logger.Info("Session already finalized, skipping replay",
			zap.String("status", string(session.Status)))
		return nil
	}

	account, err := o.store.GetAccount(ctx, session.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	adapter, err := o.adapters(account.Platform)
	if err != nil {
		// A platform this build does not support will not appear on retry.
		logger.Error("No adapter for account platform", zap.String("platform", string(account.Platform)))
		o.finalizeRow(ctx, session, schemas.StatusFailed)
		return nil
	}

	profile, err := o.identity.GetValidProfileForUser(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to acquire browsing identity: %w", err)
	}

	profile, browserSess, err := o.attachBrowser(ctx, account.ID, profile)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &liveRun{
		session: session,
		account: account,
		profile: profile,
		adapter: adapter,
		browser: audit.InstrumentSession(browserSess, o.recorder, session.ID, profile.ID, account.ID),
		cancel:  cancel,

		scenarioDone: make(chan struct{}),
	}
	o.registerRun(run)
	defer o.unregisterRun(session.ID)
	defer cancel()

	logger = logger.With(zap.String("profile_id", profile.ID))
	logger.Info("Session worker attached to identity browser")

	if err := o.login(runCtx, run); err != nil {
		run.noteError(err.Error())
		logger.Error("Platform login failed, ending session", zap.Error(err))
		o.finalize(run, schemas.StatusFailed)
		return fmt.Errorf("platform login failed: %w", err)
	}

	if err := o.dispatchScenario(runCtx, run); err != nil {
		run.noteError(err.Error())
		logger.Error("Failed to dispatch scenario batch", zap.Error(err))
		o.finalize(run, schemas.StatusFailed)
		return fmt.Errorf("failed to dispatch scenario batch: %w", err)
	}

	status := o.monitor(runCtx, run)
	o.finalize(run, status)
	return nil
}

// attachBrowser starts the profile's browser and opens a session against
// its CDP endpoint. A failed attach expires the profile and retries once
// with a rotated identity.
func (o *Orchestrator) attachBrowser(ctx context.Context, accountID string, profile *schemas.ProfileRecord) (*schemas.ProfileRecord, schemas.BrowserSession, error) {
	sess, err := o.startAndOpen(ctx, profile)
	if err == nil {
		return profile, sess, nil
	}

	o.logger.Warn("Failed to attach to identity browser, rotating identity",
		zap.String("profile_id", profile.ID), zap.Error(err))
	if markErr := o.identity.MarkProfileExpired(ctx, profile.ID); markErr != nil {
		o.logger.Error("Failed to expire unreachable profile",
			zap.String("profile_id", profile.ID), zap.Error(markErr))
	}

	fresh, err := o.identity.GetValidProfileForUser(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rotate browsing identity: %w", err)
	}
	sess, err = o.startAndOpen(ctx, fresh)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach after identity rotation: %w", err)
	}
	return fresh, sess, nil
}

func (o *Orchestrator) startAndOpen(ctx context.Context, profile *schemas.ProfileRecord) (schemas.BrowserSession, error) {
	endpoint, err := o.idsvc.Start(ctx, profile.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to start identity browser: %w", err)
	}
	sess, err := o.browser.Open(ctx, endpoint)
	if err != nil {
		if stopErr := o.idsvc.Stop(ctx, profile.ExternalID); stopErr != nil {
			o.logger.Warn("Failed to stop identity after open failure",
				zap.String("profile_id", profile.ID), zap.Error(stopErr))
		}
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	return sess, nil
}

// login fetches decrypted credentials and authenticates on the platform.
// An identity whose cookies still hold skips the login flow entirely.
func (o *Orchestrator) login(ctx context.Context, run *liveRun) error {
	creds, err := o.creds.GetDecryptedCredentials(ctx, run.account.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch credentials: %w", err)
	}

	if ok, err := run.adapter.IsLoggedIn(ctx, run.browser); err == nil && ok {
		o.logger.Info("Existing platform session still authenticated",
			zap.String("session_id", run.session.ID))
	} else if err := run.adapter.Login(ctx, run.browser, creds); err != nil {
		return err
	}

	if err := o.identity.UpdateLastUsed(ctx, run.profile.ID); err != nil {
		o.logger.Warn("Failed to update profile last-used timestamp",
			zap.String("profile_id", run.profile.ID), zap.Error(err))
	}
	return nil
}

// dispatchScenario enqueues the session's scenario batch on the scenarios
// queue. An empty scenario ID is passed through; the scenario handler then
// runs every scenario registered for the account's platform.
func (o *Orchestrator) dispatchScenario(ctx context.Context, run *liveRun) error {
	return o.queue.Enqueue(ctx, schemas.Job{
		Queue: schemas.QueueScenarios,
		Key:   schemas.ScenarioJobKey(run.session.ID),
		Payload: schemas.JobPayload{
			SessionID:  run.session.ID,
			AccountID:  run.account.ID,
			ScenarioID: run.session.ScenarioID,
		},
	})
}

// monitor holds the session open through its dwell-time window. It returns
// the terminal status the session should be finalized with: completed once
// the scenario is done and the minimum dwell has passed, completed at the
// hard ceiling regardless, cancelled or failed when the context dies first.
func (o *Orchestrator) monitor(ctx context.Context, run *liveRun) schemas.SessionStatus {
	sessionCfg := o.cfg.Session()
	ticker := time.NewTicker(sessionCfg.MonitorInterval)
	defer ticker.Stop()

	done := run.scenarioDone
	scenarioFinished := false

	for {
		select {
		case <-ctx.Done():
			if run.cancelled {
				return schemas.StatusCancelled
			}
			run.noteError(fmt.Sprintf("session context ended: %v", ctx.Err()))
			return schemas.StatusFailed

		case <-done:
			scenarioFinished = true
			done = nil

		case now := <-ticker.C:
			report := guardrail.CheckSessionDuration(
				run.session.StartedAt, now.UTC(), sessionCfg.MinDuration, sessionCfg.MaxDuration)
			if report.MustEnd() {
				o.logger.Info("Session hit maximum duration",
					zap.String("session_id", run.session.ID),
					zap.Duration("elapsed", report.Elapsed))
				return schemas.StatusCompleted
			}
			if scenarioFinished && report.MayEnd() {
				return schemas.StatusCompleted
			}
		}
	}
}

// finalize persists the terminal state and releases every resource the run
// holds. It always runs to the end; individual failures are logged, never
// propagated, so the identity release cannot be skipped.
func (o *Orchestrator) finalize(run *liveRun, status schemas.SessionStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	logger := o.logger.With(
		zap.String("session_id", run.session.ID),
		zap.String("status", string(status)))

	defer func() {
		if err := run.browser.Close(ctx); err != nil {
			logger.Warn("Failed to close browser session", zap.Error(err))
		}
		if err := o.idsvc.Stop(ctx, run.profile.ExternalID); err != nil {
			logger.Warn("Failed to stop identity browser", zap.Error(err))
		}
	}()

	o.scanForBan(ctx, run)

	snap := o.captureSnapshot(ctx, run)

	now := time.Now().UTC()
	duration := int(now.Sub(run.session.StartedAt).Seconds())
	if err := o.store.FinalizeSession(ctx, run.session.ID, status, now, duration); err != nil {
		logger.Error("Failed to finalize session row", zap.Error(err))
	}
	if snap != nil {
		if err := o.store.SaveSessionSnapshot(ctx, run.session.ID, *snap); err != nil {
			logger.Warn("Failed to save session snapshot", zap.Error(err))
		}
	}

	for _, msg := range run.errorLog() {
		o.recorder.RecordAction(ctx, schemas.ActionLogEntry{
			SessionID: run.session.ID,
			ProfileID: run.profile.ID,
			AccountID: run.account.ID,
			Kind:      schemas.ActionSessionError,
			Detail:    msg,
		})
	}

	logger.Info("Session finalized", zap.Int("duration_seconds", duration))
}

// finalizeRow marks a session terminal when no resources were ever
// acquired for it.
func (o *Orchestrator) finalizeRow(ctx context.Context, session *schemas.Session, status schemas.SessionStatus) {
	now := time.Now().UTC()
	duration := int(now.Sub(session.StartedAt).Seconds())
	if err := o.store.FinalizeSession(ctx, session.ID, status, now, duration); err != nil {
		o.logger.Error("Failed to finalize session row",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

// captureSnapshot grabs the browser's current URL and cookies for the
// finalize-time diagnostic snapshot. Best effort; a dead browser yields
// nothing.
func (o *Orchestrator) captureSnapshot(ctx context.Context, run *liveRun) *schemas.SessionSnapshot {
	url, urlErr := run.browser.CurrentURL(ctx)
	cookies, cookieErr := run.browser.Cookies(ctx)
	if urlErr != nil && cookieErr != nil {
		o.logger.Debug("Skipping session snapshot, browser unreachable",
			zap.String("session_id", run.session.ID))
		return nil
	}
	return &schemas.SessionSnapshot{
		URL:        url,
		Cookies:    cookies,
		CapturedAt: time.Now().UTC(),
	}
}
