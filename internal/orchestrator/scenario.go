package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/interpreter"
)

// HandleScenarioJob is the scenarios-queue handler. It runs the session's
// scenario batch against the live browser held by the session worker in
// this process: the scenario named in the payload, or every scenario
// registered for the account's platform when the payload names none.
// Scenario jobs do not survive a process restart on their own.
func (o *Orchestrator) HandleScenarioJob(ctx context.Context, job schemas.Job) error {
	run := o.run(job.Payload.SessionID)
	if run == nil {
		return fmt.Errorf("session %s is not live in this process", job.Payload.SessionID)
	}

	scenarios, err := o.scenariosForJob(ctx, run, job.Payload.ScenarioID)
	if err != nil {
		run.noteError(err.Error())
		return err
	}

	for _, scenario := range scenarios {
		logger := o.logger.With(
			zap.String("session_id", run.session.ID),
			zap.String("scenario_id", scenario.ID))

		if err := scenario.Validate(); err != nil {
			// A malformed scenario stays malformed; retrying buys nothing.
			logger.Error("Scenario failed validation", zap.Error(err))
			run.noteError(fmt.Sprintf("scenario %s invalid: %v", scenario.ID, err))
			continue
		}

		logger.Info("Executing scenario batch", zap.Int("steps", len(scenario.Steps)))

		interp := interpreter.New(
			run.session,
			&scenario,
			run.adapter,
			run.browser,
			o.textgen,
			&errorSink{Recorder: o.recorder, run: run},
			o.cfg.Session().StepDelay,
			o.cfg.LLM().MaxCommentChars,
			o.logger,
		)
		if err := interp.Run(ctx); err != nil {
			run.markScenarioDone()
			return err
		}
		logger.Info("Scenario batch complete")
	}

	run.markScenarioDone()
	return nil
}

func (o *Orchestrator) scenariosForJob(ctx context.Context, run *liveRun, scenarioID string) ([]schemas.Scenario, error) {
	if scenarioID != "" {
		scenario, err := o.store.GetScenario(ctx, scenarioID)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenario: %w", err)
		}
		return []schemas.Scenario{*scenario}, nil
	}

	scenarios, err := o.store.ScenariosByPlatform(ctx, run.account.Platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios registered for platform %s", run.account.Platform)
	}
	return scenarios, nil
}

// errorSink tees interaction errors into the live run's error log so the
// finalize-time ban scan sees what the platform said.
type errorSink struct {
	schemas.Recorder
	run *liveRun
}

func (s *errorSink) RecordInteraction(ctx context.Context, in schemas.Interaction) {
	if in.Error != "" {
		s.run.noteError(in.Error)
	}
	s.Recorder.RecordInteraction(ctx, in)
}
