// Package interpreter executes one scenario against one live browsing
// session. An interpreter instance lives for exactly one execution and owns
// the step result arena; nothing in here is shared or persisted.
package interpreter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
)

// Interpreter walks a scenario's steps in order. A failing step is
// recorded and skipped; it never aborts the remaining steps.
type Interpreter struct {
	session  *schemas.Session
	scenario *schemas.Scenario
	adapter  schemas.PlatformAdapter
	browser  schemas.BrowserSession
	textgen  schemas.TextGenerator
	recorder schemas.Recorder
	logger   *zap.Logger

	stepDelay       time.Duration
	maxCommentChars int

	results schemas.StepResults
}

// New creates an interpreter for one scenario execution.
func New(
	session *schemas.Session,
	scenario *schemas.Scenario,
	adapter schemas.PlatformAdapter,
	browser schemas.BrowserSession,
	textgen schemas.TextGenerator,
	recorder schemas.Recorder,
	stepDelay time.Duration,
	maxCommentChars int,
	logger *zap.Logger,
) *Interpreter {
	return &Interpreter{
		session:         session,
		scenario:        scenario,
		adapter:         adapter,
		browser:         browser,
		textgen:         textgen,
		recorder:        recorder,
		stepDelay:       stepDelay,
		maxCommentChars: maxCommentChars,
		logger: logger.With(
			zap.String("session_id", session.ID),
			zap.String("scenario", scenario.Name),
		),
		results: make(schemas.StepResults, len(scenario.Steps)),
	}
}

// Run executes every step in order. It returns an error only when the
// context dies; step failures are absorbed per step.
func (it *Interpreter) Run(ctx context.Context) error {
	steps := make([]schemas.InteractionFlowStep, len(it.scenario.Steps))
	copy(steps, it.scenario.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			it.logger.Warn("Scenario execution cancelled",
				zap.Int("completed_steps", i), zap.Error(err))
			return err
		}
		if i > 0 {
			if err := it.pause(ctx); err != nil {
				return err
			}
		}

		logger := it.logger.With(zap.Int("step", step.Number), zap.String("action", string(step.Action)))
		logger.Info("Executing step")

		if err := it.executeStep(ctx, step); err != nil {
			logger.Warn("Step failed, continuing with remaining steps", zap.Error(err))
			continue
		}
		logger.Info("Step complete")
	}
	return nil
}

// Results exposes the step result arena.
func (it *Interpreter) Results() schemas.StepResults {
	return it.results
}

func (it *Interpreter) executeStep(ctx context.Context, step schemas.InteractionFlowStep) error {
	switch step.Action {
	case schemas.ActionSearch:
		return it.runSearch(ctx, step)
	case schemas.ActionLike:
		return it.runLike(ctx, step)
	case schemas.ActionComment:
		return it.runComment(ctx, step)
	case schemas.ActionReply:
		return it.runReply(ctx, step)
	case schemas.ActionReport:
		return it.runReport(ctx, step)
	default:
		return fmt.Errorf("unknown action kind %q in step %d", step.Action, step.Number)
	}
}

// runSearch harvests posts into the arena. Searches leave no interaction
// record; only acting on an entity does.
func (it *Interpreter) runSearch(ctx context.Context, step schemas.InteractionFlowStep) error {
	if step.Query == "" {
		return schemas.ErrMissingQuery
	}
	posts, err := it.adapter.Search(ctx, it.browser, step.Query)
	if err != nil {
		return err
	}
	it.results[step.Number] = schemas.StepOutput{Posts: posts}
	return nil
}

func (it *Interpreter) runLike(ctx context.Context, step schemas.InteractionFlowStep) error {
	post, comment, err := it.resolveTarget(step)
	if err != nil {
		it.record(ctx, step, schemas.Interaction{Success: false, Error: err.Error()})
		return err
	}

	// Liking a comment goes through the same platform surface as a post.
	target := post
	if target == nil {
		target = &schemas.Post{ID: comment.ID, URL: comment.URL, Text: comment.Text}
	}

	actErr := it.adapter.Like(ctx, it.browser, *target)
	it.record(ctx, step, schemas.Interaction{
		EntityType: entityTypeFor(post, comment),
		EntityID:   target.ID,
		EntityURL:  target.URL,
		Success:    actErr == nil,
		Error:      errString(actErr),
	})
	return actErr
}

func (it *Interpreter) runComment(ctx context.Context, step schemas.InteractionFlowStep) error {
	post, comment, err := it.resolveTarget(step)
	if err != nil {
		it.record(ctx, step, schemas.Interaction{Success: false, Error: err.Error()})
		return err
	}
	if post == nil {
		// Commenting "on a comment" means replying to it.
		return it.replyTo(ctx, step, comment)
	}

	text, err := it.textgen.GenerateComment(ctx, schemas.CommentRequest{
		Topic:    topicFor(post),
		MaxChars: it.maxCommentChars,
	})
	if err != nil {
		it.record(ctx, step, schemas.Interaction{
			EntityType: schemas.EntityPost,
			EntityID:   post.ID,
			EntityURL:  post.URL,
			Success:    false,
			Error:      err.Error(),
		})
		return fmt.Errorf("comment generation failed: %w", err)
	}

	actErr := it.adapter.Comment(ctx, it.browser, *post, text)
	it.record(ctx, step, schemas.Interaction{
		EntityType:  schemas.EntityPost,
		EntityID:    post.ID,
		EntityURL:   post.URL,
		CommentText: text,
		Success:     actErr == nil,
		Error:       errString(actErr),
	})
	if actErr != nil {
		return actErr
	}

	// The engine's own comment joins the arena so later steps can reply
	// to it.
	it.results[step.Number] = schemas.StepOutput{Comments: []schemas.Comment{{
		PostID: post.ID,
		URL:    post.URL,
		Text:   text,
	}}}
	return nil
}

func (it *Interpreter) runReply(ctx context.Context, step schemas.InteractionFlowStep) error {
	_, comment, err := it.resolveCommentTarget(step)
	if err != nil {
		it.record(ctx, step, schemas.Interaction{Success: false, Error: err.Error()})
		return err
	}
	return it.replyTo(ctx, step, comment)
}

func (it *Interpreter) replyTo(ctx context.Context, step schemas.InteractionFlowStep, parent *schemas.Comment) error {
	text, err := it.textgen.GenerateComment(ctx, schemas.CommentRequest{
		Topic:      parent.Text,
		ParentText: parent.Text,
		IsReply:    true,
		MaxChars:   it.maxCommentChars,
	})
	if err != nil {
		it.record(ctx, step, schemas.Interaction{
			EntityType: schemas.EntityComment,
			EntityID:   parent.ID,
			EntityURL:  parent.URL,
			ParentID:   parent.ID,
			ParentType: schemas.EntityComment,
			Success:    false,
			Error:      err.Error(),
		})
		return fmt.Errorf("reply generation failed: %w", err)
	}

	actErr := it.adapter.Reply(ctx, it.browser, *parent, text)
	it.record(ctx, step, schemas.Interaction{
		EntityType:  schemas.EntityComment,
		EntityID:    parent.ID,
		EntityURL:   parent.URL,
		CommentText: text,
		ParentID:    parent.ID,
		ParentType:  schemas.EntityComment,
		Success:     actErr == nil,
		Error:       errString(actErr),
	})
	if actErr != nil {
		return actErr
	}

	it.results[step.Number] = schemas.StepOutput{Comments: []schemas.Comment{{
		PostID: parent.PostID,
		URL:    parent.URL,
		Text:   text,
	}}}
	return nil
}

func (it *Interpreter) runReport(ctx context.Context, step schemas.InteractionFlowStep) error {
	post, comment, err := it.resolveTarget(step)
	if err != nil {
		it.record(ctx, step, schemas.Interaction{Success: false, Error: err.Error()})
		return err
	}

	entityURL := ""
	entityID := ""
	if post != nil {
		entityURL, entityID = post.URL, post.ID
	} else {
		entityURL, entityID = comment.URL, comment.ID
	}

	actErr := it.adapter.Report(ctx, it.browser, entityURL)
	it.record(ctx, step, schemas.Interaction{
		EntityType: entityTypeFor(post, comment),
		EntityID:   entityID,
		EntityURL:  entityURL,
		Success:    actErr == nil,
		Error:      errString(actErr),
	})
	return actErr
}

// record fills in the step-invariant fields and appends the interaction.
func (it *Interpreter) record(ctx context.Context, step schemas.InteractionFlowStep, in schemas.Interaction) {
	in.SessionID = it.session.ID
	in.AccountID = it.session.AccountID
	in.StepNumber = step.Number
	in.Action = step.Action
	it.recorder.RecordInteraction(ctx, in)
}

// pause sleeps the configured inter-step delay, honoring cancellation.
func (it *Interpreter) pause(ctx context.Context) error {
	if it.stepDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(it.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func topicFor(post *schemas.Post) string {
	if post.Text != "" {
		return post.Text
	}
	return post.URL
}

func entityTypeFor(post *schemas.Post, _ *schemas.Comment) schemas.EntityType {
	if post != nil {
		return schemas.EntityPost
	}
	return schemas.EntityComment
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
