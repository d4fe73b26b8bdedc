package interpreter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
)

// fakeAdapter scripts platform responses and records the calls it receives.
type fakeAdapter struct {
	searchResults map[string][]schemas.Post
	failActions   map[schemas.ActionKind]error

	calls []string
}

func (f *fakeAdapter) Platform() schemas.Platform { return schemas.PlatformTwitter }

func (f *fakeAdapter) Login(context.Context, schemas.BrowserSession, *schemas.Credentials) error {
	return nil
}

func (f *fakeAdapter) IsLoggedIn(context.Context, schemas.BrowserSession) (bool, error) {
	return true, nil
}

func (f *fakeAdapter) Search(_ context.Context, _ schemas.BrowserSession, query string) ([]schemas.Post, error) {
	f.calls = append(f.calls, "search:"+query)
	if err := f.failActions[schemas.ActionSearch]; err != nil {
		return nil, err
	}
	return f.searchResults[query], nil
}

func (f *fakeAdapter) Like(_ context.Context, _ schemas.BrowserSession, post schemas.Post) error {
	f.calls = append(f.calls, "like:"+post.ID)
	return f.failActions[schemas.ActionLike]
}

func (f *fakeAdapter) Comment(_ context.Context, _ schemas.BrowserSession, post schemas.Post, text string) error {
	f.calls = append(f.calls, fmt.Sprintf("comment:%s:%s", post.ID, text))
	return f.failActions[schemas.ActionComment]
}

func (f *fakeAdapter) Reply(_ context.Context, _ schemas.BrowserSession, parent schemas.Comment, text string) error {
	f.calls = append(f.calls, fmt.Sprintf("reply:%s:%s", parent.URL, text))
	return f.failActions[schemas.ActionReply]
}

func (f *fakeAdapter) Report(_ context.Context, _ schemas.BrowserSession, entityURL string) error {
	f.calls = append(f.calls, "report:"+entityURL)
	return f.failActions[schemas.ActionReport]
}

// fakeTextgen returns a canned comment.
type fakeTextgen struct {
	text string
	err  error
	reqs []schemas.CommentRequest
}

func (f *fakeTextgen) GenerateComment(_ context.Context, req schemas.CommentRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.text, f.err
}

func (f *fakeTextgen) Close() error { return nil }

// memRecorder collects interactions in memory.
type memRecorder struct {
	interactions []schemas.Interaction
	actions      []schemas.ActionLogEntry
}

func (r *memRecorder) RecordInteraction(_ context.Context, in schemas.Interaction) {
	r.interactions = append(r.interactions, in)
}

func (r *memRecorder) RecordAction(_ context.Context, e schemas.ActionLogEntry) {
	r.actions = append(r.actions, e)
}

func newTestInterpreter(scenario *schemas.Scenario, adapter *fakeAdapter, gen *fakeTextgen, rec *memRecorder) *Interpreter {
	session := &schemas.Session{ID: "sess-1", AccountID: "acct-1", Status: schemas.StatusRunning}
	return New(session, scenario, adapter, nil, gen, rec, 0, 150, zap.NewNop())
}

func scenarioOf(steps ...schemas.InteractionFlowStep) *schemas.Scenario {
	return &schemas.Scenario{
		ID: "scn-1", Name: "engage", Version: 1,
		Platform: schemas.PlatformTwitter, Steps: steps,
	}
}

func TestRunSearchLikeCommentReply(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{
		"golang": {
			{ID: "p1", URL: "https://x.com/a/status/p1", Text: "go is fine"},
			{ID: "p2", URL: "https://x.com/b/status/p2"},
		},
	}}
	gen := &fakeTextgen{text: "agreed, solid point"}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "golang"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionLike, Target: "search_results[1]"},
		schemas.InteractionFlowStep{Number: 3, Action: schemas.ActionComment, Entity: schemas.EntityPost, GenerateComment: true},
		schemas.InteractionFlowStep{Number: 4, Action: schemas.ActionReply, Entity: schemas.EntityComment, GenerateComment: true},
	)
	require.NoError(t, scenario.Validate())

	it := newTestInterpreter(scenario, adapter, gen, rec)
	require.NoError(t, it.Run(context.Background()))

	assert.Equal(t, []string{
		"search:golang",
		"like:p2",
		"comment:p1:agreed, solid point",
		"reply:https://x.com/a/status/p1:agreed, solid point",
	}, adapter.calls)

	// Searches leave no interaction record; the other three steps do.
	require.Len(t, rec.interactions, 3)
	assert.Equal(t, 2, rec.interactions[0].StepNumber)
	assert.Equal(t, schemas.ActionLike, rec.interactions[0].Action)
	assert.True(t, rec.interactions[0].Success)
	assert.Equal(t, "agreed, solid point", rec.interactions[1].CommentText)
	assert.Equal(t, schemas.EntityComment, rec.interactions[2].EntityType)

	// The comment step seeded the arena for the reply step.
	out, ok := it.Results()[3]
	require.True(t, ok)
	require.Len(t, out.Comments, 1)
	assert.Equal(t, "p1", out.Comments[0].PostID)

	// The reply asked the generator for reply-mode text.
	require.Len(t, gen.reqs, 2)
	assert.False(t, gen.reqs[0].IsReply)
	assert.True(t, gen.reqs[1].IsReply)
}

func TestExplicitTargetScansEarlierStepsAscending(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{
		"first":  {{ID: "f0", URL: "u/f0"}},
		"second": {{ID: "s0", URL: "u/s0"}, {ID: "s1", URL: "u/s1"}},
	}}
	rec := &memRecorder{}

	// search_results[1] is not satisfiable by step 1's single result, so
	// the scan moves on to step 2.
	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "first"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionSearch, Query: "second"},
		schemas.InteractionFlowStep{Number: 3, Action: schemas.ActionLike, Target: "search_results[1]"},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	require.NoError(t, it.Run(context.Background()))

	assert.Contains(t, adapter.calls, "like:s1")
}

func TestOutOfRangeTargetDegradesToMostRecent(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{
		"q": {{ID: "p1", URL: "u/p1"}, {ID: "p2", URL: "u/p2"}},
	}}
	rec := &memRecorder{}

	// No step produced a fifth result, so the reference degrades to the
	// most recently produced post.
	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "q"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionLike, Target: "search_results[5]"},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	require.NoError(t, it.Run(context.Background()))

	assert.Equal(t, []string{"search:q", "like:p1"}, adapter.calls)
	require.Len(t, rec.interactions, 1)
	assert.True(t, rec.interactions[0].Success)
}

func TestFallbackPicksMostRecentMatch(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{
		"old": {{ID: "old0", URL: "u/old0"}},
		"new": {{ID: "new0", URL: "u/new0"}},
	}}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "old"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionSearch, Query: "new"},
		schemas.InteractionFlowStep{Number: 3, Action: schemas.ActionLike, Entity: schemas.EntityPost},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	require.NoError(t, it.Run(context.Background()))

	assert.Contains(t, adapter.calls, "like:new0")
	assert.NotContains(t, adapter.calls, "like:old0")
}

func TestMissingTargetIsRecordedAndSkipped(t *testing.T) {
	adapter := &fakeAdapter{}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionLike, Entity: schemas.EntityPost},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionSearch, Query: "later"},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	require.NoError(t, it.Run(context.Background()))

	require.Len(t, rec.interactions, 1)
	assert.False(t, rec.interactions[0].Success)
	assert.Contains(t, rec.interactions[0].Error, schemas.ErrMissingTarget.Error())

	// The failed step did not stop the search step from running.
	assert.Contains(t, adapter.calls, "search:later")
}

func TestStepFailureDoesNotAbortBatch(t *testing.T) {
	adapter := &fakeAdapter{
		searchResults: map[string][]schemas.Post{"q": {{ID: "p1", URL: "u/p1"}}},
		failActions:   map[schemas.ActionKind]error{schemas.ActionLike: errors.New("button moved")},
	}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "q"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionLike, Target: "search_results[0]"},
		schemas.InteractionFlowStep{Number: 3, Action: schemas.ActionReport, Entity: schemas.EntityPost},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	require.NoError(t, it.Run(context.Background()))

	require.Len(t, rec.interactions, 2)
	assert.False(t, rec.interactions[0].Success)
	assert.Equal(t, "button moved", rec.interactions[0].Error)
	assert.True(t, rec.interactions[1].Success)
	assert.Contains(t, adapter.calls, "report:u/p1")
}

func TestGenerationFailureIsRecorded(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{"q": {{ID: "p1", URL: "u/p1"}}}}
	gen := &fakeTextgen{err: errors.New("quota exhausted")}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "q"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionComment, Entity: schemas.EntityPost, GenerateComment: true},
	)
	it := newTestInterpreter(scenario, adapter, gen, rec)
	require.NoError(t, it.Run(context.Background()))

	require.Len(t, rec.interactions, 1)
	assert.False(t, rec.interactions[0].Success)
	// No comment was posted.
	for _, call := range adapter.calls {
		assert.NotContains(t, call, "comment:")
	}
}

func TestRunStopsAtCancellation(t *testing.T) {
	adapter := &fakeAdapter{}
	rec := &memRecorder{}
	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "a"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionSearch, Query: "b"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := newTestInterpreter(scenario, adapter, &fakeTextgen{}, rec)
	err := it.Run(ctx)
	require.Error(t, err)
	assert.Empty(t, adapter.calls, "no step may start after cancellation")
}

func TestReplyRefusesPostTarget(t *testing.T) {
	adapter := &fakeAdapter{searchResults: map[string][]schemas.Post{"q": {{ID: "p1", URL: "u/p1"}}}}
	rec := &memRecorder{}

	scenario := scenarioOf(
		schemas.InteractionFlowStep{Number: 1, Action: schemas.ActionSearch, Query: "q"},
		schemas.InteractionFlowStep{Number: 2, Action: schemas.ActionReply, Target: "search_results[0]", Entity: schemas.EntityComment, GenerateComment: true},
	)
	it := newTestInterpreter(scenario, adapter, &fakeTextgen{text: "hi"}, rec)
	require.NoError(t, it.Run(context.Background()))

	require.Len(t, rec.interactions, 1)
	assert.False(t, rec.interactions[0].Success)
	assert.Contains(t, rec.interactions[0].Error, "needs a comment")
}
