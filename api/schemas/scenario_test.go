package schemas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetRef(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    *TargetRef
		wantErr bool
	}{
		{name: "empty means fallback", expr: "", want: nil},
		{name: "search results", expr: "search_results[1]", want: &TargetRef{Kind: ResultSearch, Index: 1}},
		{name: "comments", expr: "comments[0]", want: &TargetRef{Kind: ResultComments, Index: 0}},
		{name: "multi digit index", expr: "search_results[12]", want: &TargetRef{Kind: ResultSearch, Index: 12}},
		{name: "unknown kind", expr: "likes[0]", wantErr: true},
		{name: "negative index", expr: "comments[-1]", wantErr: true},
		{name: "missing brackets", expr: "comments", wantErr: true},
		{name: "trailing garbage", expr: "comments[0]x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTargetRef(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestInteractionFlowStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    InteractionFlowStep
		wantErr string
	}{
		{
			name: "valid search",
			step: InteractionFlowStep{Number: 1, Action: ActionSearch, Query: "golang"},
		},
		{
			name:    "search without query",
			step:    InteractionFlowStep{Number: 1, Action: ActionSearch},
			wantErr: "requires a query",
		},
		{
			name: "like with entity type only",
			step: InteractionFlowStep{Number: 2, Action: ActionLike, Entity: EntityPost},
		},
		{
			name: "like with explicit target only",
			step: InteractionFlowStep{Number: 2, Action: ActionLike, Target: "search_results[0]"},
		},
		{
			name:    "like with neither",
			step:    InteractionFlowStep{Number: 2, Action: ActionLike},
			wantErr: "requires a target reference or an entity type",
		},
		{
			name:    "like with malformed target",
			step:    InteractionFlowStep{Number: 2, Action: ActionLike, Target: "nope[0]"},
			wantErr: "malformed target reference",
		},
		{
			name:    "reply without entity type",
			step:    InteractionFlowStep{Number: 3, Action: ActionReply, Target: "comments[0]", GenerateComment: true},
			wantErr: "reply requires an entity type",
		},
		{
			name: "reply fully specified",
			step: InteractionFlowStep{Number: 3, Action: ActionReply, Entity: EntityComment, GenerateComment: true},
		},
		{
			name:    "comment without generation flag",
			step:    InteractionFlowStep{Number: 4, Action: ActionComment, Entity: EntityPost},
			wantErr: "literal comment text is not supported",
		},
		{
			name:    "unknown action",
			step:    InteractionFlowStep{Number: 1, Action: "subscribe"},
			wantErr: "unknown action kind",
		},
		{
			name:    "zero step number",
			step:    InteractionFlowStep{Number: 0, Action: ActionSearch, Query: "x"},
			wantErr: "step number must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestScenarioValidateContiguity(t *testing.T) {
	base := func(nums ...int) Scenario {
		sc := Scenario{ID: "sc-1", Name: "warmup", Version: 1, Platform: PlatformTwitter}
		for _, n := range nums {
			sc.Steps = append(sc.Steps, InteractionFlowStep{Number: n, Action: ActionSearch, Query: "q"})
		}
		return sc
	}

	require.NoError(t, base(1, 2, 3).Validate())
	require.NoError(t, base(3, 1, 2).Validate(), "order in the slice does not matter")

	require.ErrorContains(t, base(1, 3).Validate(), "contiguous")
	require.ErrorContains(t, base(2, 3).Validate(), "missing 1")
	require.ErrorContains(t, base(1, 2, 2).Validate(), "duplicate step number 2")
	require.ErrorContains(t, Scenario{Name: "empty"}.Validate(), "no steps")
}

func TestSessionStatusTerminal(t *testing.T) {
	require.False(t, StatusRunning.Terminal())
	for _, s := range []SessionStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		require.True(t, s.Terminal(), string(s))
	}
}
