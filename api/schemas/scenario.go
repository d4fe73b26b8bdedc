package schemas

import (
	"fmt"
	"regexp"
	"strconv"
)

// -- Scenario Schemas --

// ActionKind is the kind of platform action a step performs.
type ActionKind string

const (
	ActionSearch  ActionKind = "search"
	ActionLike    ActionKind = "like"
	ActionComment ActionKind = "comment"
	ActionReply   ActionKind = "reply"
	ActionReport  ActionKind = "report"
)

// EntityType narrows which kind of platform entity a step acts on.
type EntityType string

const (
	EntityPost    EntityType = "post"
	EntityComment EntityType = "comment"
)

// ResultKind names a class of entities an earlier step may have produced.
type ResultKind string

const (
	ResultSearch   ResultKind = "search_results"
	ResultComments ResultKind = "comments"
)

var targetRefPattern = regexp.MustCompile(`^(search_results|comments)\[(\d+)\]$`)

// TargetRef is a parsed explicit target reference of the form
// "search_results[2]" or "comments[0]".
type TargetRef struct {
	Kind  ResultKind
	Index int
}

// ParseTargetRef parses an explicit target reference expression. It returns
// (nil, nil) for an empty expression, which means "use the fallback rule".
func ParseTargetRef(expr string) (*TargetRef, error) {
	if expr == "" {
		return nil, nil
	}
	m := targetRefPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("malformed target reference %q", expr)
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("malformed target index in %q: %w", expr, err)
	}
	return &TargetRef{Kind: ResultKind(m[1]), Index: idx}, nil
}

// InteractionFlowStep is one ordered step of a scenario. Fields beyond
// Number and Action are required or forbidden depending on the action kind;
// Validate enforces the combination so malformed steps are rejected before
// execution rather than duck-typed at runtime.
type InteractionFlowStep struct {
	Number int        `json:"step_number"`
	Action ActionKind `json:"action"`
	Entity EntityType `json:"entity_type,omitempty"`
	// Query is the search text. Required for search, ignored otherwise.
	Query string `json:"query,omitempty"`
	// Target is an optional explicit target reference expression.
	Target string `json:"target,omitempty"`
	// GenerateComment must be true for comment/reply steps; literal comment
	// text is not supported.
	GenerateComment bool `json:"generate_comment,omitempty"`
}

// Validate checks the step's field combination against its action kind.
func (s InteractionFlowStep) Validate() error {
	if s.Number < 1 {
		return fmt.Errorf("step number must be >= 1, got %d", s.Number)
	}
	switch s.Action {
	case ActionSearch:
		if s.Query == "" {
			return fmt.Errorf("step %d: search requires a query", s.Number)
		}
	case ActionLike, ActionComment, ActionReply, ActionReport:
		if s.Target == "" && s.Entity == "" {
			return fmt.Errorf("step %d: %s requires a target reference or an entity type", s.Number, s.Action)
		}
		if s.Target != "" {
			if _, err := ParseTargetRef(s.Target); err != nil {
				return fmt.Errorf("step %d: %w", s.Number, err)
			}
		}
		if s.Action == ActionReply && s.Entity == "" {
			return fmt.Errorf("step %d: reply requires an entity type", s.Number)
		}
		if (s.Action == ActionComment || s.Action == ActionReply) && !s.GenerateComment {
			return fmt.Errorf("step %d: %s requires generate_comment; literal comment text is not supported", s.Number, s.Action)
		}
	default:
		return fmt.Errorf("step %d: unknown action kind %q", s.Number, s.Action)
	}
	if s.Entity != "" && s.Entity != EntityPost && s.Entity != EntityComment {
		return fmt.Errorf("step %d: unknown entity type %q", s.Number, s.Entity)
	}
	return nil
}

// Scenario is a named, versioned, ordered script of interaction steps for
// one platform. Scenarios are authored externally and are read-only at
// execution time.
type Scenario struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Version  int                   `json:"version"`
	Platform Platform              `json:"platform"`
	Steps    []InteractionFlowStep `json:"steps"`
}

// Validate checks that step numbers form the contiguous sequence 1..N and
// that every step is individually well formed.
func (sc Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	seen := make(map[int]bool, len(sc.Steps))
	for _, step := range sc.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		if seen[step.Number] {
			return fmt.Errorf("scenario %q: duplicate step number %d", sc.Name, step.Number)
		}
		seen[step.Number] = true
	}
	for n := 1; n <= len(sc.Steps); n++ {
		if !seen[n] {
			return fmt.Errorf("scenario %q: step numbers must be contiguous 1..%d, missing %d", sc.Name, len(sc.Steps), n)
		}
	}
	return nil
}
