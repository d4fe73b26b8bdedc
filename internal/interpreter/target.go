package interpreter

import (
	"fmt"

	"github.com/m0rphlin/operetta/api/schemas"
)

// resolveTarget finds the entity a step acts on. Explicit references like
// "search_results[2]" scan earlier steps in ascending order and take the
// first one whose output satisfies the index; a reference no earlier step
// satisfies degrades to the fallback rule. Steps without a reference take
// the most recently produced matching entity.
func (it *Interpreter) resolveTarget(step schemas.InteractionFlowStep) (*schemas.Post, *schemas.Comment, error) {
	ref, err := schemas.ParseTargetRef(step.Target)
	if err != nil {
		return nil, nil, err
	}
	if ref != nil {
		return it.resolveExplicit(step.Number, *ref, step.Entity)
	}
	return it.resolveFallback(step.Number, step.Entity)
}

// resolveCommentTarget is resolveTarget constrained to comments; replies
// cannot land on a bare post.
func (it *Interpreter) resolveCommentTarget(step schemas.InteractionFlowStep) (*schemas.Post, *schemas.Comment, error) {
	post, comment, err := it.resolveTarget(step)
	if err != nil {
		return nil, nil, err
	}
	if comment == nil {
		return nil, nil, fmt.Errorf("%w: step %d resolved to a post, but %s needs a comment",
			schemas.ErrMissingTarget, step.Number, step.Action)
	}
	return post, comment, nil
}

func (it *Interpreter) resolveExplicit(currentStep int, ref schemas.TargetRef, entity schemas.EntityType) (*schemas.Post, *schemas.Comment, error) {
	for n := 1; n < currentStep; n++ {
		out, ok := it.results[n]
		if !ok {
			continue
		}
		switch ref.Kind {
		case schemas.ResultSearch:
			if ref.Index < len(out.Posts) {
				post := out.Posts[ref.Index]
				return &post, nil, nil
			}
		case schemas.ResultComments:
			if ref.Index < len(out.Comments) {
				comment := out.Comments[ref.Index]
				return nil, &comment, nil
			}
		}
	}
	// An out-of-range reference degrades to the most-recent rule. The
	// reference's kind constrains the entity when the step itself does not.
	if entity == "" {
		switch ref.Kind {
		case schemas.ResultSearch:
			entity = schemas.EntityPost
		case schemas.ResultComments:
			entity = schemas.EntityComment
		}
	}
	return it.resolveFallback(currentStep, entity)
}

func (it *Interpreter) resolveFallback(currentStep int, entity schemas.EntityType) (*schemas.Post, *schemas.Comment, error) {
	for n := currentStep - 1; n >= 1; n-- {
		out, ok := it.results[n]
		if !ok {
			continue
		}
		switch entity {
		case schemas.EntityPost:
			if len(out.Posts) > 0 {
				post := out.Posts[0]
				return &post, nil, nil
			}
		case schemas.EntityComment:
			if len(out.Comments) > 0 {
				comment := out.Comments[0]
				return nil, &comment, nil
			}
		default:
			// No entity constraint: take whatever the step produced,
			// posts first.
			if len(out.Posts) > 0 {
				post := out.Posts[0]
				return &post, nil, nil
			}
			if len(out.Comments) > 0 {
				comment := out.Comments[0]
				return nil, &comment, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: no earlier step produced a usable %s",
		schemas.ErrMissingTarget, entityOrAny(entity))
}

func entityOrAny(e schemas.EntityType) string {
	if e == "" {
		return "entity"
	}
	return string(e)
}
