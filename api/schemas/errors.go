package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --

var (
	// ErrQuotaExceeded is returned when an account has reached its daily
	// session cap.
	ErrQuotaExceeded = errors.New("daily session quota exceeded")

	// ErrIdentityUnavailable is returned when identity rotation attempts
	// are exhausted without producing a usable browsing identity.
	ErrIdentityUnavailable = errors.New("no usable browsing identity available")

	// ErrAuthenticationFailed is returned when platform login fails. It is
	// fatal to the session.
	ErrAuthenticationFailed = errors.New("platform authentication failed")

	// ErrMissingTarget is returned when a step requires a target entity and
	// resolution produced none.
	ErrMissingTarget = errors.New("step target could not be resolved")

	// ErrMissingQuery is returned when a search step carries no query text.
	ErrMissingQuery = errors.New("search step missing query")

	// ErrStaleIdentity is returned when the identity service no longer
	// knows the external identity a profile record points at.
	ErrStaleIdentity = errors.New("browsing identity not found upstream")
)

// PlatformActionError wraps a failure from the platform adapter boundary so
// callers can tell adapter failures apart from engine failures.
type PlatformActionError struct {
	Platform Platform
	Action   ActionKind
	Err      error
}

func (e *PlatformActionError) Error() string {
	return fmt.Sprintf("platform action %s/%s failed: %v", e.Platform, e.Action, e.Err)
}

func (e *PlatformActionError) Unwrap() error { return e.Err }
