package schemas

import "time"

// -- Platform & Account Schemas --

// Platform identifies the external platform a scenario or account targets.
type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformReddit  Platform = "reddit"
)

// Account is the acting account on whose behalf sessions run. Accounts are
// provisioned externally; the engine only reads them.
type Account struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	Username string   `json:"username"`
}

// Credentials holds the decrypted login material returned by the credential
// store. Any field may be empty; adapters decide what they need.
type Credentials struct {
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Password string   `json:"password,omitempty"`
	Cookies  []Cookie `json:"cookies,omitempty"`
}

// Cookie is a minimal browser cookie representation used for session
// snapshots and cookie-based re-authentication.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// -- Session Schemas --

// SessionStatus is the lifecycle state of a session. A session starts in
// StatusRunning and transitions exactly once to a terminal state.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one bounded, audited execution window for an account.
// Sessions are never deleted; they are retained for audit.
type Session struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	ScenarioID      string        `json:"scenario_id,omitempty"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	ActionCount     int           `json:"action_count"`
}

// SessionSnapshot captures browsing-session state at finalize time for
// diagnostics.
type SessionSnapshot struct {
	URL        string    `json:"url,omitempty"`
	Cookies    []Cookie  `json:"cookies,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// -- Profile (Browsing Identity) Schemas --

// ProfileStatus is the lifecycle state of a browsing identity. EXPIRED and
// BANNED are terminal; a replacement record is created instead of reviving
// an old one.
type ProfileStatus string

const (
	ProfileActive  ProfileStatus = "ACTIVE"
	ProfileExpired ProfileStatus = "EXPIRED"
	ProfileBanned  ProfileStatus = "BANNED"
	ProfileDeleted ProfileStatus = "DELETED"
)

// Fingerprint is the anti-detect fingerprint configuration a browsing
// identity is provisioned with.
type Fingerprint struct {
	OS       string `json:"os"`
	Browser  string `json:"browser"`
	Timezone string `json:"timezone"`
	Language string `json:"language"`
}

// ProfileRecord represents one anti-detect browsing identity bound to
// exactly one account.
type ProfileRecord struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"account_id"`
	ExternalID  string        `json:"external_id"`
	Status      ProfileStatus `json:"status"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// -- Platform Entity Schemas --

// Post is a platform post surfaced by a search step.
type Post struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Comment is a platform comment, either harvested alongside a post or
// produced by the engine itself.
type Comment struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
	URL    string `json:"url"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text,omitempty"`
}

// StepOutput is what a single step contributed to the result arena.
type StepOutput struct {
	Posts    []Post
	Comments []Comment
}

// StepResults maps step number to that step's output. It lives for exactly
// one scenario execution and is never persisted.
type StepResults map[int]StepOutput

// -- Audit Schemas --

// Interaction is an immutable record of one attempted platform action.
// One row per executed step outcome, not per retry.
type Interaction struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	AccountID   string     `json:"account_id"`
	StepNumber  int        `json:"step_number"`
	Action      ActionKind `json:"action"`
	EntityType  EntityType `json:"entity_type,omitempty"`
	EntityID    string     `json:"entity_id,omitempty"`
	EntityURL   string     `json:"entity_url,omitempty"`
	CommentText string     `json:"comment_text,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	ParentType  EntityType `json:"parent_type,omitempty"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ActionLogKind classifies a primitive automation action.
type ActionLogKind string

const (
	ActionNavigate     ActionLogKind = "navigate"
	ActionClick        ActionLogKind = "click"
	ActionType         ActionLogKind = "type"
	ActionWait         ActionLogKind = "wait"
	ActionCustom       ActionLogKind = "custom"
	ActionSessionError ActionLogKind = "session_error"
)

// ActionLogEntry is a best-effort trace of one primitive automation action,
// scoped to a session/identity/account triple.
type ActionLogEntry struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	ProfileID string        `json:"profile_id,omitempty"`
	AccountID string        `json:"account_id,omitempty"`
	Kind      ActionLogKind `json:"kind"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
