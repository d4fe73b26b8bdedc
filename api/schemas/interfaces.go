package schemas

import (
	"context"
	"time"
)

// -- Store Interface --

// Store is the synchronous CRUD boundary over the relational store. No
// transaction spans more than one entity; each call stands alone.
type Store interface {
	// CreateSession persists a new session in its initial state.
	CreateSession(ctx context.Context, s *Session) error
	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns the most recent sessions for an account.
	ListSessions(ctx context.Context, accountID string, limit int) ([]Session, error)
	// FinalizeSession sets the terminal status, end time and duration. It
	// only applies to sessions still in running status, which makes repeat
	// calls idempotent in effect.
	FinalizeSession(ctx context.Context, id string, status SessionStatus, endedAt time.Time, durationSeconds int) error
	// IncrementActionCount bumps the session's action counter by one.
	IncrementActionCount(ctx context.Context, id string) error
	// SaveSessionSnapshot stores the finalize-time diagnostic snapshot.
	SaveSessionSnapshot(ctx context.Context, id string, snap SessionSnapshot) error
	// CountSessionsSince counts an account's sessions started at or after
	// the cutoff in running or completed status. Failed and cancelled
	// sessions do not count toward quotas.
	CountSessionsSince(ctx context.Context, accountID string, since time.Time) (int, error)

	// LatestProfile returns the most recently created profile record for
	// the account, or nil when none exists.
	LatestProfile(ctx context.Context, accountID string) (*ProfileRecord, error)
	// CreateProfile persists a new profile record.
	CreateProfile(ctx context.Context, p *ProfileRecord) error
	// SetProfileStatus applies a status transition and updates the record's
	// timestamp.
	SetProfileStatus(ctx context.Context, id string, status ProfileStatus) error
	// TouchProfile updates the record's last-used timestamp.
	TouchProfile(ctx context.Context, id string, usedAt time.Time) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*Account, error)
	// GetScenario retrieves a scenario by ID.
	GetScenario(ctx context.Context, id string) (*Scenario, error)
	// ScenariosByPlatform lists all scenarios targeting a platform.
	ScenariosByPlatform(ctx context.Context, p Platform) ([]Scenario, error)

	// InsertInteraction appends an immutable interaction record.
	InsertInteraction(ctx context.Context, in *Interaction) error
	// InsertActionLog appends an action-log entry.
	InsertActionLog(ctx context.Context, e *ActionLogEntry) error
}

// -- Scheduler Interfaces --

// Queue accepts jobs for durable, retried execution. Enqueueing a job whose
// key matches a pending job replaces that job instead of adding a second.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// -- External Collaborator Interfaces --

// IdentityService is the anti-detect identity provisioning API.
type IdentityService interface {
	// Create provisions a new external browsing identity and returns its
	// external ID.
	Create(ctx context.Context, fp Fingerprint) (string, error)
	// Start boots the identity's browser and returns the CDP websocket
	// endpoint to attach to.
	Start(ctx context.Context, externalID string) (string, error)
	// Stop shuts the identity's browser down.
	Stop(ctx context.Context, externalID string) error
	// Verify probes the identity. It returns ErrStaleIdentity when the
	// service no longer knows the external ID.
	Verify(ctx context.Context, externalID string) error
}

// CredentialSource returns decrypted login material for an account.
// Encryption at rest is the credential store's concern, not the engine's.
type CredentialSource interface {
	GetDecryptedCredentials(ctx context.Context, accountID string) (*Credentials, error)
}

// BrowserEngine opens browsing sessions against a remote browser endpoint.
type BrowserEngine interface {
	Open(ctx context.Context, endpoint string) (BrowserSession, error)
	Shutdown(ctx context.Context) error
}

// BrowserSession is one attached browser the engine drives. Every
// operation carries its own bounded timeout; any may fail with a transport
// or selector error.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Text(ctx context.Context, selector string) (string, error)
	Links(ctx context.Context, selector string) ([]string, error)
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	Close(ctx context.Context) error
}

// PlatformAdapter is the per-platform capability surface the interpreter
// and orchestrator drive. Implementations hold no shared mutable state;
// all context arrives through the session argument.
type PlatformAdapter interface {
	Platform() Platform
	Login(ctx context.Context, sess BrowserSession, creds *Credentials) error
	IsLoggedIn(ctx context.Context, sess BrowserSession) (bool, error)
	Search(ctx context.Context, sess BrowserSession, query string) ([]Post, error)
	Like(ctx context.Context, sess BrowserSession, post Post) error
	Comment(ctx context.Context, sess BrowserSession, post Post, text string) error
	Reply(ctx context.Context, sess BrowserSession, parent Comment, text string) error
	Report(ctx context.Context, sess BrowserSession, entityURL string) error
}

// -- Text Generation --

// CommentRequest describes the content the generator should produce.
type CommentRequest struct {
	// Topic is what the comment should be about, usually the target post's
	// text or the scenario's search query.
	Topic string
	// ParentText is the content being replied to, when IsReply is set.
	ParentText string
	IsReply    bool
	// MaxChars caps the generated text length.
	MaxChars int
}

// TextGenerator produces short platform comment content.
type TextGenerator interface {
	GenerateComment(ctx context.Context, req CommentRequest) (string, error)
	Close() error
}

// -- Audit --

// Recorder appends audit records. Implementations are best-effort: a
// failed write is logged and swallowed so it can never abort the action it
// describes, which is why these methods return nothing.
type Recorder interface {
	RecordInteraction(ctx context.Context, in Interaction)
	RecordAction(ctx context.Context, e ActionLogEntry)
}
