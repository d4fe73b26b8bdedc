package schemas

import "time"

// -- Job Schemas --

// QueueName identifies one of the scheduler's durable queues.
type QueueName string

const (
	QueueSessions  QueueName = "sessions"
	QueueScenarios QueueName = "scenarios"
)

// JobState is the lifecycle state of a scheduled job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobPayload carries the identifiers a handler needs to run a session or a
// scenario. ScenarioID is empty for session jobs.
type JobPayload struct {
	SessionID  string `json:"session_id"`
	AccountID  string `json:"account_id"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// Job is one unit of durable, retryable work.
type Job struct {
	ID          string     `json:"id"`
	Queue       QueueName  `json:"queue"`
	Key         string     `json:"key"`
	Payload     JobPayload `json:"payload"`
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ReadyAt     time.Time  `json:"ready_at"`
	// StalledOnce records that the job was already recovered from a missed
	// heartbeat; a second stall marks it failed instead of recovering again.
	StalledOnce bool   `json:"stalled_once,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// SessionJobKey derives the deterministic job key for a session job.
// Re-enqueuing with the same key replaces the pending job.
func SessionJobKey(sessionID string) string {
	return string(QueueSessions) + ":" + sessionID
}

// ScenarioJobKey derives the deterministic job key for the latest scenario
// job of a session.
func ScenarioJobKey(sessionID string) string {
	return string(QueueScenarios) + ":" + sessionID
}

// JobEventType classifies a scheduler lifecycle event.
type JobEventType string

const (
	JobEventCompleted JobEventType = "completed"
	JobEventFailed    JobEventType = "failed"
)

// JobEvent is emitted for observability when a job reaches a terminal
// state. Consumers must not be required for engine correctness.
type JobEvent struct {
	Type     JobEventType `json:"type"`
	Queue    QueueName    `json:"queue"`
	JobID    string       `json:"job_id"`
	Key      string       `json:"key"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}
