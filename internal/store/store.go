package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised against
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.Store. Every method is
// a single statement; there are no cross-entity transactions.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// -- Sessions --

func (s *Store) CreateSession(ctx context.Context, sess *schemas.Session) error {
	sql := `
        INSERT INTO sessions (id, account_id, scenario_id, status, started_at, duration_seconds, action_count)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	_, err := s.pool.Exec(ctx, sql,
		sess.ID, sess.AccountID, sess.ScenarioID, string(sess.Status),
		sess.StartedAt.UTC(), sess.DurationSeconds, sess.ActionCount)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*schemas.Session, error) {
	sql := `
        SELECT id, account_id, scenario_id, status, started_at, ended_at, duration_seconds, action_count
        FROM sessions WHERE id = $1;
    `
	var sess schemas.Session
	var status string
	err := s.pool.QueryRow(ctx, sql, id).Scan(
		&sess.ID, &sess.AccountID, &sess.ScenarioID, &status,
		&sess.StartedAt, &sess.EndedAt, &sess.DurationSeconds, &sess.ActionCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	sess.Status = schemas.SessionStatus(status)
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, accountID string, limit int) ([]schemas.Session, error) {
	sql := `
        SELECT id, account_id, scenario_id, status, started_at, ended_at, duration_seconds, action_count
        FROM sessions WHERE account_id = $1
        ORDER BY started_at DESC LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, sql, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var sessions []schemas.Session
	for rows.Next() {
		var sess schemas.Session
		var status string
		if err := rows.Scan(
			&sess.ID, &sess.AccountID, &sess.ScenarioID, &status,
			&sess.StartedAt, &sess.EndedAt, &sess.DurationSeconds, &sess.ActionCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sess.Status = schemas.SessionStatus(status)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during session row iteration: %w", err)
	}
	return sessions, nil
}

// FinalizeSession moves a running session to a terminal status. The status
// filter makes the update a no-op on a second call, so finalization races
// resolve to whoever got there first.
func (s *Store) FinalizeSession(ctx context.Context, id string, status schemas.SessionStatus, endedAt time.Time, durationSeconds int) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finalize session %s to non-terminal status %q", id, status)
	}
	sql := `
        UPDATE sessions SET status = $2, ended_at = $3, duration_seconds = $4
        WHERE id = $1 AND status = 'running';
    `
	tag, err := s.pool.Exec(ctx, sql, id, string(status), endedAt.UTC(), durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Finalize was a no-op; session already terminal",
			zap.String("session_id", id), zap.String("status", string(status)))
	}
	return nil
}

func (s *Store) IncrementActionCount(ctx context.Context, id string) error {
	sql := `UPDATE sessions SET action_count = action_count + 1 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("failed to increment action count for session %s: %w", id, err)
	}
	return nil
}

func (s *Store) SaveSessionSnapshot(ctx context.Context, id string, snap schemas.SessionSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for session %s: %w", id, err)
	}
	sql := `UPDATE sessions SET snapshot = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, sql, id, payload); err != nil {
		return fmt.Errorf("failed to save snapshot for session %s: %w", id, err)
	}
	return nil
}

// CountSessionsSince counts sessions toward the daily quota. Failed and
// cancelled sessions are excluded so a crashed run does not burn the
// account's allowance.
func (s *Store) CountSessionsSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	sql := `
        SELECT COUNT(*) FROM sessions
        WHERE account_id = $1 AND started_at >= $2 AND status IN ('running', 'completed');
    `
	var count int
	if err := s.pool.QueryRow(ctx, sql, accountID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions for %s: %w", accountID, err)
	}
	return count, nil
}

// -- Profiles --

func (s *Store) LatestProfile(ctx context.Context, accountID string) (*schemas.ProfileRecord, error) {
	sql := `
        SELECT id, account_id, external_id, status, fingerprint, last_used_at, created_at
        FROM profiles WHERE account_id = $1
        ORDER BY created_at DESC LIMIT 1;
    `
	var p schemas.ProfileRecord
	var status string
	var fp []byte
	err := s.pool.QueryRow(ctx, sql, accountID).Scan(
		&p.ID, &p.AccountID, &p.ExternalID, &status, &fp, &p.LastUsedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest profile for %s: %w", accountID, err)
	}
	p.Status = schemas.ProfileStatus(status)
	if err := json.Unmarshal(fp, &p.Fingerprint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fingerprint for profile %s: %w", p.ID, err)
	}
	return &p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *schemas.ProfileRecord) error {
	fp, err := json.Marshal(p.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	sql := `
        INSERT INTO profiles (id, account_id, external_id, status, fingerprint, last_used_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	_, err = s.pool.Exec(ctx, sql,
		p.ID, p.AccountID, p.ExternalID, string(p.Status), fp, p.LastUsedAt, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) SetProfileStatus(ctx context.Context, id string, status schemas.ProfileStatus) error {
	sql := `UPDATE profiles SET status = $2, updated_at = $3 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, sql, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set profile %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s not found", id)
	}
	return nil
}

func (s *Store) TouchProfile(ctx context.Context, id string, usedAt time.Time) error {
	sql := `UPDATE profiles SET last_used_at = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, sql, id, usedAt.UTC()); err != nil {
		return fmt.Errorf("failed to touch profile %s: %w", id, err)
	}
	return nil
}

// -- Accounts & Scenarios --

func (s *Store) GetAccount(ctx context.Context, id string) (*schemas.Account, error) {
	sql := `SELECT id, platform, username FROM accounts WHERE id = $1;`
	var a schemas.Account
	var platform string
	if err := s.pool.QueryRow(ctx, sql, id).Scan(&a.ID, &platform, &a.Username); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to query account %s: %w", id, err)
	}
	a.Platform = schemas.Platform(platform)
	return &a, nil
}

func (s *Store) GetScenario(ctx context.Context, id string) (*schemas.Scenario, error) {
	sql := `SELECT id, name, version, platform, steps FROM scenarios WHERE id = $1;`
	var sc schemas.Scenario
	var platform string
	var steps []byte
	if err := s.pool.QueryRow(ctx, sql, id).Scan(&sc.ID, &sc.Name, &sc.Version, &platform, &steps); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("scenario %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to query scenario %s: %w", id, err)
	}
	sc.Platform = schemas.Platform(platform)
	if err := json.Unmarshal(steps, &sc.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for scenario %s: %w", id, err)
	}
	return &sc, nil
}

func (s *Store) ScenariosByPlatform(ctx context.Context, p schemas.Platform) ([]schemas.Scenario, error) {
	sql := `SELECT id, name, version, platform, steps FROM scenarios WHERE platform = $1 ORDER BY name ASC;`
	rows, err := s.pool.Query(ctx, sql, string(p))
	if err != nil {
		return nil, fmt.Errorf("failed to query scenarios for %s: %w", p, err)
	}
	defer rows.Close()

	var scenarios []schemas.Scenario
	for rows.Next() {
		var sc schemas.Scenario
		var platform string
		var steps []byte
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Version, &platform, &steps); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		sc.Platform = schemas.Platform(platform)
		if err := json.Unmarshal(steps, &sc.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps for scenario %s: %w", sc.ID, err)
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during scenario row iteration: %w", err)
	}
	return scenarios, nil
}

// -- Audit --

func (s *Store) InsertInteraction(ctx context.Context, in *schemas.Interaction) error {
	sql := `
        INSERT INTO interactions (id, session_id, account_id, step_number, action, entity_type, entity_id, entity_url, comment_text, parent_id, parent_type, success, error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
    `
	_, err := s.pool.Exec(ctx, sql,
		in.ID, in.SessionID, in.AccountID, in.StepNumber,
		string(in.Action), string(in.EntityType), in.EntityID, in.EntityURL,
		in.CommentText, in.ParentID, string(in.ParentType),
		in.Success, in.Error, in.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert interaction %s: %w", in.ID, err)
	}
	return nil
}

func (s *Store) InsertActionLog(ctx context.Context, e *schemas.ActionLogEntry) error {
	sql := `
        INSERT INTO action_log (id, session_id, profile_id, account_id, kind, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	_, err := s.pool.Exec(ctx, sql,
		e.ID, e.SessionID, e.ProfileID, e.AccountID, string(e.Kind), e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert action log entry %s: %w", e.ID, err)
	}
	return nil
}

var _ schemas.Store = (*Store)(nil)
