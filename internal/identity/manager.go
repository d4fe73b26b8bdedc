// Package identity manages the lifecycle of anti-detect browsing profiles.
// Each account owns at most one usable profile at a time; expired or banned
// records are never revived, they are replaced with a fresh row so the full
// identity history stays in the store.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// Manager reconciles profile records in the store with the identities the
// external provider actually holds.
type Manager struct {
	store   schemas.Store
	service schemas.IdentityService
	cfg     config.IdentityConfig
	logger  *zap.Logger
}

// NewManager creates an identity manager.
func NewManager(store schemas.Store, service schemas.IdentityService, cfg config.IdentityConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		service: service,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "identity")),
	}
}

// GetValidProfileForUser returns an ACTIVE profile record whose external
// identity is confirmed to still exist upstream. A stale ACTIVE record is
// expired and replaced; terminal records get a replacement without being
// touched.
func (m *Manager) GetValidProfileForUser(ctx context.Context, accountID string) (*schemas.ProfileRecord, error) {
	latest, err := m.store.LatestProfile(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest profile for %s: %w", accountID, err)
	}
	if latest == nil {
		return m.EnsureProfileForUser(ctx, accountID)
	}

	switch latest.Status {
	case schemas.ProfileActive:
		err := m.service.Verify(ctx, latest.ExternalID)
		if err == nil {
			return latest, nil
		}
		if !errors.Is(err, schemas.ErrStaleIdentity) {
			return nil, fmt.Errorf("failed to verify profile %s upstream: %w", latest.ID, err)
		}
		m.logger.Warn("Profile no longer known upstream, rotating",
			zap.String("profile_id", latest.ID),
			zap.String("external_id", latest.ExternalID))
		if err := m.MarkProfileExpired(ctx, latest.ID); err != nil {
			return nil, err
		}
		return m.createProfile(ctx, accountID, latest.Fingerprint)

	case schemas.ProfileExpired:
		// Keep the fingerprint stable across an expiry rotation so the
		// account does not look like a new machine overnight.
		return m.createProfile(ctx, accountID, latest.Fingerprint)

	case schemas.ProfileBanned, schemas.ProfileDeleted:
		return m.createProfile(ctx, accountID, GenerateFingerprint(m.cfg))

	default:
		return nil, fmt.Errorf("profile %s has unknown status %q", latest.ID, latest.Status)
	}
}

// EnsureProfileForUser creates a profile record for the account, inheriting
// the most recent fingerprint when one exists.
func (m *Manager) EnsureProfileForUser(ctx context.Context, accountID string) (*schemas.ProfileRecord, error) {
	latest, err := m.store.LatestProfile(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest profile for %s: %w", accountID, err)
	}

	fp := GenerateFingerprint(m.cfg)
	if latest != nil && latest.Status != schemas.ProfileBanned {
		fp = latest.Fingerprint
	}
	return m.createProfile(ctx, accountID, fp)
}

// MarkProfileExpired transitions a profile to EXPIRED.
func (m *Manager) MarkProfileExpired(ctx context.Context, profileID string) error {
	if err := m.store.SetProfileStatus(ctx, profileID, schemas.ProfileExpired); err != nil {
		return fmt.Errorf("failed to expire profile %s: %w", profileID, err)
	}
	m.logger.Info("Profile marked expired", zap.String("profile_id", profileID))
	return nil
}

// MarkProfileBanned transitions a profile to BANNED.
func (m *Manager) MarkProfileBanned(ctx context.Context, profileID string) error {
	if err := m.store.SetProfileStatus(ctx, profileID, schemas.ProfileBanned); err != nil {
		return fmt.Errorf("failed to ban profile %s: %w", profileID, err)
	}
	m.logger.Warn("Profile marked banned", zap.String("profile_id", profileID))
	return nil
}

// UpdateLastUsed stamps the profile's last-used time.
func (m *Manager) UpdateLastUsed(ctx context.Context, profileID string) error {
	if err := m.store.TouchProfile(ctx, profileID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to touch profile %s: %w", profileID, err)
	}
	return nil
}

func (m *Manager) createProfile(ctx context.Context, accountID string, fp schemas.Fingerprint) (*schemas.ProfileRecord, error) {
	externalID, err := m.service.Create(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("%w: provisioning failed: %v", schemas.ErrIdentityUnavailable, err)
	}

	record := &schemas.ProfileRecord{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		ExternalID:  externalID,
		Status:      schemas.ProfileActive,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateProfile(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist profile record for %s: %w", accountID, err)
	}

	m.logger.Info("Created profile record",
		zap.String("profile_id", record.ID),
		zap.String("account_id", accountID),
		zap.String("external_id", externalID))
	return record, nil
}
