package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// fakeStore keeps profile records in memory, newest first.
type fakeStore struct {
	schemas.Store
	profiles []schemas.ProfileRecord
	statuses map[string]schemas.ProfileStatus
	touched  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: map[string]schemas.ProfileStatus{},
		touched:  map[string]time.Time{},
	}
}

func (s *fakeStore) LatestProfile(_ context.Context, accountID string) (*schemas.ProfileRecord, error) {
	for i := len(s.profiles) - 1; i >= 0; i-- {
		if s.profiles[i].AccountID == accountID {
			p := s.profiles[i]
			if status, ok := s.statuses[p.ID]; ok {
				p.Status = status
			}
			return &p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateProfile(_ context.Context, p *schemas.ProfileRecord) error {
	s.profiles = append(s.profiles, *p)
	return nil
}

func (s *fakeStore) SetProfileStatus(_ context.Context, id string, status schemas.ProfileStatus) error {
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) TouchProfile(_ context.Context, id string, usedAt time.Time) error {
	s.touched[id] = usedAt
	return nil
}

// fakeService is an IdentityService with injectable behavior.
type fakeService struct {
	createFn func(fp schemas.Fingerprint) (string, error)
	verifyFn func(externalID string) error
}

func (f *fakeService) Create(_ context.Context, fp schemas.Fingerprint) (string, error) {
	if f.createFn != nil {
		return f.createFn(fp)
	}
	return "ext-new", nil
}

func (f *fakeService) Start(context.Context, string) (string, error) { return "", nil }
func (f *fakeService) Stop(context.Context, string) error            { return nil }

func (f *fakeService) Verify(_ context.Context, externalID string) error {
	if f.verifyFn != nil {
		return f.verifyFn(externalID)
	}
	return nil
}

func testIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Browser:   "chrome",
		Language:  "en-US",
		OSes:      []string{"win", "mac", "lin"},
		Timezones: []string{"America/New_York", "Europe/Berlin"},
	}
}

func TestGetValidProfileCreatesWhenNoneExists(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeService{}, testIdentityConfig(), zap.NewNop())

	p, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, schemas.ProfileActive, p.Status)
	assert.Equal(t, "ext-new", p.ExternalID)
	assert.Equal(t, "chrome", p.Fingerprint.Browser)
	assert.Contains(t, []string{"win", "mac", "lin"}, p.Fingerprint.OS)
	require.Len(t, store.profiles, 1)
}

func TestGetValidProfileReturnsVerifiedActive(t *testing.T) {
	store := newFakeStore()
	existing := schemas.ProfileRecord{
		ID: "prof-1", AccountID: "acct-1", ExternalID: "ext-1",
		Status: schemas.ProfileActive,
	}
	store.profiles = append(store.profiles, existing)

	var verified string
	svc := &fakeService{verifyFn: func(id string) error {
		verified = id
		return nil
	}}
	m := NewManager(store, svc, testIdentityConfig(), zap.NewNop())

	p, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "prof-1", p.ID)
	assert.Equal(t, "ext-1", verified)
	assert.Len(t, store.profiles, 1, "no replacement should be created")
}

func TestGetValidProfileRotatesStaleActive(t *testing.T) {
	store := newFakeStore()
	fp := schemas.Fingerprint{OS: "mac", Browser: "chrome", Timezone: "Europe/Berlin", Language: "en-US"}
	store.profiles = append(store.profiles, schemas.ProfileRecord{
		ID: "prof-1", AccountID: "acct-1", ExternalID: "ext-stale",
		Status: schemas.ProfileActive, Fingerprint: fp,
	})

	svc := &fakeService{
		verifyFn: func(string) error { return schemas.ErrStaleIdentity },
		createFn: func(got schemas.Fingerprint) (string, error) {
			assert.Equal(t, fp, got, "replacement inherits the stale profile's fingerprint")
			return "ext-fresh", nil
		},
	}
	m := NewManager(store, svc, testIdentityConfig(), zap.NewNop())

	p, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-fresh", p.ExternalID)
	assert.Equal(t, schemas.ProfileExpired, store.statuses["prof-1"], "stale record must be expired, not revived")
	require.Len(t, store.profiles, 2)
}

func TestGetValidProfileReplacesBannedWithFreshFingerprint(t *testing.T) {
	store := newFakeStore()
	burned := schemas.Fingerprint{OS: "win", Browser: "chrome", Timezone: "America/New_York", Language: "en-US"}
	store.profiles = append(store.profiles, schemas.ProfileRecord{
		ID: "prof-1", AccountID: "acct-1", ExternalID: "ext-banned",
		Status: schemas.ProfileBanned, Fingerprint: burned,
	})

	m := NewManager(store, &fakeService{}, testIdentityConfig(), zap.NewNop())

	p, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.ProfileActive, p.Status)
	assert.Empty(t, store.statuses["prof-1"], "banned record must not be touched")
	require.Len(t, store.profiles, 2)
}

func TestGetValidProfileWrapsProvisioningFailure(t *testing.T) {
	store := newFakeStore()
	svc := &fakeService{createFn: func(schemas.Fingerprint) (string, error) {
		return "", errors.New("provider down")
	}}
	m := NewManager(store, svc, testIdentityConfig(), zap.NewNop())

	_, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrIdentityUnavailable))
}

func TestGetValidProfileVerifyTransportErrorIsNotRotation(t *testing.T) {
	store := newFakeStore()
	store.profiles = append(store.profiles, schemas.ProfileRecord{
		ID: "prof-1", AccountID: "acct-1", ExternalID: "ext-1",
		Status: schemas.ProfileActive,
	})
	svc := &fakeService{verifyFn: func(string) error {
		return errors.New("connection refused")
	}}
	m := NewManager(store, svc, testIdentityConfig(), zap.NewNop())

	_, err := m.GetValidProfileForUser(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Empty(t, store.statuses["prof-1"], "a transport error must not expire the profile")
	assert.Len(t, store.profiles, 1)
}

func TestUpdateLastUsed(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeService{}, testIdentityConfig(), zap.NewNop())

	require.NoError(t, m.UpdateLastUsed(context.Background(), "prof-1"))
	assert.False(t, store.touched["prof-1"].IsZero())
}

func TestGenerateFingerprintStaysInConfiguredPools(t *testing.T) {
	cfg := testIdentityConfig()
	for i := 0; i < 20; i++ {
		fp := GenerateFingerprint(cfg)
		assert.Equal(t, "chrome", fp.Browser)
		assert.Equal(t, "en-US", fp.Language)
		assert.Contains(t, cfg.OSes, fp.OS)
		assert.Contains(t, cfg.Timezones, fp.Timezone)
	}
}
