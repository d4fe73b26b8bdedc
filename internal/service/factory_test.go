package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/internal/config"
)

func TestCreateRequiresDatabaseURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.DatabaseCfg.URL = ""

	_, err := NewComponentFactory().Create(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPERETTA_DATABASE_URL")
}

func TestNewBackendSelection(t *testing.T) {
	cfg := config.NewDefaultConfig()

	cfg.SetSchedulerBackend("memory")
	backend, err := newBackend(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, backend)
	require.NoError(t, backend.Close())

	cfg.SetSchedulerBackend("carrier-pigeon")
	_, err = newBackend(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestShutdownToleratesEmptyComponents(t *testing.T) {
	c := &Components{}
	assert.NotPanics(t, c.Shutdown)
}
