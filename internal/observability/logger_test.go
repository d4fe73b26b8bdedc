package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/m0rphlin/operetta/internal/config"
)

// syncBuffer is a minimal WriteSyncer capturing console output.
type syncBuffer struct {
	strings.Builder
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "operetta-test"}, buf)

	first := GetLogger()
	require.NotNil(t, first)

	// A second Initialize must not replace the stored logger.
	Initialize(config.LoggerConfig{Level: "error", Format: "console", ServiceName: "other"}, buf)
	require.Same(t, first, GetLogger())

	first.Info("session monitor tick")
	require.Contains(t, buf.String(), "session monitor tick")
	require.Contains(t, buf.String(), "operetta-test")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	// Without initialization we still get a usable logger.
	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Debug("fallback logger is usable")
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "shouting", Format: "json", ServiceName: "t"}, buf)

	logger := GetLogger()
	logger.Debug("should be filtered at info level")
	logger.Info("should appear")

	out := buf.String()
	require.NotContains(t, out, "should be filtered")
	require.Contains(t, out, "should appear")
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
