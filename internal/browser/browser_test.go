package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConvertCookies(t *testing.T) {
	raw := []*network.Cookie{
		{
			Name:     "session_token",
			Value:    "abc123",
			Domain:   ".x.com",
			Path:     "/",
			Expires:  1767225600.5,
			Secure:   true,
			HTTPOnly: true,
		},
		{
			Name:    "transient",
			Value:   "v",
			Expires: -1,
		},
		nil,
	}

	cookies := convertCookies(raw)
	require.Len(t, cookies, 2)

	assert.Equal(t, "session_token", cookies[0].Name)
	assert.Equal(t, ".x.com", cookies[0].Domain)
	assert.True(t, cookies[0].Secure)
	assert.True(t, cookies[0].HTTPOnly)
	assert.Equal(t, 2026, cookies[0].Expires.Year())

	assert.Equal(t, "transient", cookies[1].Name)
	assert.True(t, cookies[1].Expires.IsZero(), "session cookies carry no expiry")
}

func TestOpenRequiresEndpoint(t *testing.T) {
	e := NewEngine(zap.NewNop())
	_, err := e.Open(context.Background(), "")
	require.Error(t, err)
}

func TestShutdownWithNoSessions(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestSessionRefusesWorkAfterClose(t *testing.T) {
	taskCtx, cancel := context.WithCancel(context.Background())
	s := newSession(taskCtx, zap.NewNop())
	s.onClose = cancel

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "close is idempotent")

	err := s.Navigate(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser session is closed")
}
