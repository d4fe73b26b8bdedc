package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/m0rphlin/operetta/api/schemas"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 3, cfg.Scheduler().MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Scheduler().BackoffBase)
	require.Equal(t, 30*time.Second, cfg.Scheduler().StallTimeout)

	require.Equal(t, 8*time.Minute, cfg.Session().MinDuration)
	require.Equal(t, 15*time.Minute, cfg.Session().MaxDuration)
	require.Equal(t, 3, cfg.Session().DailyLimit)
	require.Equal(t, time.Minute, cfg.Session().MonitorInterval)

	require.Equal(t, 150, cfg.LLM().MaxCommentChars)
	require.ElementsMatch(t, []string{"win", "mac", "lin"}, cfg.Identity().OSes)
}

func TestPlatformSelectorFallback(t *testing.T) {
	cfg := NewDefaultConfig()

	tw := cfg.Platform(schemas.PlatformTwitter)
	require.Equal(t, "https://x.com", tw.BaseURL)
	require.Equal(t, "div.default", tw.Selector("missing", "div.default"))

	tw.Selectors = map[string]string{"like_button": "[data-testid=like]"}
	require.Equal(t, "[data-testid=like]", tw.Selector("like_button", "div.default"))

	// Unknown platforms yield a zero config rather than a panic.
	require.Empty(t, cfg.Platform(schemas.Platform("myspace")).BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.SchedulerCfg.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "stall below heartbeat",
			mutate:  func(c *Config) { c.SchedulerCfg.StallTimeout = time.Second },
			wantErr: "stall_timeout",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.SchedulerCfg.Backend = "sqs" },
			wantErr: "scheduler.backend",
		},
		{
			name:    "inverted durations",
			mutate:  func(c *Config) { c.SessionCfg.MaxDuration = c.SessionCfg.MinDuration },
			wantErr: "min_duration < max_duration",
		},
		{
			name:    "no timezones",
			mutate:  func(c *Config) { c.IdentityCfg.Timezones = nil },
			wantErr: "identity.oses and identity.timezones",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("session.daily_limit", 5)
	v.Set("scheduler.backend", "memory")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Session().DailyLimit)
	require.Equal(t, "memory", cfg.Scheduler().Backend)
}
