// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/m0rphlin/operetta/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// Components take this instead of the concrete struct so tests can inject
// fixtures.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Redis() RedisConfig
	Scheduler() SchedulerConfig
	Session() SessionConfig
	Identity() IdentityConfig
	CredentialStore() CredentialStoreConfig
	LLM() LLMConfig
	Platform(p schemas.Platform) PlatformConfig

	SetSchedulerBackend(string)
	SetSessionDailyLimit(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig              `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig            `mapstructure:"database" yaml:"database"`
	RedisCfg      RedisConfig               `mapstructure:"redis" yaml:"redis"`
	SchedulerCfg  SchedulerConfig           `mapstructure:"scheduler" yaml:"scheduler"`
	SessionCfg    SessionConfig             `mapstructure:"session" yaml:"session"`
	IdentityCfg   IdentityConfig            `mapstructure:"identity" yaml:"identity"`
	CredentialCfg CredentialStoreConfig     `mapstructure:"credential_store" yaml:"credential_store"`
	LLMCfg        LLMConfig                 `mapstructure:"llm" yaml:"llm"`
	PlatformsCfg  map[string]PlatformConfig `mapstructure:"platforms" yaml:"platforms"`
}

// -- Interface Method Implementations --

func (c *Config) Logger() LoggerConfig                   { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig               { return c.DatabaseCfg }
func (c *Config) Redis() RedisConfig                     { return c.RedisCfg }
func (c *Config) Scheduler() SchedulerConfig             { return c.SchedulerCfg }
func (c *Config) Session() SessionConfig                 { return c.SessionCfg }
func (c *Config) Identity() IdentityConfig               { return c.IdentityCfg }
func (c *Config) CredentialStore() CredentialStoreConfig { return c.CredentialCfg }
func (c *Config) LLM() LLMConfig                         { return c.LLMCfg }

// Platform returns the per-platform settings, falling back to an empty
// config for platforms with no overrides.
func (c *Config) Platform(p schemas.Platform) PlatformConfig {
	return c.PlatformsCfg[string(p)]
}

func (c *Config) SetSchedulerBackend(b string) { c.SchedulerCfg.Backend = b }
func (c *Config) SetSessionDailyLimit(n int)   { c.SessionCfg.DailyLimit = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the relational store connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RedisConfig holds the connection details for the scheduler's durable
// queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SchedulerConfig tunes the durable job scheduler.
type SchedulerConfig struct {
	// Backend selects the queue backend: "redis" or "memory".
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	StallTimeout      time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SessionConfig bounds session behavior.
type SessionConfig struct {
	MinDuration     time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	DailyLimit      int           `mapstructure:"daily_limit" yaml:"daily_limit"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
	// StepDelay is the fixed human-plausible pause inserted between
	// scenario steps.
	StepDelay time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
}

// IdentityConfig configures the anti-detect identity service client and
// fingerprint generation.
type IdentityConfig struct {
	ServiceURL string        `mapstructure:"service_url" yaml:"service_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"-"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Browser and Language are fixed across generated fingerprints; OS and
	// Timezone are drawn uniformly from OSes/Timezones.
	Browser   string   `mapstructure:"browser" yaml:"browser"`
	Language  string   `mapstructure:"language" yaml:"language"`
	OSes      []string `mapstructure:"oses" yaml:"oses"`
	Timezones []string `mapstructure:"timezones" yaml:"timezones"`
}

// CredentialStoreConfig configures the external credential store client.
type CredentialStoreConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LLMConfig defines the text-generation service settings.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// MaxCommentChars caps generated comment length.
	MaxCommentChars int `mapstructure:"max_comment_chars" yaml:"max_comment_chars"`
	// RequestsPerSecond bounds the call rate to the generation API.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// PlatformConfig holds per-platform URLs and DOM selectors. Selectors are
// volatile by nature; they live in config so operators can patch them
// without a rebuild.
type PlatformConfig struct {
	BaseURL   string            `mapstructure:"base_url" yaml:"base_url"`
	LoginURL  string            `mapstructure:"login_url" yaml:"login_url"`
	SearchURL string            `mapstructure:"search_url" yaml:"search_url"`
	Selectors map[string]string `mapstructure:"selectors" yaml:"selectors"`
}

// Selector returns a named selector or the provided default.
func (p PlatformConfig) Selector(name, fallback string) string {
	if s, ok := p.Selectors[name]; ok && s != "" {
		return s
	}
	return fallback
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults below, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "operetta")
	v.SetDefault("logger.log_file", "operetta.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Redis --
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// -- Scheduler --
	v.SetDefault("scheduler.backend", "redis")
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base", "2s")
	v.SetDefault("scheduler.heartbeat_interval", "10s")
	v.SetDefault("scheduler.stall_timeout", "30s")
	v.SetDefault("scheduler.poll_interval", "500ms")

	// -- Session Guardrails --
	v.SetDefault("session.min_duration", "8m")
	v.SetDefault("session.max_duration", "15m")
	v.SetDefault("session.daily_limit", 3)
	v.SetDefault("session.monitor_interval", "1m")
	v.SetDefault("session.step_delay", "5s")

	// -- Identity --
	v.SetDefault("identity.timeout", "30s")
	v.SetDefault("identity.browser", "chrome")
	v.SetDefault("identity.language", "en-US")
	v.SetDefault("identity.oses", []string{"win", "mac", "lin"})
	v.SetDefault("identity.timezones", []string{
		"America/New_York", "America/Chicago", "America/Los_Angeles",
		"Europe/London", "Europe/Berlin",
	})

	// -- Credential Store --
	v.SetDefault("credential_store.timeout", "15s")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "45s")
	v.SetDefault("llm.temperature", 0.9)
	v.SetDefault("llm.max_tokens", 128)
	v.SetDefault("llm.max_comment_chars", 150)
	v.SetDefault("llm.requests_per_second", 1.0)

	// -- Platforms --
	v.SetDefault("platforms.twitter.base_url", "https://x.com")
	v.SetDefault("platforms.twitter.login_url", "https://x.com/i/flow/login")
	v.SetDefault("platforms.twitter.search_url", "https://x.com/search?q=%s&f=live")
	v.SetDefault("platforms.reddit.base_url", "https://www.reddit.com")
	v.SetDefault("platforms.reddit.login_url", "https://www.reddit.com/login")
	v.SetDefault("platforms.reddit.search_url", "https://www.reddit.com/search/?q=%s")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "OPERETTA_DATABASE_URL")
	v.BindEnv("redis.password", "OPERETTA_REDIS_PASSWORD")
	v.BindEnv("identity.api_key", "OPERETTA_IDENTITY_API_KEY")
	v.BindEnv("credential_store.api_key", "OPERETTA_CREDSTORE_API_KEY")
	v.BindEnv("llm.api_key", "OPERETTA_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SchedulerCfg.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be a positive integer")
	}
	if c.SchedulerCfg.BackoffBase <= 0 {
		return fmt.Errorf("scheduler.backoff_base must be a positive duration")
	}
	if c.SchedulerCfg.StallTimeout <= c.SchedulerCfg.HeartbeatInterval {
		return fmt.Errorf("scheduler.stall_timeout must exceed the heartbeat interval")
	}
	switch c.SchedulerCfg.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("scheduler.backend must be \"redis\" or \"memory\", got %q", c.SchedulerCfg.Backend)
	}
	if c.SessionCfg.MinDuration <= 0 || c.SessionCfg.MaxDuration <= c.SessionCfg.MinDuration {
		return fmt.Errorf("session durations must satisfy 0 < min_duration < max_duration")
	}
	if c.SessionCfg.DailyLimit <= 0 {
		return fmt.Errorf("session.daily_limit must be a positive integer")
	}
	if len(c.IdentityCfg.OSes) == 0 || len(c.IdentityCfg.Timezones) == 0 {
		return fmt.Errorf("identity.oses and identity.timezones must not be empty")
	}
	if c.LLMCfg.MaxCommentChars <= 0 {
		return fmt.Errorf("llm.max_comment_chars must be a positive integer")
	}
	if c.LLMCfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("llm.requests_per_second must be positive")
	}
	return nil
}
