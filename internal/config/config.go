// Package config provides configuration types for kestrel.
//
// Configuration is file based (kestrel.yaml) with KESTREL_* environment
// overrides. The policy section is the boot-time policy; admin tools can
// replace it at runtime without touching the file.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// Config is the top-level kestrel configuration.
type Config struct {
	// Server configures the HTTP listener used by serve --http and autopilot.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Mode is the operating mode at startup: "autonomous" or "review".
	// Defaults to "review".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=autonomous review"`

	// Provider selects and configures the social platform client.
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`

	// Storage configures the SQLite database.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Generator selects the content generator.
	Generator GeneratorConfig `yaml:"generator" mapstructure:"generator"`

	// Policy is the gateway policy loaded at startup.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// RateLimits are the gateway's own counters, checked before any rule.
	RateLimits []RateLimitConfig `yaml:"rate_limits" mapstructure:"rate_limits" validate:"omitempty,dive"`

	// Safety configures the draft safety filter.
	Safety SafetyConfig `yaml:"safety" mapstructure:"safety"`

	// Scoring weighs discovered tweets. Zero weights use the built-in defaults.
	Scoring toolkit.ScoringConfig `yaml:"scoring" mapstructure:"scoring"`

	// Autopilot schedules the autonomous loops.
	Autopilot AutopilotConfig `yaml:"autopilot" mapstructure:"autopilot"`

	// Callers are the API keys accepted by the HTTP MCP transport.
	// Optional: with no callers the HTTP transport is unauthenticated.
	Callers []CallerConfig `yaml:"callers" mapstructure:"callers" validate:"omitempty,dive"`

	// Telemetry configures OpenTelemetry export and the tool telemetry buffer.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging, the mock provider and a dev admin key.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins are accepted Origin headers besides localhost.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// TLS enables HTTPS when both files are set.
	TLS TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig points at a certificate and key in PEM format.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" validate:"omitempty,file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file" validate:"omitempty,file"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// ProviderConfig configures the platform client.
type ProviderConfig struct {
	// Kind is "mock" (deterministic in-memory platform) or "xapi".
	// Defaults to "mock" in dev mode and "xapi" otherwise.
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=mock xapi"`

	// BaseURL overrides the platform API endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// Timeout bounds each platform request. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,min=0"`

	// CredentialsFile holds the OAuth2 user tokens. Required for "xapi".
	// Refreshed tokens are written back to it.
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`

	// OAuth identifies the OAuth2 client used to refresh tokens.
	OAuth OAuthConfig `yaml:"oauth" mapstructure:"oauth"`
}

// OAuthConfig identifies an OAuth2 client.
type OAuthConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	// ClientSecret is empty for public clients.
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url" validate:"omitempty,url"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// DSN is a SQLite path, a "file:" URI or ":memory:".
	// Defaults to "kestrel.db" (":memory:" in dev mode).
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"required,storage_dsn"`
	// Journal mirrors the audit trail to JSON Lines files when Dir is set.
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`
}

// JournalConfig configures the audit journal.
type JournalConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days" validate:"min=0"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"min=0"`
}

// GeneratorConfig selects the content generator.
type GeneratorConfig struct {
	// Kind is "template" (deterministic, offline) or "gemini".
	// Defaults to "template".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=template gemini"`

	// Model is the Gemini model name.
	Model string `yaml:"model" mapstructure:"model"`

	// APIKey is the Gemini API key. When empty the GOOGLE_API_KEY or
	// GEMINI_API_KEY environment variables are used.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// BaseURL overrides the Gemini endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// Temperature is the sampling temperature. Defaults to 0.7.
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" validate:"omitempty,min=0,max=2"`

	// Timeout bounds each generation call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,min=0"`
}

// PolicyConfig is the gateway policy.
type PolicyConfig struct {
	// Rules are evaluated by descending priority; the first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`

	// DefaultAction applies when no rule matches. Defaults to "allow".
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"required,oneof=allow deny"`

	// ConfirmDeletes denies delete tools called without confirm=true.
	// Defaults to true.
	ConfirmDeletes bool `yaml:"confirm_deletes" mapstructure:"confirm_deletes"`

	// IdempotencyWindow is how long a repeated idempotency key replays the
	// first result. Defaults to 10m.
	IdempotencyWindow time.Duration `yaml:"idempotency_window" mapstructure:"idempotency_window" validate:"omitempty,min=0"`

	// IdempotencySize caps the number of remembered keys. Defaults to 4096.
	IdempotencySize int `yaml:"idempotency_size" mapstructure:"idempotency_size" validate:"omitempty,min=1"`
}

// RuleConfig defines a single policy rule.
type RuleConfig struct {
	// ID identifies the rule in decisions. Defaults to Name.
	ID string `yaml:"id" mapstructure:"id"`

	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Priority orders rules; higher first.
	Priority int `yaml:"priority" mapstructure:"priority"`

	// Hard places a deny rule before rate limits and mode.
	Hard bool `yaml:"hard" mapstructure:"hard"`

	// ToolMatch is a glob over tool names.
	ToolMatch string `yaml:"tool_match" mapstructure:"tool_match"`

	// Categories limits the rule to tool categories (write, engage, media, delete).
	Categories []string `yaml:"categories" mapstructure:"categories" validate:"omitempty,dive,oneof=read write engage media delete admin"`

	// Modes limits the rule to operating modes.
	Modes []string `yaml:"modes" mapstructure:"modes" validate:"omitempty,dive,oneof=autonomous review"`

	// Actors are globs over caller identities ("scheduler", "agent:*").
	Actors []string `yaml:"actors" mapstructure:"actors"`

	// Languages limits the rule to content in these languages.
	Languages []string `yaml:"languages" mapstructure:"languages"`

	// Window limits the rule to UTC hours and weekdays.
	Window *WindowConfig `yaml:"window" mapstructure:"window"`

	// Condition is an optional CEL expression over the request.
	Condition string `yaml:"condition" mapstructure:"condition"`

	// Action is what to do when the rule matches.
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny require_approval dry_run"`

	// Message is returned to the caller on deny.
	Message string `yaml:"message" mapstructure:"message"`
}

// WindowConfig is a UTC time window; StartHour > EndHour wraps midnight.
type WindowConfig struct {
	StartHour int `yaml:"start_hour" mapstructure:"start_hour" validate:"hour"`
	EndHour   int `yaml:"end_hour" mapstructure:"end_hour" validate:"hour"`
	// Weekdays are 0 (Sunday) to 6.
	Weekdays []int `yaml:"weekdays" mapstructure:"weekdays" validate:"omitempty,dive,min=0,max=6"`
}

// RateLimitConfig defines one gateway counter.
type RateLimitConfig struct {
	// Dimension is what the counter is keyed on: endpoint, author, keyword or engagement.
	Dimension string `yaml:"dimension" mapstructure:"dimension" validate:"required,dimension"`

	// Match is a glob over dimension values; empty matches every value.
	Match string `yaml:"match" mapstructure:"match"`

	// Window is "hour" or "day".
	Window string `yaml:"window" mapstructure:"window" validate:"required,window"`

	// Max is the number of mutations allowed per window.
	Max int `yaml:"max" mapstructure:"max" validate:"min=0"`

	// Shared counts every matching value against one counter.
	Shared bool `yaml:"shared" mapstructure:"shared"`
}

// SafetyConfig configures the draft safety filter.
type SafetyConfig struct {
	// BannedPhrases reject a draft when found anywhere in it.
	BannedPhrases []string `yaml:"banned_phrases" mapstructure:"banned_phrases"`

	// DuplicateThreshold is the similarity at which a draft counts as a
	// near duplicate of a recent one. Defaults to 0.8.
	DuplicateThreshold float64 `yaml:"duplicate_threshold" mapstructure:"duplicate_threshold" validate:"omitempty,gt=0,lte=1"`

	// RecentDrafts is how many stored drafts are compared. Defaults to 50.
	RecentDrafts int `yaml:"recent_drafts" mapstructure:"recent_drafts" validate:"omitempty,min=1"`
}

// AutopilotConfig schedules the autopilot loops.
type AutopilotConfig struct {
	Discovery    DiscoveryLoopConfig    `yaml:"discovery" mapstructure:"discovery"`
	Mentions     MentionsLoopConfig     `yaml:"mentions" mapstructure:"mentions"`
	Content      ContentLoopConfig      `yaml:"content" mapstructure:"content"`
	Threads      LoopConfig             `yaml:"threads" mapstructure:"threads"`
	TokenRefresh TokenRefreshLoopConfig `yaml:"token_refresh" mapstructure:"token_refresh"`
	Backoff      BackoffConfig          `yaml:"backoff" mapstructure:"backoff"`
}

// LoopConfig enables a loop and sets its interval.
type LoopConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"omitempty,min=0"`
}

// DiscoveryLoopConfig rotates through Queries, one per cycle.
type DiscoveryLoopConfig struct {
	LoopConfig `yaml:",inline" mapstructure:",squash"`
	Queries    []string `yaml:"queries" mapstructure:"queries"`
	// TopN is how many candidates each cycle engages with. Defaults to 3.
	TopN int `yaml:"top_n" mapstructure:"top_n" validate:"omitempty,min=1,max=100"`
}

// MentionsLoopConfig caps how many mentions one cycle handles.
type MentionsLoopConfig struct {
	LoopConfig `yaml:",inline" mapstructure:",squash"`
	// Limit defaults to 20.
	Limit int `yaml:"limit" mapstructure:"limit" validate:"omitempty,min=1,max=100"`
}

// ContentLoopConfig rotates through Topics, one post per cycle.
type ContentLoopConfig struct {
	LoopConfig `yaml:",inline" mapstructure:",squash"`
	Topics     []string `yaml:"topics" mapstructure:"topics"`
}

// TokenRefreshLoopConfig refreshes the access token Skew before it expires.
type TokenRefreshLoopConfig struct {
	LoopConfig `yaml:",inline" mapstructure:",squash"`
	// Skew defaults to 10m.
	Skew time.Duration `yaml:"skew" mapstructure:"skew" validate:"omitempty,min=0"`
}

// BackoffConfig bounds the wait after a rate limit or auth failure.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" mapstructure:"initial" validate:"omitempty,min=0"`
	Max     time.Duration `yaml:"max" mapstructure:"max" validate:"omitempty,min=0"`
	Jitter  float64       `yaml:"jitter" mapstructure:"jitter" validate:"omitempty,min=0,lt=1"`
}

// CallerConfig is an API key accepted by the HTTP transport.
type CallerConfig struct {
	// ID is the unique caller identifier, recorded as the audit actor.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is a display name.
	Name string `yaml:"name" mapstructure:"name"`

	// Role is "agent" or "admin". Defaults to "agent".
	Role string `yaml:"role" mapstructure:"role" validate:"omitempty,oneof=agent admin"`

	// KeyHash is an Argon2id PHC string or "sha256:<hex>".
	// Generate with: kestrel hash-key
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required"`

	// ExpiresAt disables the key after this time.
	ExpiresAt *time.Time `yaml:"expires_at" mapstructure:"expires_at"`

	// Revoked disables the key.
	Revoked bool `yaml:"revoked" mapstructure:"revoked"`
}

// TelemetryConfig configures tracing export and the tool telemetry buffer.
type TelemetryConfig struct {
	// Exporter is "none" or "stdout". Defaults to "none".
	Exporter string `yaml:"exporter" mapstructure:"exporter" validate:"required,oneof=none stdout"`

	// ChannelSize is the buffer size for telemetry events. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of events written per batch. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending events are written. Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,min=0"`

	// SendTimeout is how long a full buffer blocks before an event is dropped.
	// Zero drops immediately. Defaults to 100ms.
	SendTimeout time.Duration `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,min=0"`
}

// devAPIKeyHash is the SHA-256 of "dev-api-key".
const devAPIKeyHash = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

// SetDevDefaults applies permissive defaults for development mode, then the
// production fallbacks for anything still unset. Call it after any CLI flag
// overrides and BEFORE validation.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.applyDevDefaults()
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = "xapi"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "kestrel.db"
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
}

func (c *Config) applyDevDefaults() {
	c.Server.LogLevel = "debug"

	if c.Provider.Kind == "" {
		c.Provider.Kind = "mock"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = ":memory:"
	}

	// Provide a dev admin key if none configured
	if len(c.Callers) == 0 {
		c.Callers = []CallerConfig{
			{ID: "dev", Name: "Development Admin", Role: "admin", KeyHash: devAPIKeyHash},
		}
	}

	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
// Defaults that depend on DevMode are left to SetDevDefaults.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Mode == "" {
		c.Mode = "review"
	}

	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}

	if c.Generator.Kind == "" {
		c.Generator.Kind = "template"
	}
	if c.Generator.Temperature == 0 {
		c.Generator.Temperature = 0.7
	}
	if c.Generator.Timeout == 0 {
		c.Generator.Timeout = 30 * time.Second
	}

	if c.Policy.DefaultAction == "" {
		c.Policy.DefaultAction = "allow"
	}
	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("policy.confirm_deletes") {
		c.Policy.ConfirmDeletes = true
	}
	if c.Policy.IdempotencyWindow == 0 {
		c.Policy.IdempotencyWindow = 10 * time.Minute
	}
	if c.Policy.IdempotencySize == 0 {
		c.Policy.IdempotencySize = 4096
	}

	if c.Safety.DuplicateThreshold == 0 {
		c.Safety.DuplicateThreshold = 0.8
	}
	if c.Safety.RecentDrafts == 0 {
		c.Safety.RecentDrafts = 50
	}

	if c.Scoring.Weights == (toolkit.ScoreWeights{}) {
		def := toolkit.DefaultScoringConfig()
		c.Scoring.Weights = def.Weights
		if c.Scoring.RecencyHalfLife == 0 {
			c.Scoring.RecencyHalfLife = def.RecencyHalfLife
		}
	}

	c.setAutopilotDefaults()

	if c.Telemetry.ChannelSize == 0 {
		c.Telemetry.ChannelSize = 1000
	}
	if c.Telemetry.BatchSize == 0 {
		c.Telemetry.BatchSize = 100
	}
	if c.Telemetry.FlushInterval == 0 {
		c.Telemetry.FlushInterval = time.Second
	}
	if !viper.IsSet("telemetry.send_timeout") && c.Telemetry.SendTimeout == 0 {
		c.Telemetry.SendTimeout = 100 * time.Millisecond
	}
}

func (c *Config) setAutopilotDefaults() {
	a := &c.Autopilot
	enable := func(key string, l *LoopConfig, def bool, interval time.Duration) {
		if !viper.IsSet("autopilot." + key + ".enabled") {
			l.Enabled = def
		}
		if l.Interval == 0 {
			l.Interval = interval
		}
	}
	enable("discovery", &a.Discovery.LoopConfig, true, 30*time.Minute)
	enable("mentions", &a.Mentions.LoopConfig, true, 5*time.Minute)
	enable("content", &a.Content.LoopConfig, false, 4*time.Hour)
	enable("threads", &a.Threads, true, time.Minute)
	enable("token_refresh", &a.TokenRefresh.LoopConfig, true, 5*time.Minute)

	if a.Discovery.TopN == 0 {
		a.Discovery.TopN = 3
	}
	if a.Mentions.Limit == 0 {
		a.Mentions.Limit = 20
	}
	if a.TokenRefresh.Skew == 0 {
		a.TokenRefresh.Skew = 10 * time.Minute
	}
	if a.Backoff.Initial == 0 {
		a.Backoff.Initial = 30 * time.Second
	}
	if a.Backoff.Max == 0 {
		a.Backoff.Max = 15 * time.Minute
	}
	if !viper.IsSet("autopilot.backoff.jitter") && a.Backoff.Jitter == 0 {
		a.Backoff.Jitter = 0.2
	}
}
