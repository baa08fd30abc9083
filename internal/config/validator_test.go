package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Mode:      "review",
		Provider:  ProviderConfig{Kind: "mock"},
		Storage:   StorageConfig{DSN: ":memory:"},
		Generator: GeneratorConfig{Kind: "template"},
		Policy: PolicyConfig{
			DefaultAction: "allow",
			Rules:         []RuleConfig{{Name: "no-deletes", Categories: []string{"delete"}, Action: "deny", Hard: true}},
		},
		RateLimits: []RateLimitConfig{{Dimension: "endpoint", Match: "post_*", Window: "hour", Max: 5}},
		Callers:    []CallerConfig{{ID: "agent-1", Role: "agent", KeyHash: devAPIKeyHash}},
		Telemetry:  TelemetryConfig{Exporter: "none"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing mode", func(c *Config) { c.Mode = "" }, "Config.Mode is required"},
		{"bad mode", func(c *Config) { c.Mode = "yolo" }, "Config.Mode must be one of"},
		{"bad provider", func(c *Config) { c.Provider.Kind = "mastodon" }, "Config.Provider.Kind must be one of"},
		{"bad generator", func(c *Config) { c.Generator.Kind = "gpt" }, "Config.Generator.Kind must be one of"},
		{"bad http addr", func(c *Config) { c.Server.HTTPAddr = "not an addr" }, "must be a valid host:port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "Config.Server.LogLevel must be one of"},
		{"bad exporter", func(c *Config) { c.Telemetry.Exporter = "jaeger" }, "Config.Telemetry.Exporter must be one of"},
		{"network dsn", func(c *Config) { c.Storage.DSN = "postgres://localhost/kestrel" }, "Config.Storage.DSN must be a file path"},
		{"empty file uri", func(c *Config) { c.Storage.DSN = "file:?mode=memory" }, "Config.Storage.DSN must be a file path"},
		{"bad rate window", func(c *Config) { c.RateLimits[0].Window = "week" }, "must be 'hour' or 'day'"},
		{"bad dimension", func(c *Config) { c.RateLimits[0].Dimension = "ip" }, "must be one of: endpoint author keyword engagement"},
		{"negative max", func(c *Config) { c.RateLimits[0].Max = -1 }, "RateLimits[0].Max must be at least 0"},
		{"rule without name", func(c *Config) { c.Policy.Rules[0].Name = "" }, "Rules[0].Name is required"},
		{"bad rule action", func(c *Config) { c.Policy.Rules[0].Action = "block" }, "Rules[0].Action must be one of"},
		{"bad category", func(c *Config) { c.Policy.Rules[0].Categories = []string{"dm"} }, "Rules[0].Categories[0] must be one of"},
		{"bad hour", func(c *Config) { c.Policy.Rules[0].Window = &WindowConfig{StartHour: 24} }, "StartHour must be an hour between 0 and 23"},
		{"bad weekday", func(c *Config) { c.Policy.Rules[0].Window = &WindowConfig{Weekdays: []int{7}} }, "Weekdays[0] must be at most 6"},
		{"hard allow rule", func(c *Config) { c.Policy.Rules[0].Action = "allow" }, "only deny rules can be hard"},
		{"duplicate rule", func(c *Config) {
			c.Policy.Rules = append(c.Policy.Rules, RuleConfig{Name: "no-deletes", Action: "deny"})
		}, `duplicate rule id "no-deletes"`},
		{"caller without hash", func(c *Config) { c.Callers[0].KeyHash = "" }, "Callers[0].KeyHash is required"},
		{"caller bad hash", func(c *Config) { c.Callers[0].KeyHash = "md5:abc" }, "key_hash must be an argon2id PHC string"},
		{"caller bad role", func(c *Config) { c.Callers[0].Role = "root" }, "Callers[0].Role must be one of"},
		{"duplicate caller", func(c *Config) { c.Callers = append(c.Callers, c.Callers[0]) }, `duplicate id "agent-1"`},
		{"xapi without credentials", func(c *Config) { c.Provider.Kind = "xapi" }, "provider.credentials_file is required"},
		{"xapi without client", func(c *Config) {
			c.Provider.Kind = "xapi"
			c.Provider.CredentialsFile = "/tmp/creds.json"
		}, "provider.oauth.client_id is required"},
		{"half tls", func(c *Config) { c.Server.TLS.CertFile = "/dev/null" }, "specify both cert_file and key_file"},
		{"backoff inverted", func(c *Config) {
			c.Autopilot.Backoff.Initial = 10
			c.Autopilot.Backoff.Max = 5
		}, "max must not be below initial"},
		{"negative journal retention", func(c *Config) { c.Storage.Journal.RetentionDays = -1 }, "Journal.RetentionDays must be at least 0"},
		{"jitter too large", func(c *Config) { c.Autopilot.Backoff.Jitter = 1 }, "Backoff.Jitter is out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_StorageDSN(t *testing.T) {
	t.Parallel()

	for _, dsn := range []string{":memory:", "kestrel.db", "/var/lib/kestrel/kestrel.db", "file:kestrel.db?_pragma=busy_timeout(5000)"} {
		cfg := minimalValidConfig()
		cfg.Storage.DSN = dsn
		if err := cfg.Validate(); err != nil {
			t.Errorf("DSN %q: unexpected error: %v", dsn, err)
		}
	}
}

func TestValidate_XAPIProvider(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Provider = ProviderConfig{
		Kind:            "xapi",
		BaseURL:         "https://api.x.com",
		CredentialsFile: "/var/lib/kestrel/credentials.json",
		OAuth:           OAuthConfig{ClientID: "client", TokenURL: "https://api.x.com/2/oauth2/token"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ReportsAllTagErrors(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Mode = ""
	cfg.Storage.DSN = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"Config.Mode is required", "Config.Storage.DSN is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
