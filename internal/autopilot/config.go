package autopilot

import (
	"errors"
	"fmt"
	"time"
)

// Loop names, also used as telemetry names and metric labels.
const (
	LoopDiscovery    = "discovery"
	LoopMentions     = "mentions"
	LoopContent      = "content"
	LoopThreads      = "threads"
	LoopTokenRefresh = "token_refresh"
)

// LoopConfig schedules one loop.
type LoopConfig struct {
	Enabled  bool
	Interval time.Duration
}

// DiscoveryConfig rotates through Queries, one per cycle.
type DiscoveryConfig struct {
	LoopConfig
	Queries []string
	TopN    int
}

// MentionsConfig caps how many mentions one cycle handles.
type MentionsConfig struct {
	LoopConfig
	Limit int
}

// ContentConfig rotates through Topics, one post per cycle.
type ContentConfig struct {
	LoopConfig
	Topics []string
}

// TokenRefreshConfig refreshes the access token Skew before it expires.
type TokenRefreshConfig struct {
	LoopConfig
	Skew time.Duration
}

// BackoffConfig bounds the wait after a rate limit or auth failure when the
// platform gave no retry-after.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Config schedules every loop.
type Config struct {
	Discovery    DiscoveryConfig
	Mentions     MentionsConfig
	Content      ContentConfig
	Threads      LoopConfig
	TokenRefresh TokenRefreshConfig
	Backoff      BackoffConfig
}

// DefaultConfig returns the intervals kestrel ships with.
func DefaultConfig() Config {
	return Config{
		Discovery:    DiscoveryConfig{LoopConfig: LoopConfig{Enabled: true, Interval: 30 * time.Minute}, TopN: 3},
		Mentions:     MentionsConfig{LoopConfig: LoopConfig{Enabled: true, Interval: 5 * time.Minute}, Limit: 20},
		Content:      ContentConfig{LoopConfig: LoopConfig{Enabled: false, Interval: 4 * time.Hour}},
		Threads:      LoopConfig{Enabled: true, Interval: time.Minute},
		TokenRefresh: TokenRefreshConfig{LoopConfig: LoopConfig{Enabled: true, Interval: 5 * time.Minute}, Skew: 10 * time.Minute},
		Backoff:      BackoffConfig{Initial: 30 * time.Second, Max: 15 * time.Minute, Jitter: 0.2},
	}
}

// Validate reports the first scheduling mistake.
func (c Config) Validate() error {
	var errs []error
	check := func(name string, l LoopConfig) {
		if l.Enabled && l.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%s: interval must be positive", name))
		}
	}
	check(LoopDiscovery, c.Discovery.LoopConfig)
	check(LoopMentions, c.Mentions.LoopConfig)
	check(LoopContent, c.Content.LoopConfig)
	check(LoopThreads, c.Threads)
	check(LoopTokenRefresh, c.TokenRefresh.LoopConfig)

	if c.Discovery.Enabled && len(c.Discovery.Queries) == 0 {
		errs = append(errs, errors.New("discovery: at least one query is required"))
	}
	if c.Content.Enabled && len(c.Content.Topics) == 0 {
		errs = append(errs, errors.New("content: at least one topic is required"))
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		errs = append(errs, errors.New("backoff: need 0 < initial <= max"))
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		errs = append(errs, errors.New("backoff: jitter must be in [0, 1)"))
	}
	return errors.Join(errs...)
}
