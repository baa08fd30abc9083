// Package ratelimit provides the domain types for per-dimension mutation caps
// and the platform quota observed from provider responses.
package ratelimit

import (
	"fmt"
	"path"
	"time"
)

// Dimension is the resource a counter is keyed on.
type Dimension string

const (
	// DimensionEndpoint counts per tool name.
	DimensionEndpoint Dimension = "endpoint"
	// DimensionAuthor counts per targeted platform user.
	DimensionAuthor Dimension = "author"
	// DimensionKeyword counts per discovery keyword.
	DimensionKeyword Dimension = "keyword"
	// DimensionEngagement counts per engagement type (like, follow, ...).
	DimensionEngagement Dimension = "engagement"
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionEndpoint, DimensionAuthor, DimensionKeyword, DimensionEngagement:
		return true
	}
	return false
}

// Window is the length of a rolling counter window.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w.Duration() > 0
}

// Limit is a configured cap. Match is a glob over the dimension value;
// "*" applies the cap to every value separately, unless Shared is set, in
// which case all matching values draw from one counter.
type Limit struct {
	Dimension Dimension `json:"dimension" mapstructure:"dimension"`
	Match     string    `json:"match" mapstructure:"match"`
	Window    Window    `json:"window" mapstructure:"window"`
	Max       int       `json:"max" mapstructure:"max"`
	Shared    bool      `json:"shared,omitempty" mapstructure:"shared"`
}

// Applies reports whether the limit covers value.
func (l Limit) Applies(value string) bool {
	if value == "" {
		return false
	}
	if l.Match == "" || l.Match == "*" {
		return true
	}
	ok, err := path.Match(l.Match, value)
	return err == nil && ok
}

// Counter returns the counter a request with the given value draws from.
func (l Limit) Counter(value string) Counter {
	v := value
	if l.Shared {
		v = l.Match
	}
	return Counter{
		Key:       FormatKey(l.Dimension, v, l.Window),
		Dimension: l.Dimension,
		Value:     v,
		Window:    l.Window,
		Max:       l.Max,
	}
}

// FormatKey returns a counter key.
// Format: "{dimension}:{value}:{window}", e.g. "author:42:day".
func FormatKey(d Dimension, value string, w Window) string {
	return fmt.Sprintf("%s:%s:%s", d, value, w)
}

// Counter is one sliding-window log with its cap.
type Counter struct {
	Key       string
	Dimension Dimension
	Value     string
	Window    Window
	Max       int
}

// Breach describes the counter that rejected a reservation.
type Breach struct {
	Counter    Counter
	Used       int
	RetryAfter time.Duration
}

// CounterState is a read-only view of a counter for observability.
type CounterState struct {
	Key       string    `json:"key"`
	Dimension Dimension `json:"dimension"`
	Value     string    `json:"value"`
	Window    Window    `json:"window"`
	Used      int       `json:"used"`
	Max       int       `json:"max"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

// PlatformState is the last observed provider quota for one endpoint.
type PlatformState struct {
	Endpoint  string    `json:"endpoint"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}
