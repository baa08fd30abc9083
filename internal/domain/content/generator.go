// Package content defines the content generation port. Prompt wording lives
// entirely inside implementations.
package content

import (
	"context"
	"errors"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// Kind selects what a generator is asked to produce.
type Kind string

const (
	// KindReply is a reply to a discovered tweet.
	KindReply Kind = "reply"
	// KindMentionReply is a reply to a tweet that mentioned the account.
	KindMentionReply Kind = "mention_reply"
	// KindOriginal is a standalone post about a topic.
	KindOriginal Kind = "original"
	// KindThread is a multi-part thread about a topic. Parts are separated
	// by blank lines.
	KindThread Kind = "thread"
)

// PromptContext is everything a generator may use to produce text.
type PromptContext struct {
	Kind      Kind            `json:"kind"`
	Topic     string          `json:"topic,omitempty"`
	Tweet     *provider.Tweet `json:"tweet,omitempty"`
	Keywords  []string        `json:"keywords,omitempty"`
	Parts     int             `json:"parts,omitempty"`
	MaxLength int             `json:"max_length,omitempty"`
}

// ErrEmptyOutput is returned when a generator produced no usable text.
var ErrEmptyOutput = errors.New("generator returned empty text")

// Generator produces post text. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, pc PromptContext) (string, error)
}
