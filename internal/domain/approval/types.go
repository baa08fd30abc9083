// Package approval contains the review queue domain: mutations the gateway
// routed to a human, their lifecycle and edit history.
package approval

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for approval operations.
var (
	ErrNotFound          = errors.New("approval item not found")
	ErrInvalidTransition = errors.New("invalid approval status transition")
)

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
	StatusDiscarded Status = "discarded"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusDiscarded
}

// transitions lists the allowed status moves.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusDiscarded},
	StatusApproved: {StatusPublished, StatusDiscarded},
}

// HistoryEntry records one reviewer or system action on an item.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to,omitempty"`
	Note   string    `json:"note,omitempty"`
	// Previous holds the content before an edit.
	Previous string `json:"previous,omitempty"`
}

// History actions.
const (
	ActionCreated       = "created"
	ActionApproved      = "approved"
	ActionRejected      = "rejected"
	ActionEdited        = "edited"
	ActionPublished     = "published"
	ActionPublishFailed = "publish_failed"
)

// Item is a mutation awaiting or having passed human review.
// Items are never deleted, only transitioned.
type Item struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	Tool       string         `json:"tool"`
	Category   string         `json:"category"`
	Args       map[string]any `json:"args"`
	Content    string         `json:"content"`
	Reason     string         `json:"reason"`
	RuleID     string         `json:"rule_id,omitempty"`
	Score      float64        `json:"score,omitempty"`
	Risk       string         `json:"risk"`
	Actor      string         `json:"actor"`
	Reviewer   string         `json:"reviewer,omitempty"`
	Status     Status         `json:"status"`
	History    []HistoryEntry `json:"history"`
	PlatformID string         `json:"platform_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Transition moves the item to status to, appending a history entry.
func (i *Item) Transition(to Status, actor, action, note string, now time.Time) error {
	allowed := false
	for _, s := range transitions[i.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, to)
	}
	i.History = append(i.History, HistoryEntry{At: now, Actor: actor, Action: action, From: i.Status, To: to, Note: note})
	i.Status = to
	i.Reviewer = actor
	i.UpdatedAt = now
	return nil
}

// Edit replaces the proposed content. The status is unchanged. The argument
// the action publishes is rewritten with it: "text" for posts, replies and
// quotes, "parts" for threads, split on blank lines. Actions without content
// cannot be edited.
func (i *Item) Edit(content, actor, note string, now time.Time) error {
	if i.Status.Terminal() {
		return fmt.Errorf("%w: cannot edit a %s item", ErrInvalidTransition, i.Status)
	}
	field := i.EditableField()
	if field == "" {
		return fmt.Errorf("%w: %s has no editable content", ErrInvalidTransition, i.Tool)
	}
	i.History = append(i.History, HistoryEntry{At: now, Actor: actor, Action: ActionEdited, Note: note, Previous: i.Content})
	i.Content = content
	if field == "parts" {
		i.Args["parts"] = ThreadParts(content)
	} else {
		i.Args["text"] = content
	}
	i.Reviewer = actor
	i.UpdatedAt = now
	return nil
}

// EditableField names the argument an edit rewrites, or "" when the action
// publishes no content.
func (i *Item) EditableField() string {
	for _, f := range []string{"text", "parts"} {
		if _, ok := i.Args[f]; ok {
			return f
		}
	}
	return ""
}

// ThreadParts splits thread content into parts on blank lines.
func ThreadParts(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var parts []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Note appends a history entry without changing state.
func (i *Item) Note(actor, action, note string, now time.Time) {
	i.History = append(i.History, HistoryEntry{At: now, Actor: actor, Action: action, Note: note})
	i.UpdatedAt = now
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (i *Item) Clone() *Item {
	c := *i
	c.History = append([]HistoryEntry(nil), i.History...)
	c.Args = cloneArgs(i.Args)
	return &c
}

func cloneArgs(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneArgs(val)
		case []any:
			out[k] = append([]any(nil), val...)
		case []string:
			out[k] = append([]string(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}
