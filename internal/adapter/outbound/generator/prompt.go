// Package generator provides content.Generator implementations: a Gemini
// client for production and a deterministic template generator for dev mode
// and tests.
package generator

import (
	"fmt"
	"strings"

	"github.com/kestrel-social/kestrel/internal/domain/content"
)

const defaultMaxLength = 280

// Prompt renders the system instruction and user prompt for pc.
func Prompt(pc content.PromptContext) (system, user string) {
	limit := pc.MaxLength
	if limit <= 0 {
		limit = defaultMaxLength
	}
	system = fmt.Sprintf("You write posts for a developer-focused account. "+
		"Be concrete and friendly, never use hashtags, and keep every post under %d characters. "+
		"Reply with the post text only.", limit)

	var b strings.Builder
	switch pc.Kind {
	case content.KindReply:
		b.WriteString("Write a reply that adds something useful to this post.\n")
	case content.KindMentionReply:
		b.WriteString("Someone mentioned the account. Write a helpful reply to them.\n")
	case content.KindThread:
		fmt.Fprintf(&b, "Write a thread of %d posts about %q. Separate posts with a blank line.\n", max(pc.Parts, 2), pc.Topic)
	default:
		fmt.Fprintf(&b, "Write one original post about %q.\n", pc.Topic)
	}
	if pc.Tweet != nil {
		author := pc.Tweet.AuthorUsername
		if author == "" {
			author = pc.Tweet.AuthorID
		}
		fmt.Fprintf(&b, "\nPost by @%s:\n%s\n", author, pc.Tweet.Text)
	}
	if len(pc.Keywords) > 0 {
		fmt.Fprintf(&b, "\nRelevant topics: %s\n", strings.Join(pc.Keywords, ", "))
	}
	return system, b.String()
}

// clip shortens s to at most n runes, cutting at the last space when possible.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:")
}
