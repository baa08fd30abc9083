package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kestrel-social/kestrel/internal/domain/content"
)

var (
	replyTemplates = []string{
		"Good point about %s. We hit the same thing and a small benchmark settled it.",
		"This matches what we saw with %s. Measuring first saved us a rewrite.",
		"Nice write-up on %s. The trade-offs section is the part people skip.",
	}
	mentionTemplates = []string{
		"Thanks for the mention! Happy to dig into %s with you.",
		"Appreciate it! Short answer on %s: start simple and profile.",
	}
	originalTemplates = []string{
		"A small lesson on %s: the boring solution is usually the one still running next year.",
		"Today in %s: fewer moving parts, fewer pages at 3am.",
		"Hot take on %s: write the test that would have caught last week's bug.",
	}
	threadTemplates = []string{
		"A few notes on %s.",
		"First, keep the scope small. Most problems with %s start with doing too much at once.",
		"Second, measure. Opinions about %s are cheap, profiles are not.",
		"Third, write it down so the next person does not relearn %s the hard way.",
		"That is it. Questions about %s welcome.",
	}
)

// Template is a deterministic generator. The same prompt context always
// yields the same text, which keeps dev runs and tests reproducible.
type Template struct{}

// NewTemplate returns a template generator.
func NewTemplate() *Template {
	return &Template{}
}

// Generate fills a template chosen by hashing the tweet ID or topic.
func (g *Template) Generate(ctx context.Context, pc content.PromptContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	limit := pc.MaxLength
	if limit <= 0 {
		limit = defaultMaxLength
	}
	subject := subjectOf(pc)
	seed := subject
	if pc.Tweet != nil {
		seed = pc.Tweet.ID
	}

	switch pc.Kind {
	case content.KindReply:
		return clip(fmt.Sprintf(pick(replyTemplates, seed), subject), limit), nil
	case content.KindMentionReply:
		return clip(fmt.Sprintf(pick(mentionTemplates, seed), subject), limit), nil
	case content.KindThread:
		n := min(max(pc.Parts, 2), len(threadTemplates))
		parts := make([]string, 0, n)
		parts = append(parts, fmt.Sprintf(threadTemplates[0], subject))
		for _, t := range threadTemplates[len(threadTemplates)-n+1:] {
			parts = append(parts, clip(fmt.Sprintf(t, subject), limit))
		}
		return strings.Join(parts, "\n\n"), nil
	default:
		return clip(fmt.Sprintf(pick(originalTemplates, seed), subject), limit), nil
	}
}

func pick(templates []string, seed string) string {
	return templates[xxhash.Sum64String(seed)%uint64(len(templates))]
}

// subjectOf names what the post is about: the topic, else the first keyword
// found in the tweet, else the first keyword.
func subjectOf(pc content.PromptContext) string {
	if pc.Topic != "" {
		return pc.Topic
	}
	if pc.Tweet != nil {
		text := strings.ToLower(pc.Tweet.Text)
		for _, k := range pc.Keywords {
			if strings.Contains(text, strings.ToLower(k)) {
				return k
			}
		}
	}
	if len(pc.Keywords) > 0 {
		return pc.Keywords[0]
	}
	return "this"
}

var _ content.Generator = (*Template)(nil)
