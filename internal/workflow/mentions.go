package workflow

import (
	"context"
	"errors"
	"slices"

	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// MentionsCursor is the storage cursor holding the newest handled mention.
const MentionsCursor = "mentions"

// MentionsReport is the result of one ProcessMentions run.
type MentionsReport struct {
	Fetched int             `json:"fetched"`
	Drafts  []storage.Draft `json:"drafts"`
	Queued  []QueueResult   `json:"queued"`
	Cursor  string          `json:"cursor"`
}

// ProcessMentions reads mentions newer than the stored cursor, drafts a
// reply to each, queues the replies and then advances the cursor. When a
// step fails the cursor stays put; mentions already drafted are skipped on
// the next run.
func (e *Engine) ProcessMentions(ctx context.Context, actor string, limit int) (report *MentionsReport, err error) {
	ctx, span := e.startSpan(ctx, "process_mentions")
	defer func() { span.end(ctx, err) }()

	userID, err := e.userID(ctx)
	if err != nil {
		return nil, stepError("fetch", KindToolkit, err)
	}
	cursor, err := e.store.GetCursor(ctx, MentionsCursor)
	if err != nil {
		return nil, stepError("fetch", KindStorage, err)
	}
	if limit <= 0 {
		limit = 20
	}
	page, err := toolkit.GetMentions(ctx, e.provider, userID, toolkit.Page{
		MaxResults: min(max(limit, 5), 100),
		SinceID:    cursor,
	})
	if err != nil {
		return nil, stepError("fetch", KindToolkit, err)
	}

	report = &MentionsReport{Fetched: len(page.Tweets), Cursor: cursor}
	recent, err := e.recentDraftTexts(ctx)
	if err != nil {
		return report, err
	}

	mentions := slices.Clone(page.Tweets)
	slices.Reverse(mentions) // oldest first
	newest := cursor
	var fresh []storage.Draft
	for _, m := range mentions {
		if newerID(m.ID, newest) {
			newest = m.ID
		}
		if m.AuthorID == userID {
			continue
		}
		if prev, err := e.store.GetDraft(ctx, mentionDraftID(m)); err == nil {
			// Drafted by an earlier run that stopped before queueing.
			if sendable(prev.Status) {
				fresh = append(fresh, *prev)
			}
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return report, stepError("draft", KindStorage, err)
		}

		tweet := m
		text, err := e.generate(ctx, content.PromptContext{Kind: content.KindMentionReply, Tweet: &tweet, Keywords: e.scoring.Keywords})
		if err != nil {
			return report, stepError("generate", KindGeneration, err)
		}
		d := e.newDraft(storage.DraftReply, text)
		d.ID = mentionDraftID(m)
		d.ReplyToID = m.ID
		d.AuthorID = m.AuthorID
		d.Lang = m.Lang
		if d.Text == "" {
			return report, stepError("generate", KindGeneration, content.ErrEmptyOutput)
		}
		e.screen(&d, recent)
		if err := e.store.SaveDraft(ctx, &d); err != nil {
			return report, stepError("draft", KindStorage, err)
		}
		if d.Status == storage.DraftNew {
			recent = append(recent, d.Text)
		}
		report.Drafts = append(report.Drafts, d)
		fresh = append(fresh, d)
	}

	queued, err := e.Queue(ctx, fresh, actor)
	report.Queued = queued
	if err != nil {
		return report, err
	}

	if newest != cursor {
		if err := e.store.SetCursor(ctx, MentionsCursor, newest); err != nil {
			return report, stepError("cursor", KindStorage, err)
		}
		report.Cursor = newest
	}
	return report, nil
}

// newerID compares numeric snowflake IDs; longer strings are larger.
func newerID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
