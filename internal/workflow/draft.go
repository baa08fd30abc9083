package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// Draft generates a reply for each candidate, runs it through the safety
// filter and persists it. Candidates missing from storage are fetched from
// the platform. Drafts that fail the filter are persisted with status
// rejected and returned alongside the rest.
func (e *Engine) Draft(ctx context.Context, candidateIDs []string) (drafts []storage.Draft, err error) {
	ctx, span := e.startSpan(ctx, "draft")
	span.SetAttributes(attribute.Int("kestrel.candidates", len(candidateIDs)))
	defer func() { span.end(ctx, err) }()

	recent, err := e.recentDraftTexts(ctx)
	if err != nil {
		return nil, err
	}

	drafts = make([]storage.Draft, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		cand, stored, err := e.loadCandidate(ctx, id)
		if err != nil {
			return drafts, err
		}

		text, err := e.generate(ctx, content.PromptContext{
			Kind:     content.KindReply,
			Tweet:    &cand.Tweet,
			Keywords: keywordsFor(cand, e.scoring.Keywords),
		})
		if err != nil {
			return drafts, stepError("generate", KindGeneration, err)
		}

		d := e.newDraft(storage.DraftReply, text)
		d.CandidateID = cand.TweetID
		d.ReplyToID = cand.TweetID
		d.AuthorID = cand.Tweet.AuthorID
		d.Lang = cand.Tweet.Lang
		d.Score = cand.Score
		if len(cand.Matched) > 0 {
			d.Keyword = cand.Matched[0]
		}
		if d.Text == "" {
			return drafts, stepError("generate", KindGeneration, content.ErrEmptyOutput)
		}
		e.screen(&d, recent)

		if err := e.store.SaveDraft(ctx, &d); err != nil {
			return drafts, stepError("persist", KindStorage, err)
		}
		if stored {
			if err := e.store.SetCandidateStatus(ctx, cand.TweetID, storage.CandidateDrafted); err != nil {
				return drafts, stepError("persist", KindStorage, err)
			}
		}
		if d.Status == storage.DraftNew {
			recent = append(recent, d.Text)
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// loadCandidate returns the stored candidate, or a candidate built from the
// live tweet when id was never discovered.
func (e *Engine) loadCandidate(ctx context.Context, id string) (storage.Candidate, bool, error) {
	cand, err := e.store.GetCandidate(ctx, id)
	if err == nil {
		return *cand, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Candidate{}, false, stepError("fetch", KindStorage, err)
	}
	tweet, err := toolkit.GetTweet(ctx, e.provider, id)
	if err != nil {
		return storage.Candidate{}, false, stepError("fetch", KindToolkit, err)
	}
	return storage.Candidate{TweetID: tweet.ID, Tweet: *tweet}, false, nil
}

func (e *Engine) newDraft(kind storage.DraftKind, text string) storage.Draft {
	now := e.now().UTC()
	return storage.Draft{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      strings.TrimSpace(text),
		Status:    storage.DraftNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// screen rejects d when its text is not postable or fails the safety filter.
func (e *Engine) screen(d *storage.Draft, recent []string) {
	if err := toolkit.ValidateText("draft", d.Text); err != nil {
		d.Status = storage.DraftRejected
		var te *toolkit.Error
		if errors.As(err, &te) {
			d.Rejection = fmt.Sprintf("%s: %s", te.Kind, te.Message)
		} else {
			d.Rejection = err.Error()
		}
		return
	}
	if reason := e.safety.check(d.Text, recent); reason != "" {
		d.Status = storage.DraftRejected
		d.Rejection = reason
	}
}

// recentDraftTexts loads the texts new drafts are compared against.
func (e *Engine) recentDraftTexts(ctx context.Context) ([]string, error) {
	recent, err := e.store.ListDrafts(ctx, storage.ListOptions{Limit: e.safety.recent})
	if err != nil {
		return nil, stepError("history", KindStorage, err)
	}
	texts := make([]string, 0, len(recent))
	for _, d := range recent {
		if d.Status != storage.DraftRejected {
			texts = append(texts, d.Text)
		}
	}
	return texts, nil
}

func keywordsFor(c storage.Candidate, fallback []string) []string {
	if len(c.Matched) > 0 {
		return c.Matched
	}
	return fallback
}

// mentionDraftID is stable per mention so a retried batch skips mentions it
// already handled.
func mentionDraftID(t provider.Tweet) string {
	return "mention-" + t.ID
}
