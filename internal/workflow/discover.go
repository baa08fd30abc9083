package workflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

const (
	minSearchResults = 10
	maxSearchResults = 100
)

// Discover searches for query, scores the results, persists them as
// candidates and returns the top limit candidates ranked by score. Returned
// candidates carry their stored status, so a tweet drafted earlier stays
// drafted.
func (e *Engine) Discover(ctx context.Context, query string, limit int) (cands []storage.Candidate, err error) {
	ctx, span := e.startSpan(ctx, "discover")
	span.SetAttributes(attribute.String("kestrel.query", query))
	defer func() { span.end(ctx, err) }()

	if limit <= 0 {
		limit = minSearchResults
	}
	page, err := toolkit.SearchTweets(ctx, e.provider, query, toolkit.Page{
		MaxResults: min(max(limit, minSearchResults), maxSearchResults),
	})
	if err != nil {
		return nil, stepError("search", KindToolkit, err)
	}

	now := e.now().UTC()
	ranked := toolkit.RankTweets(page.Tweets, e.scoring, now)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if len(ranked) == 0 {
		return []storage.Candidate{}, nil
	}

	cands = make([]storage.Candidate, 0, len(ranked))
	for _, st := range ranked {
		cands = append(cands, storage.Candidate{
			TweetID:      st.Tweet.ID,
			Tweet:        st.Tweet,
			Query:        query,
			Score:        st.Score.Total,
			Matched:      st.Score.Matched,
			Status:       storage.CandidateNew,
			DiscoveredAt: now,
		})
	}
	if err := e.store.SaveCandidates(ctx, cands); err != nil {
		return nil, stepError("persist", KindStorage, err)
	}
	for i := range cands {
		stored, err := e.store.GetCandidate(ctx, cands[i].TweetID)
		if err != nil {
			return nil, stepError("persist", KindStorage, err)
		}
		cands[i].Status = stored.Status
	}

	e.logger.Debug("discovery completed", "query", query, "found", len(page.Tweets), "kept", len(cands))
	return cands, nil
}
