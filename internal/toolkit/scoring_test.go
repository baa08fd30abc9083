package toolkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

var scoringNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScoreTweet_Bounds(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Keywords = []string{"golang"}

	best := provider.Tweet{
		ID:            "1",
		Text:          "golang tips",
		CreatedAt:     scoringNow,
		AuthorFollows: 10_000_000,
		Metrics:       provider.PublicMetrics{Likes: 100000, Retweets: 50000},
	}
	worst := provider.Tweet{
		ID:          "2",
		Text:        "unrelated",
		CreatedAt:   scoringNow.Add(-30 * 24 * time.Hour),
		InReplyToID: "9",
	}

	hi := ScoreTweet(best, cfg, scoringNow)
	lo := ScoreTweet(worst, cfg, scoringNow)
	assert.LessOrEqual(t, hi.Total, 100.0)
	assert.GreaterOrEqual(t, lo.Total, 0.0)
	assert.Greater(t, hi.Total, 90.0)
	assert.Less(t, lo.Total, 10.0)
}

func TestScoreTweet_RecencyHalfLife(t *testing.T) {
	cfg := DefaultScoringConfig()
	tw := provider.Tweet{ID: "1", Text: "x", CreatedAt: scoringNow.Add(-6 * time.Hour)}

	s := ScoreTweet(tw, cfg, scoringNow)
	assert.InDelta(t, 0.5, s.Recency, 1e-9)

	tw.CreatedAt = scoringNow.Add(time.Hour)
	assert.InDelta(t, 1.0, ScoreTweet(tw, cfg, scoringNow).Recency, 1e-9, "future timestamps count as fresh")
}

func TestScoreTweet_Pure(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Keywords = []string{"Go", "slog"}
	tw := provider.Tweet{ID: "7", Text: "go slog handlers", CreatedAt: scoringNow.Add(-time.Hour), AuthorFollows: 300}

	first := ScoreTweet(tw, cfg, scoringNow)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, ScoreTweet(tw, cfg, scoringNow))
	}
	assert.Equal(t, []string{"Go", "slog"}, first.Matched)
	assert.Equal(t, 1.0, first.Keyword)
}

func TestRankTweets(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Keywords = []string{"kestrel"}
	cfg.MinScore = 30

	tweets := []provider.Tweet{
		{ID: "100", Text: "nothing here", CreatedAt: scoringNow.Add(-72 * time.Hour), Metrics: provider.PublicMetrics{Replies: 500}},
		{ID: "101", Text: "kestrel release", CreatedAt: scoringNow},
		{ID: "102", Text: "kestrel release", CreatedAt: scoringNow},
	}

	ranked := RankTweets(tweets, cfg, scoringNow)
	require.Len(t, ranked, 2)
	assert.Equal(t, "102", ranked[0].Tweet.ID, "ties go to the newer tweet")
	assert.Equal(t, "101", ranked[1].Tweet.ID)
}
