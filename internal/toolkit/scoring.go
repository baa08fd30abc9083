package toolkit

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// ScoreWeights weight the score components. They need not sum to one.
type ScoreWeights struct {
	Keyword    float64 `json:"keyword" mapstructure:"keyword"`
	Engagement float64 `json:"engagement" mapstructure:"engagement"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	Reach      float64 `json:"reach" mapstructure:"reach"`
	Reply      float64 `json:"reply" mapstructure:"reply"`
}

// ScoringConfig parameterizes ScoreTweet.
type ScoringConfig struct {
	Keywords        []string      `json:"keywords" mapstructure:"keywords"`
	Weights         ScoreWeights  `json:"weights" mapstructure:"weights"`
	RecencyHalfLife time.Duration `json:"recency_half_life" mapstructure:"recency_half_life"`
	MinScore        float64       `json:"min_score" mapstructure:"min_score"`
}

// DefaultScoringConfig returns the weights used when none are configured.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: ScoreWeights{
			Keyword:    0.35,
			Engagement: 0.20,
			Recency:    0.20,
			Reach:      0.15,
			Reply:      0.10,
		},
		RecencyHalfLife: 6 * time.Hour,
	}
}

// ScoreBreakdown holds each component in [0,1] and the weighted total in [0,100].
type ScoreBreakdown struct {
	Keyword    float64  `json:"keyword"`
	Engagement float64  `json:"engagement"`
	Recency    float64  `json:"recency"`
	Reach      float64  `json:"reach"`
	Reply      float64  `json:"reply"`
	Total      float64  `json:"total"`
	Matched    []string `json:"matched_keywords,omitempty"`
}

// ScoredTweet pairs a tweet with its score.
type ScoredTweet struct {
	Tweet provider.Tweet `json:"tweet"`
	Score ScoreBreakdown `json:"score"`
}

// ScoreTweet is pure: the same tweet, config and now always give the same score.
func ScoreTweet(t provider.Tweet, cfg ScoringConfig, now time.Time) ScoreBreakdown {
	var b ScoreBreakdown

	text := strings.ToLower(t.Text)
	for _, kw := range cfg.Keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(text, k) {
			b.Matched = append(b.Matched, kw)
		}
	}
	if len(cfg.Keywords) > 0 {
		// Two hits already make a tweet fully relevant.
		b.Keyword = math.Min(1, float64(len(b.Matched))/math.Min(2, float64(len(cfg.Keywords))))
	}

	m := t.Metrics
	weighted := float64(m.Likes + 2*m.Retweets + m.Replies + 2*m.Quotes)
	b.Engagement = clamp01(math.Log10(1+weighted) / 3)

	halfLife := cfg.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 6 * time.Hour
	}
	age := now.Sub(t.CreatedAt)
	if age < 0 || t.CreatedAt.IsZero() {
		age = 0
	}
	b.Recency = math.Pow(0.5, age.Hours()/halfLife.Hours())

	b.Reach = clamp01(math.Log10(1+float64(t.AuthorFollows)) / 6)

	b.Reply = 1 / (1 + float64(m.Replies)/10)
	if t.InReplyToID != "" {
		b.Reply /= 2
	}

	w := cfg.Weights
	sum := w.Keyword + w.Engagement + w.Recency + w.Reach + w.Reply
	if sum <= 0 {
		w = DefaultScoringConfig().Weights
		sum = 1
	}
	total := w.Keyword*b.Keyword + w.Engagement*b.Engagement + w.Recency*b.Recency + w.Reach*b.Reach + w.Reply*b.Reply
	b.Total = math.Round(100*total/sum*100) / 100
	return b
}

// RankTweets scores tweets, drops those under cfg.MinScore and sorts the rest
// by score descending. Ties go to the newer tweet.
func RankTweets(tweets []provider.Tweet, cfg ScoringConfig, now time.Time) []ScoredTweet {
	out := make([]ScoredTweet, 0, len(tweets))
	for _, t := range tweets {
		s := ScoreTweet(t, cfg, now)
		if s.Total < cfg.MinScore {
			continue
		}
		out = append(out, ScoredTweet{Tweet: t, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.Total != out[j].Score.Total {
			return out[i].Score.Total > out[j].Score.Total
		}
		a, b := out[i].Tweet.ID, out[j].Tweet.ID
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a > b
	})
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
