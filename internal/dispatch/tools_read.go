package dispatch

import (
	"context"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

type pageParams struct {
	MaxResults int    `json:"max_results"`
	Token      string `json:"pagination_token"`
	SinceID    string `json:"since_id"`
}

func (p pageParams) page() toolkit.Page {
	return toolkit.Page{MaxResults: p.MaxResults, Token: p.Token, SinceID: p.SinceID}
}

type userPageParams struct {
	pageParams
	UserID string `json:"user_id"`
}

// userOrMe returns the user_id param, or the authenticated account.
func (p userPageParams) userOrMe(ctx context.Context, inv *invocation) (string, error) {
	if p.UserID != "" {
		return p.UserID, nil
	}
	return inv.server.meID.get(ctx, inv)
}

func readTools() []toolDef {
	provOnly := []Capability{CapProvider}
	read := func(name, desc string, schema map[string]any, h Handler) toolDef {
		return toolDef{name: name, description: desc, category: policy.CategoryRead, group: groupRead, requires: provOnly, schema: schema, handler: h}
	}
	userPage := func(userDesc string, required bool) map[string]any {
		u := platformID("user_id", userDesc)
		if required {
			u = req(u)
		}
		return object(append([]prop{u}, pageProps(5)...)...)
	}

	return []toolDef{
		read("get_tweet", "Fetch one tweet by ID.",
			object(req(platformID("tweet_id", "Tweet ID."))),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					TweetID string `json:"tweet_id"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(toolkit.GetTweet(ctx, inv.deps().Provider, p.TweetID))
			}),
		read("get_user", "Fetch a user by username or ID. Exactly one of username and user_id is required.",
			withOneOf(object(
				str("username", "Handle without the leading @."),
				platformID("user_id", "User ID."),
			), "username", "user_id"),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Username string `json:"username"`
					UserID   string `json:"user_id"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				if p.UserID != "" {
					return result(toolkit.GetUserByID(ctx, inv.deps().Provider, p.UserID))
				}
				return result(toolkit.GetUserByUsername(ctx, inv.deps().Provider, p.Username))
			}),
		read("get_me", "Fetch the authenticated account.",
			object(),
			func(ctx context.Context, inv *invocation) (any, error) {
				return result(toolkit.GetMe(ctx, inv.deps().Provider))
			}),
		read("search_tweets", "Search recent tweets. Pages hold 10-100 results.",
			object(append([]prop{req(str("query", "Search query."))}, pageProps(10)...)...),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					pageParams
					Query string `json:"query"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(toolkit.SearchTweets(ctx, inv.deps().Provider, p.Query, p.page()))
			}),
		read("get_mentions", "List tweets mentioning a user, the authenticated account by default.",
			userPage("User ID. Defaults to the authenticated account.", false),
			userPageHandler(toolkit.GetMentions)),
		read("get_home_timeline", "List the home timeline of a user, the authenticated account by default.",
			userPage("User ID. Defaults to the authenticated account.", false),
			userPageHandler(toolkit.GetHomeTimeline)),
		read("get_user_tweets", "List tweets posted by a user.",
			userPage("User ID.", true),
			userPageHandler(toolkit.GetUserTweets)),
		read("get_followers", "List followers of a user.",
			userPage("User ID.", true),
			userListHandler(toolkit.GetFollowers)),
		read("get_following", "List accounts a user follows.",
			userPage("User ID.", true),
			userListHandler(toolkit.GetFollowing)),
	}
}

type tweetPageFunc func(context.Context, provider.Reader, string, toolkit.Page) (*provider.TweetPage, error)

type userListFunc func(context.Context, provider.Reader, string, toolkit.Page) (*provider.UserPage, error)

func userPageHandler(fn tweetPageFunc) Handler {
	return func(ctx context.Context, inv *invocation) (any, error) {
		var p userPageParams
		if err := inv.decode(&p); err != nil {
			return nil, err
		}
		userID, err := p.userOrMe(ctx, inv)
		if err != nil {
			return nil, err
		}
		return result(fn(ctx, inv.deps().Provider, userID, p.page()))
	}
}

func userListHandler(fn userListFunc) Handler {
	return func(ctx context.Context, inv *invocation) (any, error) {
		var p userPageParams
		if err := inv.decode(&p); err != nil {
			return nil, err
		}
		return result(fn(ctx, inv.deps().Provider, p.UserID, p.page()))
	}
}

// withOneOf requires exactly one of the named properties.
func withOneOf(doc map[string]any, names ...string) map[string]any {
	alts := make([]any, 0, len(names))
	for _, n := range names {
		alts = append(alts, map[string]any{"required": []string{n}})
	}
	doc["oneOf"] = alts
	return doc
}

// TextCheck is the result of check_text.
type TextCheck struct {
	WeightedLength int    `json:"weighted_length"`
	Limit          int    `json:"limit"`
	Valid          bool   `json:"valid"`
	Problem        string `json:"problem,omitempty"`
}

// RankedPage is the result of rank_tweets.
type RankedPage struct {
	Query  string                `json:"query"`
	Ranked []toolkit.ScoredTweet `json:"ranked"`
}

func scoringTools() []toolDef {
	return []toolDef{
		{
			name:        "score_tweet",
			description: "Score one tweet 0-100 for keyword relevance, engagement, recency, author reach and reply opportunity.",
			category:    policy.CategoryRead,
			group:       groupScoring,
			requires:    []Capability{CapProvider},
			schema: object(
				req(platformID("tweet_id", "Tweet ID.")),
				list("keywords", "Keywords to score against. Defaults to the configured keywords.", 0, 50, nil),
			),
			handler: func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					TweetID  string   `json:"tweet_id"`
					Keywords []string `json:"keywords"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				t, err := toolkit.GetTweet(ctx, inv.deps().Provider, p.TweetID)
				if err != nil {
					return nil, err
				}
				cfg := inv.scoring(p.Keywords)
				return toolkit.ScoredTweet{Tweet: *t, Score: toolkit.ScoreTweet(*t, cfg, inv.server.now())}, nil
			},
		},
		{
			name:        "rank_tweets",
			description: "Search recent tweets and rank them by score, best first.",
			category:    policy.CategoryRead,
			group:       groupScoring,
			requires:    []Capability{CapProvider},
			schema: object(
				req(str("query", "Search query.")),
				integer("max_results", "How many tweets to fetch and rank.", 10, 100),
				list("keywords", "Keywords to score against. Defaults to the configured keywords.", 0, 50, nil),
			),
			handler: func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Query      string   `json:"query"`
					MaxResults int      `json:"max_results"`
					Keywords   []string `json:"keywords"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				page, err := toolkit.SearchTweets(ctx, inv.deps().Provider, p.Query, toolkit.Page{MaxResults: p.MaxResults})
				if err != nil {
					return nil, err
				}
				ranked := toolkit.RankTweets(page.Tweets, inv.scoring(p.Keywords), inv.server.now())
				return RankedPage{Query: p.Query, Ranked: ranked}, nil
			},
		},
		{
			name:        "check_text",
			description: "Measure post text the way the platform does: URLs count 23, wide characters count 2.",
			category:    policy.CategoryRead,
			group:       groupScoring,
			schema:      object(req(str("text", "Post text."))),
			handler: func(_ context.Context, inv *invocation) (any, error) {
				var p struct {
					Text string `json:"text"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				out := TextCheck{WeightedLength: toolkit.WeightedLength(p.Text), Limit: toolkit.MaxWeightedLength, Valid: true}
				if err := toolkit.ValidateText("check_text", p.Text); err != nil {
					out.Valid = false
					out.Problem = err.Error()
				}
				return out, nil
			},
		},
	}
}

// scoring returns the configured scoring, with keywords overridden when given.
func (inv *invocation) scoring(keywords []string) toolkit.ScoringConfig {
	cfg := inv.deps().Scoring
	if cfg.Weights == (toolkit.ScoreWeights{}) {
		def := toolkit.DefaultScoringConfig()
		def.Keywords = cfg.Keywords
		cfg = def
	}
	if len(keywords) > 0 {
		cfg.Keywords = keywords
	}
	return cfg
}
