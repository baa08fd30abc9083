package toolkit

import (
	"context"
	"strings"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// Page selects a page of a list endpoint. MaxResults of zero means 10.
type Page struct {
	MaxResults int    `json:"max_results,omitempty"`
	Token      string `json:"pagination_token,omitempty"`
	SinceID    string `json:"since_id,omitempty"`
}

func (p Page) options(op string) (provider.PageOptions, error) {
	n, err := pageSize(op, p.MaxResults, minPageSize)
	if err != nil {
		return provider.PageOptions{}, err
	}
	return provider.PageOptions{MaxResults: n, PaginationToken: p.Token, SinceID: p.SinceID}, nil
}

// GetTweet fetches one tweet with its public metrics.
func GetTweet(ctx context.Context, r provider.Reader, id string) (*provider.Tweet, error) {
	const op = "get_tweet"
	if err := requireID(op, "tweet_id", id); err != nil {
		return nil, err
	}
	t, err := r.GetTweet(ctx, id)
	return t, wrap(op, err)
}

// GetUserByUsername looks a user up by handle. A leading @ is allowed.
func GetUserByUsername(ctx context.Context, r provider.Reader, username string) (*provider.User, error) {
	const op = "get_user"
	u, err := normalizeUsername(op, username)
	if err != nil {
		return nil, err
	}
	user, err := r.GetUserByUsername(ctx, u)
	return user, wrap(op, err)
}

// GetUserByID looks a user up by platform ID.
func GetUserByID(ctx context.Context, r provider.Reader, id string) (*provider.User, error) {
	const op = "get_user"
	if err := requireID(op, "user_id", id); err != nil {
		return nil, err
	}
	user, err := r.GetUserByID(ctx, id)
	return user, wrap(op, err)
}

// GetMe returns the authenticated account.
func GetMe(ctx context.Context, r provider.Reader) (*provider.User, error) {
	user, err := r.GetMe(ctx)
	return user, wrap("get_me", err)
}

// SearchTweets runs a recent search. Search pages must hold at least 10 results.
func SearchTweets(ctx context.Context, r provider.Reader, query string, page Page) (*provider.TweetPage, error) {
	const op = "search_tweets"
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, invalid(op, "query is required")
	}
	if len(q) > maxQueryLen {
		return nil, invalid(op, "query is %d bytes, limit is %d", len(q), maxQueryLen)
	}
	n, err := pageSize(op, page.MaxResults, minSearchSize)
	if err != nil {
		return nil, err
	}
	res, err := r.SearchRecent(ctx, q, provider.SearchOptions{MaxResults: n, NextToken: page.Token, SinceID: page.SinceID})
	return res, wrap(op, err)
}

// GetMentions lists tweets mentioning userID, newest first.
func GetMentions(ctx context.Context, r provider.Reader, userID string, page Page) (*provider.TweetPage, error) {
	const op = "get_mentions"
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	opts, err := page.options(op)
	if err != nil {
		return nil, err
	}
	res, err := r.GetMentions(ctx, userID, opts)
	return res, wrap(op, err)
}

// GetHomeTimeline lists the reverse-chronological home timeline of userID.
func GetHomeTimeline(ctx context.Context, r provider.Reader, userID string, page Page) (*provider.TweetPage, error) {
	const op = "get_home_timeline"
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	opts, err := page.options(op)
	if err != nil {
		return nil, err
	}
	res, err := r.GetHomeTimeline(ctx, userID, opts)
	return res, wrap(op, err)
}

// GetUserTweets lists tweets authored by userID.
func GetUserTweets(ctx context.Context, r provider.Reader, userID string, page Page) (*provider.TweetPage, error) {
	const op = "get_user_tweets"
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	opts, err := page.options(op)
	if err != nil {
		return nil, err
	}
	res, err := r.GetUserTweets(ctx, userID, opts)
	return res, wrap(op, err)
}

// GetFollowers lists accounts following userID.
func GetFollowers(ctx context.Context, r provider.Reader, userID string, page Page) (*provider.UserPage, error) {
	const op = "get_followers"
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	opts, err := page.options(op)
	if err != nil {
		return nil, err
	}
	res, err := r.GetFollowers(ctx, userID, opts)
	return res, wrap(op, err)
}

// GetFollowing lists accounts userID follows.
func GetFollowing(ctx context.Context, r provider.Reader, userID string, page Page) (*provider.UserPage, error) {
	const op = "get_following"
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	opts, err := page.options(op)
	if err != nil {
		return nil, err
	}
	res, err := r.GetFollowing(ctx, userID, opts)
	return res, wrap(op, err)
}
