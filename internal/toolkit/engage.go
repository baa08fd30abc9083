package toolkit

import (
	"context"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// Engagement is the acknowledged state of an engagement edge after a call.
type Engagement struct {
	Action   string `json:"action"`
	TargetID string `json:"target_id"`
	Active   bool   `json:"active"`
}

type engageFunc func(ctx context.Context, userID, targetID string) error

func engage(ctx context.Context, op, targetField, userID, targetID string, active bool, fn engageFunc) (*Engagement, error) {
	if err := requireID(op, "user_id", userID); err != nil {
		return nil, err
	}
	if err := requireID(op, targetField, targetID); err != nil {
		return nil, err
	}
	if err := fn(ctx, userID, targetID); err != nil {
		return nil, wrap(op, err)
	}
	return &Engagement{Action: op, TargetID: targetID, Active: active}, nil
}

// Like likes tweetID as userID.
func Like(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "like_tweet", "tweet_id", userID, tweetID, true, e.Like)
}

// Unlike removes userID's like from tweetID.
func Unlike(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "unlike_tweet", "tweet_id", userID, tweetID, false, e.Unlike)
}

// Follow makes userID follow targetID.
func Follow(ctx context.Context, e provider.Engager, userID, targetID string) (*Engagement, error) {
	return engage(ctx, "follow_user", "target_user_id", userID, targetID, true, e.Follow)
}

// Unfollow makes userID stop following targetID.
func Unfollow(ctx context.Context, e provider.Engager, userID, targetID string) (*Engagement, error) {
	return engage(ctx, "unfollow_user", "target_user_id", userID, targetID, false, e.Unfollow)
}

// Retweet retweets tweetID as userID.
func Retweet(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "retweet", "tweet_id", userID, tweetID, true, e.Retweet)
}

// Unretweet undoes userID's retweet of tweetID.
func Unretweet(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "unretweet", "tweet_id", userID, tweetID, false, e.Unretweet)
}

// Bookmark adds tweetID to userID's bookmarks.
func Bookmark(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "bookmark_tweet", "tweet_id", userID, tweetID, true, e.Bookmark)
}

// Unbookmark removes tweetID from userID's bookmarks.
func Unbookmark(ctx context.Context, e provider.Engager, userID, tweetID string) (*Engagement, error) {
	return engage(ctx, "unbookmark_tweet", "tweet_id", userID, tweetID, false, e.Unbookmark)
}
