package xapi

import (
	"context"
	"net/http"
	"net/url"
)

// engagement describes one engagement resource under /2/users/:id.
type engagement struct {
	resource string
	field    string
	on, off  string
}

var (
	likes     = engagement{resource: "likes", field: "tweet_id", on: EndpointLike, off: EndpointUnlike}
	follows   = engagement{resource: "following", field: "target_user_id", on: EndpointFollow, off: EndpointUnfollow}
	retweets  = engagement{resource: "retweets", field: "tweet_id", on: EndpointRetweet, off: EndpointUnretweet}
	bookmarks = engagement{resource: "bookmarks", field: "tweet_id", on: EndpointBookmark, off: EndpointUnbookmark}
)

func (c *Client) engage(ctx context.Context, e engagement, userID, targetID string) error {
	return c.do(ctx, call{
		endpoint: e.on,
		method:   http.MethodPost,
		path:     "/2/users/" + url.PathEscape(userID) + "/" + e.resource,
		body:     map[string]string{e.field: targetID},
	}, nil)
}

func (c *Client) disengage(ctx context.Context, e engagement, userID, targetID string) error {
	return c.do(ctx, call{
		endpoint: e.off,
		method:   http.MethodDelete,
		path:     "/2/users/" + url.PathEscape(userID) + "/" + e.resource + "/" + url.PathEscape(targetID),
	}, nil)
}

func (c *Client) Like(ctx context.Context, userID, tweetID string) error {
	return c.engage(ctx, likes, userID, tweetID)
}

func (c *Client) Unlike(ctx context.Context, userID, tweetID string) error {
	return c.disengage(ctx, likes, userID, tweetID)
}

func (c *Client) Follow(ctx context.Context, userID, targetID string) error {
	return c.engage(ctx, follows, userID, targetID)
}

func (c *Client) Unfollow(ctx context.Context, userID, targetID string) error {
	return c.disengage(ctx, follows, userID, targetID)
}

func (c *Client) Retweet(ctx context.Context, userID, tweetID string) error {
	return c.engage(ctx, retweets, userID, tweetID)
}

func (c *Client) Unretweet(ctx context.Context, userID, tweetID string) error {
	return c.disengage(ctx, retweets, userID, tweetID)
}

func (c *Client) Bookmark(ctx context.Context, userID, tweetID string) error {
	return c.engage(ctx, bookmarks, userID, tweetID)
}

func (c *Client) Unbookmark(ctx context.Context, userID, tweetID string) error {
	return c.disengage(ctx, bookmarks, userID, tweetID)
}
