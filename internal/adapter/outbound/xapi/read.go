package xapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

func (c *Client) GetTweet(ctx context.Context, id string) (*provider.Tweet, error) {
	var resp tweetResponse
	err := c.do(ctx, call{endpoint: EndpointGetTweet, method: http.MethodGet, path: "/2/tweets/" + url.PathEscape(id), query: tweetQuery()}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, &provider.Error{Kind: provider.KindNotFound, Endpoint: EndpointGetTweet, Status: http.StatusOK, Message: "tweet " + id + " not found"}
	}
	t := resp.Data.toTweet(authorIndex(resp.Includes))
	return &t, nil
}

func (c *Client) GetUserByUsername(ctx context.Context, username string) (*provider.User, error) {
	return c.getUser(ctx, EndpointGetUserByUsername, "/2/users/by/username/"+url.PathEscape(username))
}

func (c *Client) GetUserByID(ctx context.Context, id string) (*provider.User, error) {
	return c.getUser(ctx, EndpointGetUserByID, "/2/users/"+url.PathEscape(id))
}

func (c *Client) GetMe(ctx context.Context) (*provider.User, error) {
	return c.getUser(ctx, EndpointGetMe, "/2/users/me")
}

func (c *Client) getUser(ctx context.Context, endpoint, path string) (*provider.User, error) {
	var resp userResponse
	if err := c.do(ctx, call{endpoint: endpoint, method: http.MethodGet, path: path, query: userQuery()}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, &provider.Error{Kind: provider.KindNotFound, Endpoint: endpoint, Status: http.StatusOK, Message: "user not found"}
	}
	u := resp.Data.toUser()
	return &u, nil
}

func (c *Client) SearchRecent(ctx context.Context, query string, opts provider.SearchOptions) (*provider.TweetPage, error) {
	q := tweetQuery()
	q.Set("query", query)
	return c.tweetList(ctx, EndpointSearch, "/2/tweets/search/recent", pageQuery(q, opts.MaxResults, opts.NextToken, "next_token", opts.SinceID))
}

func (c *Client) GetMentions(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	return c.timeline(ctx, EndpointMentions, userID, "mentions", opts)
}

func (c *Client) GetHomeTimeline(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	return c.timeline(ctx, EndpointHomeTimeline, userID, "timelines/reverse_chronological", opts)
}

func (c *Client) GetUserTweets(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	return c.timeline(ctx, EndpointUserTweets, userID, "tweets", opts)
}

func (c *Client) timeline(ctx context.Context, endpoint, userID, suffix string, opts provider.PageOptions) (*provider.TweetPage, error) {
	q := pageQuery(tweetQuery(), opts.MaxResults, opts.PaginationToken, "pagination_token", opts.SinceID)
	return c.tweetList(ctx, endpoint, "/2/users/"+url.PathEscape(userID)+"/"+suffix, q)
}

func (c *Client) tweetList(ctx context.Context, endpoint, path string, q url.Values) (*provider.TweetPage, error) {
	var resp tweetsResponse
	if err := c.do(ctx, call{endpoint: endpoint, method: http.MethodGet, path: path, query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.toPage(), nil
}

func (c *Client) GetFollowers(ctx context.Context, userID string, opts provider.PageOptions) (*provider.UserPage, error) {
	return c.userList(ctx, EndpointFollowers, "/2/users/"+url.PathEscape(userID)+"/followers", opts)
}

func (c *Client) GetFollowing(ctx context.Context, userID string, opts provider.PageOptions) (*provider.UserPage, error) {
	return c.userList(ctx, EndpointFollowing, "/2/users/"+url.PathEscape(userID)+"/following", opts)
}

func (c *Client) userList(ctx context.Context, endpoint, path string, opts provider.PageOptions) (*provider.UserPage, error) {
	q := pageQuery(userQuery(), opts.MaxResults, opts.PaginationToken, "pagination_token", "")
	var resp usersResponse
	if err := c.do(ctx, call{endpoint: endpoint, method: http.MethodGet, path: path, query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.toPage(), nil
}
