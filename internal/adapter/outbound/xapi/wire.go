package xapi

import (
	"net/url"
	"strconv"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

const (
	tweetFields = "author_id,conversation_id,created_at,lang,public_metrics,referenced_tweets"
	userFields  = "created_at,description,public_metrics,verified"
)

type apiError struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

type apiTweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	Lang           string    `json:"lang"`
	CreatedAt      time.Time `json:"created_at"`
	PublicMetrics  struct {
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		LikeCount       int `json:"like_count"`
		QuoteCount      int `json:"quote_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type apiUser struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

type includes struct {
	Users []apiUser `json:"users"`
}

type meta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
	NewestID    string `json:"newest_id"`
}

type tweetResponse struct {
	Data     *apiTweet  `json:"data"`
	Includes includes   `json:"includes"`
	Errors   []apiError `json:"errors"`
}

func (r *tweetResponse) apiErrors() ([]apiError, bool) { return r.Errors, r.Data != nil }

type tweetsResponse struct {
	Data     []apiTweet `json:"data"`
	Includes includes   `json:"includes"`
	Meta     meta       `json:"meta"`
}

type userResponse struct {
	Data   *apiUser   `json:"data"`
	Errors []apiError `json:"errors"`
}

func (r *userResponse) apiErrors() ([]apiError, bool) { return r.Errors, r.Data != nil }

type usersResponse struct {
	Data []apiUser `json:"data"`
	Meta meta      `json:"meta"`
}

type postResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type mediaResponse struct {
	Data struct {
		ID               string `json:"id"`
		ExpiresAfterSecs int    `json:"expires_after_secs"`
	} `json:"data"`
}

func (u apiUser) toUser() provider.User {
	return provider.User{
		ID:          u.ID,
		Username:    u.Username,
		Name:        u.Name,
		Description: u.Description,
		Followers:   u.PublicMetrics.FollowersCount,
		Following:   u.PublicMetrics.FollowingCount,
		TweetCount:  u.PublicMetrics.TweetCount,
		Verified:    u.Verified,
		CreatedAt:   u.CreatedAt,
	}
}

// toTweet converts t, filling author details from the expanded users.
func (t apiTweet) toTweet(authors map[string]apiUser) provider.Tweet {
	out := provider.Tweet{
		ID:             t.ID,
		Text:           t.Text,
		AuthorID:       t.AuthorID,
		ConversationID: t.ConversationID,
		Lang:           t.Lang,
		CreatedAt:      t.CreatedAt,
		Metrics: provider.PublicMetrics{
			Likes:       t.PublicMetrics.LikeCount,
			Retweets:    t.PublicMetrics.RetweetCount,
			Replies:     t.PublicMetrics.ReplyCount,
			Quotes:      t.PublicMetrics.QuoteCount,
			Impressions: t.PublicMetrics.ImpressionCount,
		},
	}
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "replied_to" {
			out.InReplyToID = ref.ID
		}
	}
	if a, ok := authors[t.AuthorID]; ok {
		out.AuthorUsername = a.Username
		out.AuthorFollows = a.PublicMetrics.FollowersCount
	}
	return out
}

func authorIndex(inc includes) map[string]apiUser {
	m := make(map[string]apiUser, len(inc.Users))
	for _, u := range inc.Users {
		m[u.ID] = u
	}
	return m
}

func (r *tweetsResponse) toPage() *provider.TweetPage {
	authors := authorIndex(r.Includes)
	page := &provider.TweetPage{
		Tweets:    make([]provider.Tweet, 0, len(r.Data)),
		NextToken: r.Meta.NextToken,
		NewestID:  r.Meta.NewestID,
	}
	for _, t := range r.Data {
		page.Tweets = append(page.Tweets, t.toTweet(authors))
	}
	return page
}

func (r *usersResponse) toPage() *provider.UserPage {
	page := &provider.UserPage{Users: make([]provider.User, 0, len(r.Data)), NextToken: r.Meta.NextToken}
	for _, u := range r.Data {
		page.Users = append(page.Users, u.toUser())
	}
	return page
}

func tweetQuery() url.Values {
	return url.Values{
		"tweet.fields": {tweetFields},
		"expansions":   {"author_id"},
		"user.fields":  {userFields},
	}
}

func userQuery() url.Values {
	return url.Values{"user.fields": {userFields}}
}

// pageQuery adds pagination parameters under the names the API uses for
// timelines ("pagination_token") or search ("next_token").
func pageQuery(q url.Values, maxResults int, token, tokenParam, sinceID string) url.Values {
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	if token != "" {
		q.Set(tokenParam, token)
	}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	return q
}
