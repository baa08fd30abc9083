// Package provider defines the platform capability surface that the toolkit
// depends on, along with the data types and errors it exchanges.
package provider

import "time"

// PublicMetrics are the engagement counters reported for a tweet.
type PublicMetrics struct {
	Likes       int `json:"like_count"`
	Retweets    int `json:"retweet_count"`
	Replies     int `json:"reply_count"`
	Quotes      int `json:"quote_count"`
	Impressions int `json:"impression_count"`
}

// Tweet is a single post on the platform.
type Tweet struct {
	ID             string        `json:"id"`
	Text           string        `json:"text"`
	AuthorID       string        `json:"author_id"`
	AuthorUsername string        `json:"author_username,omitempty"`
	AuthorFollows  int           `json:"author_followers,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	InReplyToID    string        `json:"in_reply_to_id,omitempty"`
	Lang           string        `json:"lang,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Metrics        PublicMetrics `json:"public_metrics"`
}

// User is a platform account.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Followers   int       `json:"followers_count"`
	Following   int       `json:"following_count"`
	TweetCount  int       `json:"tweet_count"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// PageOptions control pagination for list endpoints.
type PageOptions struct {
	MaxResults      int
	PaginationToken string
	SinceID         string
}

// SearchOptions control a recent-search request.
type SearchOptions struct {
	MaxResults int
	NextToken  string
	SinceID    string
}

// TweetPage is one page of tweets.
type TweetPage struct {
	Tweets    []Tweet `json:"tweets"`
	NextToken string  `json:"next_token,omitempty"`
	NewestID  string  `json:"newest_id,omitempty"`
}

// UserPage is one page of users.
type UserPage struct {
	Users     []User `json:"users"`
	NextToken string `json:"next_token,omitempty"`
}

// PostRequest describes a new tweet. ReplyToID and QuoteOfID are mutually
// exclusive; the toolkit enforces this before the request reaches a provider.
type PostRequest struct {
	Text      string   `json:"text"`
	ReplyToID string   `json:"reply_to_id,omitempty"`
	QuoteOfID string   `json:"quote_of_id,omitempty"`
	MediaIDs  []string `json:"media_ids,omitempty"`
}

// PostedTweet is the platform acknowledgement of a created tweet.
type PostedTweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MediaUpload is a binary payload to upload.
type MediaUpload struct {
	Data     []byte
	MimeType string
	Category string // tweet_image, tweet_gif, tweet_video
	Filename string
}

// Media is an uploaded media object that can be attached to a post.
type Media struct {
	ID        string `json:"media_id"`
	MimeType  string `json:"mime_type"`
	SizeBytes int    `json:"size_bytes"`
	ExpiresIn int    `json:"expires_after_secs,omitempty"`
}

// RateLimitInfo is the parsed x-rate-limit-* header set of one response.
type RateLimitInfo struct {
	Endpoint  string    `json:"endpoint"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// RateLimitObserver receives rate-limit headers as they are parsed.
// Implementations must be safe for concurrent use.
type RateLimitObserver func(info RateLimitInfo)
