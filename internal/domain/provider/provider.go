package provider

import "context"

// Reader is the read half of the platform surface.
type Reader interface {
	GetTweet(ctx context.Context, id string) (*Tweet, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetMe(ctx context.Context) (*User, error)
	SearchRecent(ctx context.Context, query string, opts SearchOptions) (*TweetPage, error)
	GetMentions(ctx context.Context, userID string, opts PageOptions) (*TweetPage, error)
	GetHomeTimeline(ctx context.Context, userID string, opts PageOptions) (*TweetPage, error)
	GetUserTweets(ctx context.Context, userID string, opts PageOptions) (*TweetPage, error)
	GetFollowers(ctx context.Context, userID string, opts PageOptions) (*UserPage, error)
	GetFollowing(ctx context.Context, userID string, opts PageOptions) (*UserPage, error)
}

// Writer creates and removes content.
type Writer interface {
	Post(ctx context.Context, req PostRequest) (*PostedTweet, error)
	Reply(ctx context.Context, text, inReplyToID string, mediaIDs []string) (*PostedTweet, error)
	Quote(ctx context.Context, text, quotedID string, mediaIDs []string) (*PostedTweet, error)
	Delete(ctx context.Context, tweetID string) error
}

// Engager performs engagement actions on behalf of userID.
type Engager interface {
	Like(ctx context.Context, userID, tweetID string) error
	Unlike(ctx context.Context, userID, tweetID string) error
	Follow(ctx context.Context, userID, targetID string) error
	Unfollow(ctx context.Context, userID, targetID string) error
	Retweet(ctx context.Context, userID, tweetID string) error
	Unretweet(ctx context.Context, userID, tweetID string) error
	Bookmark(ctx context.Context, userID, tweetID string) error
	Unbookmark(ctx context.Context, userID, tweetID string) error
}

// MediaUploader uploads media payloads.
type MediaUploader interface {
	UploadMedia(ctx context.Context, upload MediaUpload) (*Media, error)
}

// Provider is the minimal capability set a platform backend must offer.
// Every method returns typed data or a *Error.
type Provider interface {
	Reader
	Writer
	Engager
	MediaUploader
}
