package toolkit

import (
	"context"
	"fmt"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

const (
	minThreadParts = 2
	maxThreadParts = 25
)

// ValidatePost checks post text and attached media IDs without posting.
func ValidatePost(op, text string, mediaIDs []string) error {
	if err := ValidateText(op, text); err != nil {
		return err
	}
	return checkMediaIDs(op, mediaIDs)
}

// ValidateReply checks the target tweet ID and the post without posting.
// Quotes use the same rules.
func ValidateReply(op, tweetID, text string, mediaIDs []string) error {
	if err := requireID(op, "tweet_id", tweetID); err != nil {
		return err
	}
	return ValidatePost(op, text, mediaIDs)
}

// PostTweet publishes a standalone post.
func PostTweet(ctx context.Context, w provider.Writer, text string, mediaIDs []string) (*provider.PostedTweet, error) {
	const op = "post_tweet"
	if err := ValidatePost(op, text, mediaIDs); err != nil {
		return nil, err
	}
	res, err := w.Post(ctx, provider.PostRequest{Text: text, MediaIDs: mediaIDs})
	return res, wrap(op, err)
}

// ReplyToTweet posts text as a reply to tweetID.
func ReplyToTweet(ctx context.Context, w provider.Writer, tweetID, text string, mediaIDs []string) (*provider.PostedTweet, error) {
	const op = "reply_to_tweet"
	if err := ValidateReply(op, tweetID, text, mediaIDs); err != nil {
		return nil, err
	}
	res, err := w.Reply(ctx, text, tweetID, mediaIDs)
	return res, wrap(op, err)
}

// QuoteTweet posts text quoting tweetID.
func QuoteTweet(ctx context.Context, w provider.Writer, tweetID, text string, mediaIDs []string) (*provider.PostedTweet, error) {
	const op = "quote_tweet"
	if err := ValidateReply(op, tweetID, text, mediaIDs); err != nil {
		return nil, err
	}
	res, err := w.Quote(ctx, text, tweetID, mediaIDs)
	return res, wrap(op, err)
}

// DeleteTweet deletes a tweet of the authenticated account.
func DeleteTweet(ctx context.Context, w provider.Writer, tweetID string) error {
	const op = "delete_tweet"
	if err := requireID(op, "tweet_id", tweetID); err != nil {
		return err
	}
	return wrap(op, w.Delete(ctx, tweetID))
}

// ThreadResult reports how far a thread got. FailedAt and Error are set only
// when posting stopped early; Posted always holds the IDs that went out.
type ThreadResult struct {
	Posted   []string `json:"posted"`
	FailedAt *int     `json:"failed_at,omitempty"`
	Error    *Error   `json:"error,omitempty"`
}

// Complete reports whether every part was posted.
func (r ThreadResult) Complete() bool {
	return r.FailedAt == nil
}

// ValidateThread checks part count and every part's text without posting.
func ValidateThread(parts []string) error {
	const op = "post_thread"
	if len(parts) < minThreadParts || len(parts) > maxThreadParts {
		return invalid(op, "a thread needs %d-%d parts, got %d", minThreadParts, maxThreadParts, len(parts))
	}
	for i, p := range parts {
		if err := ValidateText(op, p); err != nil {
			te := asError(op, err)
			te.Message = fmt.Sprintf("part %d: %s", i, te.Message)
			return te
		}
	}
	return nil
}

// ValidateThreadReply is ValidateThread plus the optional reply_to target.
func ValidateThreadReply(parts []string, replyTo string) error {
	if err := ValidateThread(parts); err != nil {
		return err
	}
	if replyTo == "" {
		return nil
	}
	return requireID("post_thread", "reply_to", replyTo)
}

// PostThread posts parts in order, each replying to the one before it.
// If replyTo is set the first part replies to it. Posting stops at the first
// failure; already posted parts are not rolled back. When the failure happens
// after at least one part went out, the returned error has kind
// partial_failure and wraps the cause.
func PostThread(ctx context.Context, w provider.Writer, parts []string, replyTo string) (ThreadResult, error) {
	const op = "post_thread"
	res := ThreadResult{Posted: []string{}}
	if err := ValidateThreadReply(parts, replyTo); err != nil {
		return res, err
	}

	parent := replyTo
	for i, text := range parts {
		var (
			posted *provider.PostedTweet
			err    error
		)
		if parent == "" {
			posted, err = w.Post(ctx, provider.PostRequest{Text: text})
		} else {
			posted, err = w.Reply(ctx, text, parent, nil)
		}
		if err != nil {
			idx := i
			cause := asError(op, err)
			res.FailedAt = &idx
			res.Error = cause
			if i == 0 {
				return res, cause
			}
			return res, &Error{
				Kind:    KindPartialFailure,
				Op:      op,
				Message: fmt.Sprintf("posted %d of %d parts, part %d failed: %s", i, len(parts), i, cause.Message),
				Err:     cause,
			}
		}
		res.Posted = append(res.Posted, posted.ID)
		parent = posted.ID
	}
	return res, nil
}
