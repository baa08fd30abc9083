package dispatch

import (
	"context"
	"encoding/base64"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

const (
	rawSuffix   = "Calls the platform directly without the policy gateway. Policy enforcement and audit are the caller's responsibility."
	gatedSuffix = "Routed through the policy gateway; the decision is returned in meta.decision."
)

// mutationDef describes one mutation shared by the raw and gated variants.
type mutationDef struct {
	name        string
	description string
	props       []prop
	// gatedProps are only accepted by the gated variant.
	gatedProps []prop
	raw        Handler
}

func mediaIDs() prop {
	return list("media_ids", "Uploaded media IDs.", 0, 4, map[string]any{"type": "string", "pattern": "^[0-9]{1,20}$"})
}

// postText is bounded loosely here; the toolkit applies the weighted limit.
func postText() prop {
	return req(text("text", "Post text, at most 280 weighted characters.", 1000))
}

var targetProps = []prop{
	platformID("author_id", "Author of the target, for per-author caps."),
	str("keyword", "Discovery keyword that led here, for per-keyword caps."),
}

// langProp feeds language policy rules. Replies and quotes without it take
// the target tweet's language when a rule needs one.
var langProp = prop{name: "lang", schema: map[string]any{
	"type":        "string",
	"description": "Language of the text as a BCP 47 tag, e.g. en or pt-BR.",
	"pattern":     "^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$",
}}

// contentProps are the gated-only params of tools that publish text.
func contentProps(extra ...prop) []prop {
	return append(append([]prop{}, extra...), langProp)
}

func mutationDefs() []mutationDef {
	tweetID := req(platformID("tweet_id", "Target tweet ID."))
	userID := req(platformID("user_id", "Target user ID."))
	return []mutationDef{
		{
			name:        "post_tweet",
			description: "Publish a standalone post.",
			props:       []prop{postText(), mediaIDs()},
			gatedProps:  contentProps(),
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p postParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(toolkit.PostTweet(ctx, inv.deps().Provider, p.Text, p.MediaIDs))
			},
		},
		{
			name:        "reply_to_tweet",
			description: "Reply to a tweet.",
			props:       []prop{tweetID, postText(), mediaIDs()},
			gatedProps:  contentProps(targetProps...),
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p postParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(toolkit.ReplyToTweet(ctx, inv.deps().Provider, p.TweetID, p.Text, p.MediaIDs))
			},
		},
		{
			name:        "quote_tweet",
			description: "Quote a tweet with commentary.",
			props:       []prop{tweetID, postText(), mediaIDs()},
			gatedProps:  contentProps(targetProps...),
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p postParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(toolkit.QuoteTweet(ctx, inv.deps().Provider, p.TweetID, p.Text, p.MediaIDs))
			},
		},
		{
			name:        "post_thread",
			description: "Post 2-25 parts as a thread, each replying to the previous one. Posting stops at the first failure and reports the posted prefix.",
			props: []prop{
				req(list("parts", "Thread parts in order.", 2, 25, map[string]any{"type": "string", "minLength": 1, "maxLength": 1000})),
				platformID("reply_to", "Tweet the first part replies to."),
			},
			gatedProps: contentProps(),
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Parts   []string `json:"parts"`
					ReplyTo string   `json:"reply_to"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return toolkit.PostThread(ctx, inv.deps().Provider, p.Parts, p.ReplyTo)
			},
		},
		{
			name:        "delete_tweet",
			description: "Delete a tweet of the authenticated account.",
			props:       []prop{tweetID},
			gatedProps:  []prop{boolean("confirm", "Must be true when deletes need confirmation.")},
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p postParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				if err := toolkit.DeleteTweet(ctx, inv.deps().Provider, p.TweetID); err != nil {
					return nil, err
				}
				return map[string]any{"tweet_id": p.TweetID, "deleted": true}, nil
			},
		},
		engageDef("like_tweet", "Like a tweet.", tweetID, toolkit.Like),
		engageDef("unlike_tweet", "Remove a like.", tweetID, toolkit.Unlike),
		engageDef("retweet", "Retweet a tweet.", tweetID, toolkit.Retweet),
		engageDef("unretweet", "Undo a retweet.", tweetID, toolkit.Unretweet),
		engageDef("bookmark_tweet", "Bookmark a tweet.", tweetID, toolkit.Bookmark),
		engageDef("unbookmark_tweet", "Remove a bookmark.", tweetID, toolkit.Unbookmark),
		engageDef("follow_user", "Follow a user.", userID, toolkit.Follow),
		engageDef("unfollow_user", "Unfollow a user.", userID, toolkit.Unfollow),
		{
			name:        "upload_media",
			description: "Upload an image, gif or video for later posts. Types: jpeg, png, webp, gif, mp4.",
			props: []prop{
				req(str("data_base64", "Standard base64 of the file contents.")),
				str("filename", "Original file name."),
			},
			raw: func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Data     string `json:"data_base64"`
					Filename string `json:"filename"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				data, err := base64.StdEncoding.DecodeString(p.Data)
				if err != nil {
					return nil, &toolkit.Error{Kind: toolkit.KindInvalidInput, Op: "upload_media", Message: "data_base64 is not valid base64", Err: err}
				}
				return result(toolkit.UploadMedia(ctx, inv.deps().Provider, data, p.Filename))
			},
		},
	}
}

type postParams struct {
	TweetID  string   `json:"tweet_id"`
	Text     string   `json:"text"`
	MediaIDs []string `json:"media_ids"`
}

type engageFunc func(context.Context, provider.Engager, string, string) (*toolkit.Engagement, error)

// engageDef builds an engagement tool acting as the authenticated account.
func engageDef(name, desc string, target prop, fn engageFunc) mutationDef {
	var gated []prop
	if target.name == "tweet_id" {
		gated = targetProps
	}
	return mutationDef{
		name:        name,
		description: desc,
		props:       []prop{target},
		gatedProps:  gated,
		raw: func(ctx context.Context, inv *invocation) (any, error) {
			var p map[string]string
			if err := inv.decode(&p); err != nil {
				return nil, err
			}
			me, err := inv.server.meID.get(ctx, inv)
			if err != nil {
				return nil, err
			}
			return result(fn(ctx, inv.deps().Provider, me, p[target.name]))
		},
	}
}

func rawWriteTools() []toolDef {
	defs := mutationDefs()
	out := make([]toolDef, 0, len(defs))
	for _, d := range defs {
		category, _ := workflow.CategoryOf(d.name)
		out = append(out, toolDef{
			name:        d.name,
			description: describe(d.description, rawSuffix),
			category:    category,
			group:       groupRawWrite,
			requires:    []Capability{CapProvider},
			schema:      object(d.props...),
			handler:     d.raw,
		})
	}
	return out
}

func mutationTools() []toolDef {
	defs := mutationDefs()
	out := make([]toolDef, 0, len(defs))
	for _, d := range defs {
		category, _ := workflow.CategoryOf(d.name)
		props := append(append(append([]prop{}, d.props...), d.gatedProps...), fingerprintProp)
		out = append(out, toolDef{
			name:        d.name,
			description: describe(d.description, gatedSuffix),
			category:    category,
			group:       groupMutation,
			requires:    []Capability{CapProvider, CapStorage, CapGateway},
			schema:      object(props...),
			handler:     gatedHandler(d.name),
		})
	}
	return out
}

// gatedHandler sends a mutation through the workflow engine and gateway.
func gatedHandler(name string) Handler {
	return func(ctx context.Context, inv *invocation) (any, error) {
		args, err := inv.args()
		if err != nil {
			return nil, err
		}
		fp := inv.fingerprint(args)
		req := workflow.MutationRequest{Tool: name, Actor: inv.actor, Args: args, Fingerprint: fp}
		if name == "follow_user" || name == "unfollow_user" {
			req.Author, _ = args["user_id"].(string)
		}
		return inv.execute(ctx, req)
	}
}
