package workflow

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// MutationRequest is one mutation attempt by a scheduler loop, an agent or a
// reviewer. Author, Keyword, Language and Confirmed fall back to the
// "author_id", "keyword", "lang" and "confirm" arguments when unset.
type MutationRequest struct {
	Tool        string
	Actor       string
	Args        map[string]any
	Fingerprint string
	Confirmed   bool
	Author      string
	Keyword     string
	Language    string
	Content     string
	Score       float64
	ApprovalID  string
}

type (
	execFunc     func(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error)
	validateFunc func(args map[string]any) error
)

// mutation describes how a mutation tool is validated, classified and
// executed. validate is pure and runs before the gateway sees the request.
// target names the tweet whose language a reply or quote inherits.
type mutation struct {
	category   policy.Category
	endpoint   string
	engagement string
	target     string
	validate   validateFunc
	exec       execFunc
}

var mutations = map[string]mutation{
	"post_tweet":       {category: policy.CategoryWrite, endpoint: "post", validate: validatePost, exec: execPost},
	"reply_to_tweet":   {category: policy.CategoryWrite, endpoint: "post", target: "tweet_id", validate: validateReply("reply_to_tweet"), exec: execReply},
	"quote_tweet":      {category: policy.CategoryWrite, endpoint: "post", target: "tweet_id", validate: validateReply("quote_tweet"), exec: execQuote},
	"post_thread":      {category: policy.CategoryWrite, endpoint: "post", target: "reply_to", validate: validateThread, exec: execThread},
	"delete_tweet":     {category: policy.CategoryDelete, endpoint: "delete", validate: validateTarget("delete_tweet", "tweet_id"), exec: execDelete},
	"like_tweet":       engageMutation("like_tweet", "like", "tweet_id", toolkit.Like),
	"unlike_tweet":     engageMutation("unlike_tweet", "unlike", "tweet_id", toolkit.Unlike),
	"retweet":          engageMutation("retweet", "retweet", "tweet_id", toolkit.Retweet),
	"unretweet":        engageMutation("unretweet", "unretweet", "tweet_id", toolkit.Unretweet),
	"follow_user":      engageMutation("follow_user", "follow", "user_id", toolkit.Follow),
	"unfollow_user":    engageMutation("unfollow_user", "unfollow", "user_id", toolkit.Unfollow),
	"bookmark_tweet":   engageMutation("bookmark_tweet", "bookmark", "tweet_id", toolkit.Bookmark),
	"unbookmark_tweet": engageMutation("unbookmark_tweet", "unbookmark", "tweet_id", toolkit.Unbookmark),
	"upload_media":     {category: policy.CategoryMedia, endpoint: "upload_media", validate: validateUpload, exec: execUpload},
}

func engageMutation(tool, action, targetKey string, fn engageToolkitFunc) mutation {
	return mutation{
		category:   policy.CategoryEngage,
		endpoint:   action,
		engagement: action,
		validate:   validateTarget(tool, targetKey),
		exec:       engageExec(fn, targetKey),
	}
}

// MutationTools returns the names of every executable mutation, sorted.
func MutationTools() []string {
	names := make([]string, 0, len(mutations))
	for name := range mutations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CategoryOf returns the policy category of a mutation tool.
func CategoryOf(tool string) (policy.Category, bool) {
	m, ok := mutations[tool]
	return m.category, ok
}

// Mutate routes one mutation through the gateway with exec as the side
// effect. It is the single path for direct mutation tools.
func (e *Engine) Mutate(ctx context.Context, req MutationRequest, exec service.ExecFunc) (service.Result, error) {
	ctx, span := e.startSpan(ctx, "mutate")
	res, err := e.gateway.Do(ctx, e.policyRequest(req), exec)
	span.end(ctx, err)
	return res, err
}

// Execute validates a registered mutation tool's arguments and routes it
// through the gateway. Invalid arguments fail with a "validate" step error
// before any decision is made, so they never use quota, reach the audit
// trail or become approval items.
func (e *Engine) Execute(ctx context.Context, req MutationRequest) (service.Result, error) {
	m, ok := mutations[req.Tool]
	if !ok {
		return service.Result{}, fmt.Errorf("%w: %s", ErrUnknownMutation, req.Tool)
	}
	if m.validate != nil {
		if err := m.validate(req.Args); err != nil {
			return service.Result{}, stepError("validate", KindToolkit, err)
		}
	}
	req, err := e.resolveLanguage(ctx, m, req)
	if err != nil {
		return service.Result{}, err
	}
	exec, err := e.executor(req.Tool, req.Args)
	if err != nil {
		return service.Result{}, err
	}
	return e.Mutate(ctx, req, exec)
}

// IsInvalid reports whether err is an argument validation failure from
// Execute.
func IsInvalid(err error) bool {
	step, ok := StepOf(err)
	return ok && step == "validate"
}

// languageRules is implemented by gateways that can tell whether any active
// rule looks at the content language.
type languageRules interface {
	LanguageRules() bool
}

// resolveLanguage fills req.Language for replies and quotes from the target
// tweet when no language was given and a rule depends on it. A target that
// cannot be read fails the request before the gateway.
func (e *Engine) resolveLanguage(ctx context.Context, m mutation, req MutationRequest) (MutationRequest, error) {
	if req.Language != "" || argString(req.Args, "lang") != "" || m.target == "" {
		return req, nil
	}
	lr, ok := e.gateway.(languageRules)
	if !ok || !lr.LanguageRules() {
		return req, nil
	}
	id := argString(req.Args, m.target)
	if id == "" {
		return req, nil
	}
	t, err := toolkit.GetTweet(ctx, e.provider, id)
	if err != nil {
		return req, stepError("resolve_language", KindToolkit, err)
	}
	req.Language = t.Lang
	return req, nil
}

// executor binds a registered mutation to its arguments.
func (e *Engine) executor(tool string, args map[string]any) (service.ExecFunc, error) {
	m, ok := mutations[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMutation, tool)
	}
	return func(ctx context.Context) (service.ExecResult, error) {
		return m.exec(ctx, e, args)
	}, nil
}

func (e *Engine) policyRequest(req MutationRequest) policy.Request {
	m := mutations[req.Tool]
	category := m.category
	if category == "" {
		category = policy.CategoryWrite
	}
	pr := policy.Request{
		Tool:             req.Tool,
		Category:         category,
		Actor:            req.Actor,
		Args:             req.Args,
		Fingerprint:      req.Fingerprint,
		Language:         req.Language,
		Author:           req.Author,
		Keyword:          req.Keyword,
		Engagement:       m.engagement,
		PlatformEndpoint: m.endpoint,
		Confirmed:        req.Confirmed,
		ApprovalID:       req.ApprovalID,
		Content:          req.Content,
		Score:            req.Score,
		Time:             e.now(),
	}
	if pr.Author == "" {
		pr.Author = argString(req.Args, "author_id")
	}
	if pr.Keyword == "" {
		pr.Keyword = argString(req.Args, "keyword")
	}
	if !pr.Confirmed {
		pr.Confirmed, _ = req.Args["confirm"].(bool)
	}
	if pr.Language == "" {
		pr.Language = argString(req.Args, "lang")
	}
	if pr.Content == "" {
		pr.Content = argString(req.Args, "text")
	}
	if pr.Content == "" && req.Tool == "post_thread" {
		// Blank-line separated, the form approval edits split back into parts.
		pr.Content = strings.Join(argStrings(req.Args, "parts"), "\n\n")
	}
	return pr
}

func validatePost(args map[string]any) error {
	return toolkit.ValidatePost("post_tweet", argString(args, "text"), argStrings(args, "media_ids"))
}

func validateReply(tool string) validateFunc {
	return func(args map[string]any) error {
		return toolkit.ValidateReply(tool, argString(args, "tweet_id"), argString(args, "text"), argStrings(args, "media_ids"))
	}
}

func validateThread(args map[string]any) error {
	return toolkit.ValidateThreadReply(argStrings(args, "parts"), argString(args, "reply_to"))
}

func validateTarget(tool, key string) validateFunc {
	return func(args map[string]any) error {
		return toolkit.ValidateID(tool, key, argString(args, key))
	}
}

func validateUpload(args map[string]any) error {
	data, err := decodeMedia(args)
	if err != nil {
		return err
	}
	_, _, err = toolkit.ClassifyMedia(data)
	return err
}

func decodeMedia(args map[string]any) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(argString(args, "data_base64"))
	if err != nil {
		return nil, &toolkit.Error{Kind: toolkit.KindInvalidInput, Op: "upload_media", Message: "data_base64 is not valid base64", Err: err}
	}
	return data, nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// argStrings accepts both []string and the []any produced by JSON decoding.
func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func execPost(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	posted, err := toolkit.PostTweet(ctx, e.provider, argString(args, "text"), argStrings(args, "media_ids"))
	if err != nil {
		return service.ExecResult{}, err
	}
	return service.ExecResult{PlatformID: posted.ID, Data: posted}, nil
}

func execReply(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	posted, err := toolkit.ReplyToTweet(ctx, e.provider, argString(args, "tweet_id"), argString(args, "text"), argStrings(args, "media_ids"))
	if err != nil {
		return service.ExecResult{}, err
	}
	return service.ExecResult{PlatformID: posted.ID, Data: posted}, nil
}

func execQuote(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	posted, err := toolkit.QuoteTweet(ctx, e.provider, argString(args, "tweet_id"), argString(args, "text"), argStrings(args, "media_ids"))
	if err != nil {
		return service.ExecResult{}, err
	}
	return service.ExecResult{PlatformID: posted.ID, Data: posted}, nil
}

// execThread always returns the ThreadResult as Data, also on failure, so
// callers see which parts went out.
func execThread(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	tr, err := toolkit.PostThread(ctx, e.provider, argStrings(args, "parts"), argString(args, "reply_to"))
	res := service.ExecResult{Data: tr}
	if len(tr.Posted) > 0 {
		res.PlatformID = tr.Posted[0]
	}
	return res, err
}

func execDelete(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	id := argString(args, "tweet_id")
	if err := toolkit.DeleteTweet(ctx, e.provider, id); err != nil {
		return service.ExecResult{}, err
	}
	return service.ExecResult{PlatformID: id, Data: map[string]any{"tweet_id": id, "deleted": true}}, nil
}

func execUpload(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
	data, err := decodeMedia(args)
	if err != nil {
		return service.ExecResult{}, err
	}
	m, err := toolkit.UploadMedia(ctx, e.provider, data, argString(args, "filename"))
	if err != nil {
		return service.ExecResult{}, err
	}
	return service.ExecResult{PlatformID: m.ID, Data: m}, nil
}

type engageToolkitFunc func(context.Context, provider.Engager, string, string) (*toolkit.Engagement, error)

// engageExec adapts a toolkit engagement call acting as the authenticated account.
func engageExec(fn engageToolkitFunc, targetKey string) execFunc {
	return func(ctx context.Context, e *Engine, args map[string]any) (service.ExecResult, error) {
		userID, err := e.userID(ctx)
		if err != nil {
			return service.ExecResult{}, err
		}
		target := argString(args, targetKey)
		eng, err := fn(ctx, e.provider, userID, target)
		if err != nil {
			return service.ExecResult{}, err
		}
		return service.ExecResult{PlatformID: target, Data: eng}, nil
	}
}
