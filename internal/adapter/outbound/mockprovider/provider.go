// Package mockprovider is a deterministic in-memory platform backend.
// It needs no network or credentials and supports per-method fault injection,
// which makes it the default provider for tests and local development.
package mockprovider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// Method names used for call counting and fault injection.
const (
	MethodGetTweet          = "get_tweet"
	MethodGetUserByUsername = "get_user_by_username"
	MethodGetUserByID       = "get_user_by_id"
	MethodGetMe             = "get_me"
	MethodSearch            = "search"
	MethodMentions          = "mentions"
	MethodHomeTimeline      = "home_timeline"
	MethodUserTweets        = "user_tweets"
	MethodFollowers         = "followers"
	MethodFollowing         = "following"
	MethodPost              = "post"
	MethodDelete            = "delete"
	MethodLike              = "like"
	MethodUnlike            = "unlike"
	MethodFollow            = "follow"
	MethodUnfollow          = "unfollow"
	MethodRetweet           = "retweet"
	MethodUnretweet         = "unretweet"
	MethodBookmark          = "bookmark"
	MethodUnbookmark        = "unbookmark"
	MethodUploadMedia       = "upload_media"
)

// fault is a scheduled failure: skip successful calls first, then fail once.
type fault struct {
	skip int
	err  error
}

// Provider implements provider.Provider over in-memory maps.
type Provider struct {
	mu sync.Mutex

	tweets    map[string]provider.Tweet
	users     map[string]provider.User
	meID      string
	nextID    int64
	likes     map[string]map[string]bool
	follows   map[string]map[string]bool
	retweets  map[string]map[string]bool
	bookmarks map[string]map[string]bool
	media     map[string]provider.Media

	calls  map[string]int
	faults map[string][]fault
	delay  time.Duration
	now    func() time.Time
}

// Option configures the mock.
type Option func(*Provider)

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithLatency makes every call sleep for d (respecting ctx).
// Useful when a test needs concurrent calls to overlap.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = d
	}
}

// New creates a mock seeded with a single authenticated account "kestrel_bot".
func New(opts ...Option) *Provider {
	p := &Provider{
		tweets:    make(map[string]provider.Tweet),
		users:     make(map[string]provider.User),
		nextID:    1000,
		likes:     make(map[string]map[string]bool),
		follows:   make(map[string]map[string]bool),
		retweets:  make(map[string]map[string]bool),
		bookmarks: make(map[string]map[string]bool),
		media:     make(map[string]provider.Media),
		calls:     make(map[string]int),
		faults:    make(map[string][]fault),
		now:       func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(p)
	}
	me := provider.User{ID: "1", Username: "kestrel_bot", Name: "Kestrel", Followers: 100, CreatedAt: p.now()}
	p.users[me.ID] = me
	p.meID = me.ID
	return p
}

// AddUser seeds an account.
func (p *Provider) AddUser(u provider.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.ID] = u
}

// AddTweet seeds a tweet. AuthorUsername and AuthorFollows are filled from
// the author record when the author is known.
func (p *Provider) AddTweet(t provider.Tweet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.users[t.AuthorID]; ok {
		if t.AuthorUsername == "" {
			t.AuthorUsername = u.Username
		}
		if t.AuthorFollows == 0 {
			t.AuthorFollows = u.Followers
		}
	}
	if t.ConversationID == "" {
		t.ConversationID = t.ID
	}
	p.tweets[t.ID] = t
}

// FailNext makes the next call to method return err.
func (p *Provider) FailNext(method string, err error) {
	p.FailAfter(method, 0, err)
}

// FailAfter lets skip calls to method succeed, then makes the following call return err.
// Faults for the same method queue up in the order they were registered.
func (p *Provider) FailAfter(method string, skip int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[method] = append(p.faults[method], fault{skip: skip, err: err})
}

// Calls returns how many times method was invoked, including failed calls.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Tweet returns a stored tweet by ID.
func (p *Provider) Tweet(id string) (provider.Tweet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tweets[id]
	return t, ok
}

// Liked reports whether userID has liked tweetID.
func (p *Provider) Liked(userID, tweetID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.likes[userID][tweetID]
}

// enter counts the call, applies latency and returns a scheduled fault if one is due.
func (p *Provider) enter(ctx context.Context, method string) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return &provider.Error{Kind: provider.KindNetwork, Endpoint: method, Message: "request cancelled", Err: ctx.Err()}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	queue := p.faults[method]
	if len(queue) == 0 {
		return nil
	}
	if queue[0].skip > 0 {
		queue[0].skip--
		return nil
	}
	err := queue[0].err
	p.faults[method] = queue[1:]
	return err
}

func (p *Provider) newIDLocked() string {
	p.nextID++
	return strconv.FormatInt(p.nextID, 10)
}

func notFound(endpoint, what, id string) error {
	return &provider.Error{Kind: provider.KindNotFound, Endpoint: endpoint, Status: 404, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func (p *Provider) GetTweet(ctx context.Context, id string) (*provider.Tweet, error) {
	if err := p.enter(ctx, MethodGetTweet); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tweets[id]
	if !ok {
		return nil, notFound(MethodGetTweet, "tweet", id)
	}
	return &t, nil
}

func (p *Provider) GetUserByUsername(ctx context.Context, username string) (*provider.User, error) {
	if err := p.enter(ctx, MethodGetUserByUsername); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if strings.EqualFold(u.Username, username) {
			found := u
			return &found, nil
		}
	}
	return nil, notFound(MethodGetUserByUsername, "user", username)
}

func (p *Provider) GetUserByID(ctx context.Context, id string) (*provider.User, error) {
	if err := p.enter(ctx, MethodGetUserByID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return nil, notFound(MethodGetUserByID, "user", id)
	}
	return &u, nil
}

func (p *Provider) GetMe(ctx context.Context) (*provider.User, error) {
	if err := p.enter(ctx, MethodGetMe); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[p.meID]
	return &u, nil
}

// SearchRecent matches every whitespace-separated query term case-insensitively.
// Terms starting with '-' exclude tweets containing them.
func (p *Provider) SearchRecent(ctx context.Context, query string, opts provider.SearchOptions) (*provider.TweetPage, error) {
	if err := p.enter(ctx, MethodSearch); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	return p.page(opts.MaxResults, opts.NextToken, opts.SinceID, func(t provider.Tweet) bool {
		text := strings.ToLower(t.Text)
		for _, term := range terms {
			if strings.HasPrefix(term, "-") {
				if strings.Contains(text, term[1:]) {
					return false
				}
				continue
			}
			if !strings.Contains(text, term) {
				return false
			}
		}
		return true
	}), nil
}

func (p *Provider) GetMentions(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	if err := p.enter(ctx, MethodMentions); err != nil {
		return nil, err
	}
	p.mu.Lock()
	u, ok := p.users[userID]
	p.mu.Unlock()
	if !ok {
		return nil, notFound(MethodMentions, "user", userID)
	}
	handle := "@" + strings.ToLower(u.Username)
	return p.page(opts.MaxResults, opts.PaginationToken, opts.SinceID, func(t provider.Tweet) bool {
		return t.AuthorID != userID && strings.Contains(strings.ToLower(t.Text), handle)
	}), nil
}

func (p *Provider) GetHomeTimeline(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	if err := p.enter(ctx, MethodHomeTimeline); err != nil {
		return nil, err
	}
	p.mu.Lock()
	following := make(map[string]bool, len(p.follows[userID]))
	for id := range p.follows[userID] {
		following[id] = true
	}
	p.mu.Unlock()
	return p.page(opts.MaxResults, opts.PaginationToken, opts.SinceID, func(t provider.Tweet) bool {
		return t.AuthorID == userID || following[t.AuthorID]
	}), nil
}

func (p *Provider) GetUserTweets(ctx context.Context, userID string, opts provider.PageOptions) (*provider.TweetPage, error) {
	if err := p.enter(ctx, MethodUserTweets); err != nil {
		return nil, err
	}
	return p.page(opts.MaxResults, opts.PaginationToken, opts.SinceID, func(t provider.Tweet) bool {
		return t.AuthorID == userID
	}), nil
}

func (p *Provider) GetFollowers(ctx context.Context, userID string, opts provider.PageOptions) (*provider.UserPage, error) {
	if err := p.enter(ctx, MethodFollowers); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for follower, targets := range p.follows {
		if targets[userID] {
			ids = append(ids, follower)
		}
	}
	return p.userPageLocked(ids, opts.MaxResults), nil
}

func (p *Provider) GetFollowing(ctx context.Context, userID string, opts provider.PageOptions) (*provider.UserPage, error) {
	if err := p.enter(ctx, MethodFollowing); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, on := range p.follows[userID] {
		if on {
			ids = append(ids, id)
		}
	}
	return p.userPageLocked(ids, opts.MaxResults), nil
}

func (p *Provider) Post(ctx context.Context, req provider.PostRequest) (*provider.PostedTweet, error) {
	if err := p.enter(ctx, MethodPost); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.ReplyToID != "" {
		if _, ok := p.tweets[req.ReplyToID]; !ok {
			return nil, notFound(MethodPost, "tweet", req.ReplyToID)
		}
	}
	if req.QuoteOfID != "" {
		if _, ok := p.tweets[req.QuoteOfID]; !ok {
			return nil, notFound(MethodPost, "tweet", req.QuoteOfID)
		}
	}
	for _, m := range req.MediaIDs {
		if _, ok := p.media[m]; !ok {
			return nil, &provider.Error{Kind: provider.KindInvalidInput, Endpoint: MethodPost, Status: 400, Message: "unknown media id " + m}
		}
	}
	me := p.users[p.meID]
	id := p.newIDLocked()
	t := provider.Tweet{
		ID:             id,
		Text:           req.Text,
		AuthorID:       me.ID,
		AuthorUsername: me.Username,
		AuthorFollows:  me.Followers,
		ConversationID: id,
		InReplyToID:    req.ReplyToID,
		CreatedAt:      p.now(),
	}
	if parent, ok := p.tweets[req.ReplyToID]; ok {
		t.ConversationID = parent.ConversationID
	}
	p.tweets[id] = t
	return &provider.PostedTweet{ID: id, Text: req.Text}, nil
}

func (p *Provider) Reply(ctx context.Context, text, inReplyToID string, mediaIDs []string) (*provider.PostedTweet, error) {
	return p.Post(ctx, provider.PostRequest{Text: text, ReplyToID: inReplyToID, MediaIDs: mediaIDs})
}

func (p *Provider) Quote(ctx context.Context, text, quotedID string, mediaIDs []string) (*provider.PostedTweet, error) {
	return p.Post(ctx, provider.PostRequest{Text: text, QuoteOfID: quotedID, MediaIDs: mediaIDs})
}

func (p *Provider) Delete(ctx context.Context, tweetID string) error {
	if err := p.enter(ctx, MethodDelete); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tweets[tweetID]
	if !ok {
		return notFound(MethodDelete, "tweet", tweetID)
	}
	if t.AuthorID != p.meID {
		return &provider.Error{Kind: provider.KindForbidden, Endpoint: MethodDelete, Status: 403, Message: "cannot delete another account's tweet"}
	}
	delete(p.tweets, tweetID)
	return nil
}

// toggle flips a membership edge after checking the target exists.
func (p *Provider) toggle(ctx context.Context, method string, set map[string]map[string]bool, userID, targetID string, on bool, targetIsUser bool) error {
	if err := p.enter(ctx, method); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if targetIsUser {
		if _, ok := p.users[targetID]; !ok {
			return notFound(method, "user", targetID)
		}
	} else if _, ok := p.tweets[targetID]; !ok {
		return notFound(method, "tweet", targetID)
	}
	if set[userID] == nil {
		set[userID] = make(map[string]bool)
	}
	if on {
		set[userID][targetID] = true
	} else {
		delete(set[userID], targetID)
	}
	return nil
}

func (p *Provider) Like(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodLike, p.likes, userID, tweetID, true, false)
}

func (p *Provider) Unlike(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodUnlike, p.likes, userID, tweetID, false, false)
}

func (p *Provider) Follow(ctx context.Context, userID, targetID string) error {
	return p.toggle(ctx, MethodFollow, p.follows, userID, targetID, true, true)
}

func (p *Provider) Unfollow(ctx context.Context, userID, targetID string) error {
	return p.toggle(ctx, MethodUnfollow, p.follows, userID, targetID, false, true)
}

func (p *Provider) Retweet(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodRetweet, p.retweets, userID, tweetID, true, false)
}

func (p *Provider) Unretweet(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodUnretweet, p.retweets, userID, tweetID, false, false)
}

func (p *Provider) Bookmark(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodBookmark, p.bookmarks, userID, tweetID, true, false)
}

func (p *Provider) Unbookmark(ctx context.Context, userID, tweetID string) error {
	return p.toggle(ctx, MethodUnbookmark, p.bookmarks, userID, tweetID, false, false)
}

func (p *Provider) UploadMedia(ctx context.Context, upload provider.MediaUpload) (*provider.Media, error) {
	if err := p.enter(ctx, MethodUploadMedia); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m := provider.Media{ID: p.newIDLocked(), MimeType: upload.MimeType, SizeBytes: len(upload.Data), ExpiresIn: 86400}
	p.media[m.ID] = m
	return &m, nil
}

// page filters tweets newest first. The pagination token is the ID of the
// last tweet on the previous page.
func (p *Provider) page(maxResults int, token, sinceID string, match func(provider.Tweet) bool) *provider.TweetPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxResults <= 0 {
		maxResults = 10
	}
	var all []provider.Tweet
	for _, t := range p.tweets {
		if sinceID != "" && !newer(t.ID, sinceID) {
			continue
		}
		if token != "" && !newer(token, t.ID) {
			continue
		}
		if match(t) {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return newer(all[i].ID, all[j].ID) })

	out := &provider.TweetPage{}
	if len(all) > maxResults {
		out.NextToken = all[maxResults-1].ID
		all = all[:maxResults]
	}
	out.Tweets = all
	if len(all) > 0 {
		out.NewestID = all[0].ID
	}
	return out
}

func (p *Provider) userPageLocked(ids []string, maxResults int) *provider.UserPage {
	sort.Strings(ids)
	if maxResults <= 0 {
		maxResults = 100
	}
	out := &provider.UserPage{}
	for _, id := range ids {
		if len(out.Users) == maxResults {
			break
		}
		if u, ok := p.users[id]; ok {
			out.Users = append(out.Users, u)
		}
	}
	return out
}

// newer compares numeric snowflake-style IDs; longer strings are larger.
func newer(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

var _ provider.Provider = (*Provider)(nil)
