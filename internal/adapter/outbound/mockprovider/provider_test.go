package mockprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

func TestProvider_PostAndReplyChain(t *testing.T) {
	ctx := context.Background()
	p := New()

	root, err := p.Post(ctx, provider.PostRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	reply, err := p.Reply(ctx, "again", root.ID, nil)
	if err != nil {
		t.Fatalf("Reply() error: %v", err)
	}

	got, ok := p.Tweet(reply.ID)
	if !ok {
		t.Fatal("reply not stored")
	}
	if got.InReplyToID != root.ID || got.ConversationID != root.ID {
		t.Errorf("reply = %+v, want reply to %s in conversation %s", got, root.ID, root.ID)
	}
	if p.Calls(MethodPost) != 2 {
		t.Errorf("Calls(post) = %d, want 2", p.Calls(MethodPost))
	}
}

func TestProvider_FailAfter(t *testing.T) {
	ctx := context.Background()
	p := New()
	boom := &provider.Error{Kind: provider.KindNetwork, Endpoint: MethodPost, Message: "reset"}
	p.FailAfter(MethodPost, 1, boom)

	if _, err := p.Post(ctx, provider.PostRequest{Text: "one"}); err != nil {
		t.Fatalf("first Post() error: %v", err)
	}
	_, err := p.Post(ctx, provider.PostRequest{Text: "two"})
	if !errors.Is(err, boom) {
		t.Fatalf("second Post() error = %v, want injected fault", err)
	}
	if _, err := p.Post(ctx, provider.PostRequest{Text: "three"}); err != nil {
		t.Fatalf("third Post() error: %v", err)
	}
}

func TestProvider_SearchPagination(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.AddUser(provider.User{ID: "7", Username: "gopher", Followers: 10})
	for _, id := range []string{"2001", "2002", "2003"} {
		p.AddTweet(provider.Tweet{ID: id, AuthorID: "7", Text: "Go generics are neat"})
	}
	p.AddTweet(provider.Tweet{ID: "2004", AuthorID: "7", Text: "Rust traits"})

	first, err := p.SearchRecent(ctx, "go generics", provider.SearchOptions{MaxResults: 2})
	if err != nil {
		t.Fatalf("SearchRecent() error: %v", err)
	}
	if len(first.Tweets) != 2 || first.Tweets[0].ID != "2003" || first.NextToken == "" {
		t.Fatalf("first page = %+v", first)
	}
	second, err := p.SearchRecent(ctx, "go generics", provider.SearchOptions{MaxResults: 2, NextToken: first.NextToken})
	if err != nil {
		t.Fatalf("SearchRecent() page 2 error: %v", err)
	}
	if len(second.Tweets) != 1 || second.Tweets[0].ID != "2001" {
		t.Errorf("second page = %+v", second)
	}
	if first.Tweets[0].AuthorUsername != "gopher" {
		t.Errorf("AuthorUsername = %q, want gopher", first.Tweets[0].AuthorUsername)
	}
}

func TestProvider_DeleteForeignTweet(t *testing.T) {
	p := New()
	p.AddTweet(provider.Tweet{ID: "3000", AuthorID: "99", Text: "not mine"})

	err := p.Delete(context.Background(), "3000")
	if !provider.IsKind(err, provider.KindForbidden) {
		t.Errorf("Delete() error = %v, want forbidden", err)
	}
}
