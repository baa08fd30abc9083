package toolkit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

func TestPostTweet_Validation(t *testing.T) {
	ctx := context.Background()
	p := mockprovider.New()

	tests := []struct {
		name     string
		text     string
		media    []string
		wantKind ErrorKind
	}{
		{"empty", "   ", nil, KindInvalidInput},
		{"too long", strings.Repeat("a", 281), nil, KindContentTooLong},
		{"cjk counts double", strings.Repeat("漢", 141), nil, KindContentTooLong},
		{"too many media", "hi", []string{"1", "2", "3", "4", "5"}, KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PostTweet(ctx, p, tt.text, tt.media)
			require.Error(t, err)
			kind, _ := KindOf(err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
	assert.Zero(t, p.Calls(mockprovider.MethodPost))
}

func TestPostTweet_Limits(t *testing.T) {
	ctx := context.Background()
	p := mockprovider.New()

	_, err := PostTweet(ctx, p, strings.Repeat("a", 280), nil)
	require.NoError(t, err)

	// A long URL still costs 23.
	text := strings.Repeat("a", 256) + " https://example.com/" + strings.Repeat("x", 100)
	assert.Equal(t, 280, WeightedLength(text))
	_, err = PostTweet(ctx, p, text, nil)
	require.NoError(t, err)
}

func TestReplyToTweet(t *testing.T) {
	ctx := context.Background()
	p := seededMock()

	posted, err := ReplyToTweet(ctx, p, "5001", "nice thread", nil)
	require.NoError(t, err)

	tw, ok := p.Tweet(posted.ID)
	require.True(t, ok)
	assert.Equal(t, "5001", tw.InReplyToID)
}

func TestDeleteTweet_Forbidden(t *testing.T) {
	err := DeleteTweet(context.Background(), seededMock(), "5001")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrorKind(provider.KindForbidden), kind)
}

func TestPostThread(t *testing.T) {
	ctx := context.Background()
	p := mockprovider.New()

	res, err := PostThread(ctx, p, []string{"one", "two", "three"}, "")
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.Len(t, res.Posted, 3)

	for i := 1; i < 3; i++ {
		tw, _ := p.Tweet(res.Posted[i])
		assert.Equal(t, res.Posted[i-1], tw.InReplyToID, "part %d must reply to part %d", i, i-1)
	}
}

func TestPostThread_PartialFailure(t *testing.T) {
	ctx := context.Background()
	p := mockprovider.New()
	p.FailAfter(mockprovider.MethodPost, 1, &provider.Error{
		Kind:     provider.KindRateLimited,
		Endpoint: "post",
		Status:   429,
		Message:  "too many requests",
	})

	res, err := PostThread(ctx, p, []string{"part zero", "part one", "part two"}, "")
	require.Error(t, err)

	require.Len(t, res.Posted, 1)
	require.NotNil(t, res.FailedAt)
	assert.Equal(t, 1, *res.FailedAt)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorKind(provider.KindRateLimited), res.Error.Kind)

	kind, _ := KindOf(err)
	assert.Equal(t, KindPartialFailure, kind)
	assert.True(t, provider.IsKind(err, provider.KindRateLimited), "cause must stay reachable")
	assert.Equal(t, 2, p.Calls(mockprovider.MethodPost), "posting stops at the first failure")
}

func TestPostThread_FirstPartFails(t *testing.T) {
	p := mockprovider.New()
	p.FailNext(mockprovider.MethodPost, &provider.Error{Kind: provider.KindAuthExpired, Endpoint: "post", Status: 401})

	res, err := PostThread(context.Background(), p, []string{"a", "b"}, "")
	require.Error(t, err)
	assert.Empty(t, res.Posted)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrorKind(provider.KindAuthExpired), kind)
}

func TestPostThread_ValidatesEveryPartFirst(t *testing.T) {
	p := mockprovider.New()

	_, err := PostThread(context.Background(), p, []string{"fine", strings.Repeat("b", 300)}, "")
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindContentTooLong, te.Kind)
	assert.Contains(t, te.Message, "part 1")
	assert.Zero(t, p.Calls(mockprovider.MethodPost))

	_, err = PostThread(context.Background(), p, []string{"only one"}, "")
	kind, _ := KindOf(err)
	assert.Equal(t, KindInvalidInput, kind)
}

func TestWeightedLength(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"hello", 5},
		{"héllo", 5},
		{"日本", 4},
		{"🙂", 2},
		{"see https://go.dev/doc", 4 + 23},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, WeightedLength(tt.text))
		})
	}
}
