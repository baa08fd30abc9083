package xapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

type postBody struct {
	Text         string     `json:"text"`
	Reply        *replyRef  `json:"reply,omitempty"`
	QuoteTweetID string     `json:"quote_tweet_id,omitempty"`
	Media        *mediaRefs `json:"media,omitempty"`
}

type replyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type mediaRefs struct {
	MediaIDs []string `json:"media_ids"`
}

func (c *Client) Post(ctx context.Context, req provider.PostRequest) (*provider.PostedTweet, error) {
	body := postBody{Text: req.Text, QuoteTweetID: req.QuoteOfID}
	if req.ReplyToID != "" {
		body.Reply = &replyRef{InReplyToTweetID: req.ReplyToID}
	}
	if len(req.MediaIDs) > 0 {
		body.Media = &mediaRefs{MediaIDs: req.MediaIDs}
	}
	var resp postResponse
	if err := c.do(ctx, call{endpoint: EndpointPost, method: http.MethodPost, path: "/2/tweets", body: body}, &resp); err != nil {
		return nil, err
	}
	return &provider.PostedTweet{ID: resp.Data.ID, Text: resp.Data.Text}, nil
}

func (c *Client) Reply(ctx context.Context, text, inReplyToID string, mediaIDs []string) (*provider.PostedTweet, error) {
	return c.Post(ctx, provider.PostRequest{Text: text, ReplyToID: inReplyToID, MediaIDs: mediaIDs})
}

func (c *Client) Quote(ctx context.Context, text, quotedID string, mediaIDs []string) (*provider.PostedTweet, error) {
	return c.Post(ctx, provider.PostRequest{Text: text, QuoteOfID: quotedID, MediaIDs: mediaIDs})
}

func (c *Client) Delete(ctx context.Context, tweetID string) error {
	return c.do(ctx, call{endpoint: EndpointDelete, method: http.MethodDelete, path: "/2/tweets/" + url.PathEscape(tweetID)}, nil)
}

// UploadMedia uses the single-request upload, which covers every size the
// toolkit lets through for images and gifs.
func (c *Client) UploadMedia(ctx context.Context, upload provider.MediaUpload) (*provider.Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("media_category", upload.Category)
	_ = mw.WriteField("media_type", upload.MimeType)
	filename := upload.Filename
	if filename == "" {
		filename = "upload"
	}
	part, err := mw.CreateFormFile("media", filename)
	if err == nil {
		_, err = part.Write(upload.Data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindInvalidInput, Endpoint: EndpointUploadMedia, Message: "encode media upload", Err: err}
	}

	var resp mediaResponse
	err = c.do(ctx, call{
		endpoint:    EndpointUploadMedia,
		method:      http.MethodPost,
		path:        "/2/media/upload",
		rawBody:     &buf,
		contentType: mw.FormDataContentType(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &provider.Media{
		ID:        resp.Data.ID,
		MimeType:  upload.MimeType,
		SizeBytes: len(upload.Data),
		ExpiresIn: resp.Data.ExpiresAfterSecs,
	}, nil
}
