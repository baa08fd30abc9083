package toolkit

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

const (
	maxImageBytes = 5 << 20
	maxGIFBytes   = 15 << 20
	maxVideoBytes = 512 << 20
)

type mediaClass struct {
	mime     string
	category string
	maxBytes int
}

// supportedMedia is checked in order; the detected type must match exactly.
var supportedMedia = []mediaClass{
	{"image/jpeg", "tweet_image", maxImageBytes},
	{"image/png", "tweet_image", maxImageBytes},
	{"image/webp", "tweet_image", maxImageBytes},
	{"image/gif", "tweet_gif", maxGIFBytes},
	{"video/mp4", "tweet_video", maxVideoBytes},
}

// ClassifyMedia detects the content type of data from its magic bytes and
// checks it against the upload caps. The filename is informational only.
func ClassifyMedia(data []byte) (mime, category string, err error) {
	const op = "upload_media"
	if len(data) == 0 {
		return "", "", invalid(op, "media payload is empty")
	}
	detected := mimetype.Detect(data)
	for _, c := range supportedMedia {
		if !detected.Is(c.mime) {
			continue
		}
		if len(data) > c.maxBytes {
			return "", "", &Error{
				Kind:    KindPayloadTooLarge,
				Op:      op,
				Message: fmt.Sprintf("%s is %d bytes, limit is %d", c.mime, len(data), c.maxBytes),
			}
		}
		return c.mime, c.category, nil
	}
	return "", "", &Error{
		Kind:    KindUnsupportedMedia,
		Op:      op,
		Message: fmt.Sprintf("content type %s is not supported", detected.String()),
	}
}

// UploadMedia classifies data and uploads it for use in later posts.
func UploadMedia(ctx context.Context, u provider.MediaUploader, data []byte, filename string) (*provider.Media, error) {
	mime, category, err := ClassifyMedia(data)
	if err != nil {
		return nil, err
	}
	m, err := u.UploadMedia(ctx, provider.MediaUpload{
		Data:     data,
		MimeType: mime,
		Category: category,
		Filename: filename,
	})
	return m, wrap("upload_media", err)
}
