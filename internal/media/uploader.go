// Package media uploads message attachments and hands back durable URLs.
// The send path depends only on the Uploader interface; the S3
// implementation lives in s3.go.
package media

import (
	"context"

	"github.com/nitelink/chatsync/internal/model"
)

// Item is one attachment to upload.
type Item struct {
	Name        string
	ContentType string
	Data        []byte
	Kind        model.MessageType
	// Duration in seconds, voice only.
	Duration int
}

// Upload is the durable result: the message references these URLs.
type Upload struct {
	Key          string
	URL          string
	ThumbnailURL string
	Size         int64
}

type Uploader interface {
	Upload(ctx context.Context, item Item) (Upload, error)
}
