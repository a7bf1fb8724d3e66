// Package send issues outbound messages. The model is send-then-commit:
// nothing is appended locally until the server acknowledges with its
// canonical row, so a failure leaves no partial state to roll back.
package send

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/apperr"
	"github.com/nitelink/chatsync/internal/media"
	"github.com/nitelink/chatsync/internal/model"
	"github.com/nitelink/chatsync/internal/rest"
)

// SendAPI is the slice of the REST surface the coordinator needs.
type SendAPI interface {
	SendMessage(ctx context.Context, conversationID string, req rest.SendMessageRequest) (model.Message, error)
}

// Sink receives the server-canonical message after acknowledgement. The
// history for the conversation satisfies it.
type Sink interface {
	Append(m model.Message)
}

type Coordinator struct {
	api      SendAPI
	uploader media.Uploader
	log      *zap.SugaredLogger
}

func NewCoordinator(api SendAPI, uploader media.Uploader, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{api: api, uploader: uploader, log: log}
}

// SendText validates, sends, and commits the acknowledged message to sink.
func (c *Coordinator) SendText(ctx context.Context, conversationID, content string, sink Sink) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, apperr.Validation("empty message")
	}
	msg, err := c.api.SendMessage(ctx, conversationID, rest.SendMessageRequest{
		Content: content,
		Type:    model.MessageText,
	})
	if err != nil {
		return model.Message{}, err
	}
	sink.Append(msg)
	return msg, nil
}

// SendMedia uploads each item, then sends a message per durable URL. A
// failed upload or send does not abort the batch: surviving items still go
// out, and the whole call fails only when every item failed.
func (c *Coordinator) SendMedia(ctx context.Context, conversationID string, items []media.Item, sink Sink) ([]model.Message, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("no media items")
	}
	if c.uploader == nil {
		return nil, apperr.Validation("no uploader configured")
	}

	batch := &apperr.BatchError{Total: len(items), Failures: make(map[int]error)}
	sent := make([]model.Message, 0, len(items))

	for i, item := range items {
		up, err := c.uploader.Upload(ctx, item)
		if err != nil {
			c.log.Warnw("media upload failed", "item", i, "name", item.Name, "err", err)
			batch.Failures[i] = err
			continue
		}
		msg, err := c.api.SendMessage(ctx, conversationID, rest.SendMessageRequest{
			Type:          item.Kind,
			MediaURL:      up.URL,
			ThumbnailURL:  up.ThumbnailURL,
			MediaDuration: item.Duration,
			MediaSize:     up.Size,
		})
		if err != nil {
			c.log.Warnw("media send failed", "item", i, "name", item.Name, "err", err)
			batch.Failures[i] = err
			continue
		}
		sink.Append(msg)
		sent = append(sent, msg)
	}

	if batch.AllFailed() {
		return nil, batch
	}
	if len(batch.Failures) > 0 {
		return sent, batch
	}
	return sent, nil
}
