package send

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitelink/chatsync/internal/apperr"
	"github.com/nitelink/chatsync/internal/logger"
	"github.com/nitelink/chatsync/internal/media"
	"github.com/nitelink/chatsync/internal/model"
	"github.com/nitelink/chatsync/internal/rest"
)

type fakeSendAPI struct {
	mu    sync.Mutex
	seq   int
	err   error
	calls []rest.SendMessageRequest
}

func (f *fakeSendAPI) SendMessage(_ context.Context, conversationID string, req rest.SendMessageRequest) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return model.Message{}, f.err
	}
	f.seq++
	return model.Message{
		ID:             fmt.Sprintf("srv-%d", f.seq),
		ConversationID: conversationID,
		SenderID:       "self",
		Content:        req.Content,
		Type:           req.Type,
		MediaURL:       req.MediaURL,
		CreatedAt:      time.Date(2026, 3, 14, 23, 0, f.seq, 0, time.UTC),
	}, nil
}

type fakeUploader struct {
	failOn map[string]error
}

func (f *fakeUploader) Upload(_ context.Context, item media.Item) (media.Upload, error) {
	if err := f.failOn[item.Name]; err != nil {
		return media.Upload{}, err
	}
	return media.Upload{
		Key:  "media/" + item.Name,
		URL:  "https://cdn.example.com/" + item.Name,
		Size: int64(len(item.Data)),
	}, nil
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (s *recordingSink) Append(m model.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

func imageItem(name string) media.Item {
	return media.Item{Name: name, ContentType: "image/jpeg", Data: []byte("fake"), Kind: model.MessageImage}
}

func TestSendTextCommitsCanonicalMessage(t *testing.T) {
	api := &fakeSendAPI{}
	sink := &recordingSink{}
	c := NewCoordinator(api, nil, logger.Nop())

	msg, err := c.SendText(context.Background(), "c1", "hello", sink)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID, "only the server-canonical row exists")
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, msg, sink.msgs[0])
}

func TestSendEmptyTextRejectedBeforeNetwork(t *testing.T) {
	api := &fakeSendAPI{}
	c := NewCoordinator(api, nil, logger.Nop())

	_, err := c.SendText(context.Background(), "c1", "   \n", &recordingSink{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, api.calls, "validation failures never reach the wire")
}

func TestSendFailureAppendsNothing(t *testing.T) {
	api := &fakeSendAPI{err: errors.New("503")}
	sink := &recordingSink{}
	c := NewCoordinator(api, nil, logger.Nop())

	_, err := c.SendText(context.Background(), "c1", "hello", sink)
	assert.Error(t, err)
	assert.Empty(t, sink.msgs, "send-then-commit: nothing speculative to roll back")
}

func TestMediaBatchPartialFailure(t *testing.T) {
	// Three images, the second upload fails. Two messages go
	// out, one failure is reported, nothing panics and nothing is lost.
	api := &fakeSendAPI{}
	sink := &recordingSink{}
	up := &fakeUploader{failOn: map[string]error{"b.jpg": errors.New("connection reset")}}
	c := NewCoordinator(api, up, logger.Nop())

	sent, err := c.SendMedia(context.Background(), "c1",
		[]media.Item{imageItem("a.jpg"), imageItem("b.jpg"), imageItem("c.jpg")}, sink)

	require.Len(t, sent, 2)
	require.Len(t, sink.msgs, 2)

	var batch *apperr.BatchError
	require.ErrorAs(t, err, &batch)
	assert.False(t, batch.AllFailed())
	assert.Len(t, batch.Failures, 1)
	assert.Contains(t, batch.Failures, 1, "failure reported against the second item")
}

func TestMediaBatchAllFailed(t *testing.T) {
	api := &fakeSendAPI{}
	up := &fakeUploader{failOn: map[string]error{
		"a.jpg": errors.New("reset"),
		"b.jpg": errors.New("reset"),
	}}
	c := NewCoordinator(api, up, logger.Nop())

	sent, err := c.SendMedia(context.Background(), "c1",
		[]media.Item{imageItem("a.jpg"), imageItem("b.jpg")}, &recordingSink{})

	assert.Nil(t, sent)
	var batch *apperr.BatchError
	require.ErrorAs(t, err, &batch)
	assert.True(t, batch.AllFailed())
	assert.Empty(t, api.calls)
}

func TestMediaSendFailureCountsAsItemFailure(t *testing.T) {
	api := &fakeSendAPI{err: errors.New("500")}
	up := &fakeUploader{}
	c := NewCoordinator(api, up, logger.Nop())

	sent, err := c.SendMedia(context.Background(), "c1", []media.Item{imageItem("a.jpg")}, &recordingSink{})
	assert.Nil(t, sent)
	var batch *apperr.BatchError
	require.ErrorAs(t, err, &batch)
	assert.True(t, batch.AllFailed())
}

func TestMediaEmptyBatchRejected(t *testing.T) {
	c := NewCoordinator(&fakeSendAPI{}, &fakeUploader{}, logger.Nop())
	_, err := c.SendMedia(context.Background(), "c1", nil, &recordingSink{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
