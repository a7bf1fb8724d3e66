package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitelink/chatsync/internal/logger"
	"github.com/nitelink/chatsync/internal/model"
)

func conv(id string) model.Conversation {
	return model.Conversation{ID: id, Kind: model.ConversationDirect}
}

func convs(idList ...string) []model.Conversation {
	out := make([]model.Conversation, len(idList))
	for i, id := range idList {
		out[i] = conv(id)
	}
	return out
}

type pagedListAPI struct {
	pages map[int][]model.Conversation // keyed by offset
	calls []int
}

func (f *pagedListAPI) ListConversations(_ context.Context, _, offset int) ([]model.Conversation, error) {
	f.calls = append(f.calls, offset)
	return f.pages[offset], nil
}

func TestLoadMoreAccumulatesOffset(t *testing.T) {
	api := &pagedListAPI{pages: map[int][]model.Conversation{
		0: convs("a", "b"),
		2: convs("c"),
	}}
	l := NewConversationList(2, api, logger.Nop())

	require.NoError(t, l.LoadMore(context.Background()))
	assert.True(t, l.HasMore(), "full page keeps hasMore")

	require.NoError(t, l.LoadMore(context.Background()))
	assert.False(t, l.HasMore(), "short page ends pagination")
	assert.Equal(t, convs("a", "b", "c"), l.Items())
	assert.Equal(t, []int{0, 2}, api.calls)

	// terminated: no further fetches
	require.NoError(t, l.LoadMore(context.Background()))
	assert.Len(t, api.calls, 2)
}

func TestHasMoreHeuristicOnExactMultiple(t *testing.T) {
	// total is an exact multiple of the page size: the filled-page
	// heuristic costs one extra, empty fetch before terminating
	api := &pagedListAPI{pages: map[int][]model.Conversation{0: convs("a", "b")}}
	l := NewConversationList(2, api, logger.Nop())

	require.NoError(t, l.LoadMore(context.Background()))
	assert.True(t, l.HasMore())

	require.NoError(t, l.LoadMore(context.Background()))
	assert.False(t, l.HasMore())
	assert.Len(t, l.Items(), 2)
}

func TestResetReplacesWholesale(t *testing.T) {
	api := &pagedListAPI{pages: map[int][]model.Conversation{0: convs("x", "y")}}
	l := NewConversationList(2, api, logger.Nop())
	require.NoError(t, l.LoadMore(context.Background()))

	api.pages[0] = convs("z")
	require.NoError(t, l.Reset(context.Background()))
	assert.Equal(t, convs("z"), l.Items())
	assert.False(t, l.HasMore())
}

// scriptedListAPI lets the test decide when each in-flight fetch completes.
type scriptedListAPI struct {
	calls chan *scriptedCall
}

type scriptedCall struct {
	offset int
	resp   chan []model.Conversation
}

func (s *scriptedListAPI) ListConversations(_ context.Context, _, offset int) ([]model.Conversation, error) {
	c := &scriptedCall{offset: offset, resp: make(chan []model.Conversation)}
	s.calls <- c
	return <-c.resp, nil
}

func TestStaleResetResultDiscarded(t *testing.T) {
	// Two near-simultaneous resets never interleave; a result
	// issued before a newer reset cannot overwrite the newer state.
	api := &scriptedListAPI{calls: make(chan *scriptedCall, 2)}
	l := NewConversationList(2, api, logger.Nop())

	done1 := make(chan error, 1)
	go func() { done1 <- l.Reset(context.Background()) }()
	call1 := <-api.calls

	done2 := make(chan error, 1)
	go func() { done2 <- l.Reset(context.Background()) }()
	call2 := <-api.calls

	// newer reset completes first
	call2.resp <- convs("fresh")
	require.NoError(t, <-done2)
	assert.Equal(t, convs("fresh"), l.Items())

	// older request straggles in afterwards and must be discarded
	call1.resp <- convs("stale-a", "stale-b")
	require.NoError(t, <-done1)
	assert.Equal(t, convs("fresh"), l.Items())
}

func TestResetInvalidatesInFlightLoadMore(t *testing.T) {
	api := &scriptedListAPI{calls: make(chan *scriptedCall, 2)}
	l := NewConversationList(2, api, logger.Nop())

	more := make(chan error, 1)
	go func() { more <- l.LoadMore(context.Background()) }()
	loadCall := <-api.calls

	reset := make(chan error, 1)
	go func() { reset <- l.Reset(context.Background()) }()
	resetCall := <-api.calls

	resetCall.resp <- convs("fresh")
	require.NoError(t, <-reset)

	loadCall.resp <- convs("stale-a", "stale-b")
	require.NoError(t, <-more)
	assert.Equal(t, convs("fresh"), l.Items(), "page built on the replaced list is dropped")
}

func TestGlobalInsertEventTriggersRefresh(t *testing.T) {
	api := &pagedListAPI{pages: map[int][]model.Conversation{0: convs("a")}}
	l := NewConversationList(2, api, logger.Nop())

	payload, _ := json.Marshal(msg("m1", 0, "peer"))
	l.ApplyEvent(context.Background(), model.PushEvent{Name: model.EventMessageInserted, Payload: payload})
	assert.Equal(t, convs("a"), l.Items())

	// non-insert events are ignored
	l.ApplyEvent(context.Background(), model.PushEvent{Name: model.EventTyping, Payload: json.RawMessage(`{}`)})
	assert.Len(t, api.calls, 1)
}

func TestManyConversationsPaginate(t *testing.T) {
	pages := map[int][]model.Conversation{}
	for off := 0; off < 10; off += 2 {
		pages[off] = convs(fmt.Sprintf("c%d", off), fmt.Sprintf("c%d", off+1))
	}
	api := &pagedListAPI{pages: pages}
	l := NewConversationList(2, api, logger.Nop())

	deadline := time.Now().Add(time.Second)
	for l.HasMore() && time.Now().Before(deadline) {
		require.NoError(t, l.LoadMore(context.Background()))
	}
	assert.Len(t, l.Items(), 10)
}
