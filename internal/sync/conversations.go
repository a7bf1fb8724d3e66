package sync

import (
	"context"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/model"
)

// ListAPI is the slice of the REST surface the conversation list needs.
type ListAPI interface {
	ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, error)
}

// ConversationList keeps the offset-paginated conversation list. The push
// signal for this list is coarse: any message insertion anywhere triggers a
// wholesale Reset from offset zero rather than a per-entry patch. hasMore
// is the filled-page heuristic — true while the last page came back with
// exactly pageSize items — which can cost one empty fetch when the total is
// an exact multiple of the page size.
type ConversationList struct {
	pageSize int
	api      ListAPI
	log      *zap.SugaredLogger

	mu      gosync.Mutex
	items   []model.Conversation
	offset  int
	hasMore bool
	gen     uint64
}

func NewConversationList(pageSize int, api ListAPI, log *zap.SugaredLogger) *ConversationList {
	return &ConversationList{
		pageSize: pageSize,
		api:      api,
		log:      log,
		hasMore:  true,
	}
}

func (l *ConversationList) Items() []model.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Conversation, len(l.items))
	copy(out, l.items)
	return out
}

func (l *ConversationList) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// LoadMore fetches the next page and appends it. The offset advances by
// the count actually received.
func (l *ConversationList) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if !l.hasMore {
		l.mu.Unlock()
		return nil
	}
	offset := l.offset
	gen := l.gen
	l.mu.Unlock()

	page, err := l.api.ListConversations(ctx, l.pageSize, offset)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		// a Reset landed while this page was in flight; its result is
		// built on a list that no longer exists
		return nil
	}
	l.items = append(l.items, page...)
	l.offset += len(page)
	l.hasMore = len(page) == l.pageSize
	return nil
}

// Reset re-fetches from offset zero and replaces the list wholesale.
// Concurrent resets resolve by generation: a result that was issued before
// a newer reset is discarded instead of overwriting fresher state, so the
// list is always exactly one response, never a mix of two.
func (l *ConversationList) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	page, err := l.api.ListConversations(ctx, l.pageSize, 0)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		return nil
	}
	l.items = page
	l.offset = len(page)
	l.hasMore = len(page) == l.pageSize
	return nil
}

// ApplyEvent handles the global push scope. Any insertion invalidates the
// whole list.
func (l *ConversationList) ApplyEvent(ctx context.Context, ev model.PushEvent) {
	if ev.Name != model.EventMessageInserted {
		return
	}
	if err := l.Reset(ctx); err != nil {
		l.log.Warnw("conversation list refresh failed", "err", err)
	}
}
