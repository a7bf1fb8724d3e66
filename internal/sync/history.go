package sync

import (
	"context"
	"encoding/json"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/metrics"
	"github.com/nitelink/chatsync/internal/model"
	"github.com/nitelink/chatsync/internal/rest"
)

// HistoryAPI is the slice of the REST surface history needs. *rest.Client
// satisfies it.
type HistoryAPI interface {
	ListMessages(ctx context.Context, conversationID string, limit int, before string) (rest.MessagesPage, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
}

// History holds one conversation's loaded message set and reconciles every
// inbound batch — initial load, backward page or push event — through
// Merge. State is mutated only under the lock and always derived from the
// current set, never from a snapshot captured before an awaited call.
type History struct {
	conversationID string
	selfID         string
	pageSize       int
	api            HistoryAPI
	log            *zap.SugaredLogger

	mu      gosync.Mutex
	msgs    []model.Message
	hasMore bool
	loaded  bool
}

func NewHistory(conversationID, selfID string, pageSize int, api HistoryAPI, log *zap.SugaredLogger) *History {
	return &History{
		conversationID: conversationID,
		selfID:         selfID,
		pageSize:       pageSize,
		api:            api,
		log:            log,
		hasMore:        true,
	}
}

// Messages returns a copy of the loaded set, ascending by (CreatedAt, ID).
func (h *History) Messages() []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

func (h *History) HasMore() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasMore
}

// Load fetches the newest page and merges it in. If the newest message
// after the merge came from someone else, it is marked read — the viewer
// is looking at the conversation now.
func (h *History) Load(ctx context.Context) error {
	page, err := h.api.ListMessages(ctx, h.conversationID, h.pageSize, "")
	if err != nil {
		return err
	}
	metrics.MergeOps.WithLabelValues("initial").Inc()

	h.mu.Lock()
	merged, replaced := merge(h.msgs, page.Messages)
	h.msgs = merged
	h.hasMore = page.HasMore
	h.loaded = true
	var newest *model.Message
	if len(merged) > 0 {
		newest = &merged[len(merged)-1]
	}
	h.mu.Unlock()

	if replaced > 0 {
		metrics.DedupHits.Add(float64(replaced))
	}
	if newest != nil && newest.SenderID != h.selfID {
		if err := h.api.MarkRead(ctx, h.conversationID, newest.ID); err != nil {
			h.log.Warnw("mark read failed", "conversation", h.conversationID, "err", err)
		}
	}
	return nil
}

// LoadBefore fetches the page strictly older than the current oldest
// loaded id. An empty result just flips hasMore off.
func (h *History) LoadBefore(ctx context.Context) error {
	h.mu.Lock()
	if !h.hasMore {
		h.mu.Unlock()
		return nil
	}
	before := ""
	if len(h.msgs) > 0 {
		before = h.msgs[0].ID
	}
	h.mu.Unlock()

	page, err := h.api.ListMessages(ctx, h.conversationID, h.pageSize, before)
	if err != nil {
		return err
	}
	metrics.MergeOps.WithLabelValues("backward").Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(page.Messages) == 0 {
		h.hasMore = false
		return nil
	}
	merged, replaced := merge(h.msgs, page.Messages)
	h.msgs = merged
	h.hasMore = page.HasMore
	if replaced > 0 {
		metrics.DedupHits.Add(float64(replaced))
	}
	return nil
}

// ApplyEvent feeds a push event through the same merge path as the REST
// batches. A duplicate delivery is a no-op by construction; a malformed
// payload is logged and dropped.
func (h *History) ApplyEvent(ev model.PushEvent) {
	switch ev.Name {
	case model.EventMessageInserted:
		var m model.Message
		if err := json.Unmarshal(ev.Payload, &m); err != nil || m.ID == "" {
			h.log.Warnw("malformed message event", "conversation", h.conversationID, "err", err)
			metrics.DroppedEvents.WithLabelValues("malformed").Inc()
			return
		}
		if m.ConversationID != "" && m.ConversationID != h.conversationID {
			metrics.DroppedEvents.WithLabelValues("stale").Inc()
			return
		}
		metrics.MergeOps.WithLabelValues("push").Inc()
		h.mu.Lock()
		merged, replaced := merge(h.msgs, []model.Message{m})
		h.msgs = merged
		h.mu.Unlock()
		if replaced > 0 {
			metrics.DedupHits.Add(float64(replaced))
		}

	case model.EventMessageDeleted:
		var del struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(ev.Payload, &del); err != nil || del.MessageID == "" {
			metrics.DroppedEvents.WithLabelValues("malformed").Inc()
			return
		}
		h.mu.Lock()
		for i := range h.msgs {
			if h.msgs[i].ID == del.MessageID {
				h.msgs[i].IsDeleted = true
				break
			}
		}
		h.mu.Unlock()

	default:
		metrics.DroppedEvents.WithLabelValues("unknown").Inc()
	}
}

// Append merges a server-acknowledged message into the set. Used by the
// send path; if the push copy of the same id already arrived this is a
// no-op.
func (h *History) Append(m model.Message) {
	h.mu.Lock()
	h.msgs, _ = merge(h.msgs, []model.Message{m})
	h.mu.Unlock()
}
