// Package typing implements the ephemeral typing-presence channel: a
// non-persisted broadcast of start/stop signals with a bounded validity
// window.
package typing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nitelink/chatsync/internal/model"
)

// Expiry is how long a typing entry survives without a refresh.
const Expiry = 3 * time.Second

const sweepInterval = 500 * time.Millisecond

// Publisher is the fire-and-forget half of the gateway.
type Publisher interface {
	Publish(ctx context.Context, scope, event string, payload any) error
}

// Channel tracks which remote users are typing in one conversation. The
// local user's own signals never appear in its view.
type Channel struct {
	scope    string
	selfID   string
	selfName string
	pub      Publisher
	log      *zap.SugaredLogger
	limiter  *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	peers    map[string]model.TypingSignal
	onChange func([]model.TypingSignal)

	stop     chan struct{}
	stopOnce sync.Once
}

func NewChannel(conversationID, selfID, selfName string, pub Publisher, log *zap.SugaredLogger) *Channel {
	c := &Channel{
		scope:    model.TypingScope(conversationID),
		selfID:   selfID,
		selfName: selfName,
		pub:      pub,
		log:      log,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		now:      time.Now,
		peers:    make(map[string]model.TypingSignal),
		stop:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// OnChange registers a callback invoked with the active set after every
// observable transition.
func (c *Channel) OnChange(fn func([]model.TypingSignal)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// ApplyEvent handles one typing event from the push channel.
func (c *Channel) ApplyEvent(ev model.PushEvent) {
	if ev.Name != model.EventTyping {
		return
	}
	var te model.TypingEvent
	if err := json.Unmarshal(ev.Payload, &te); err != nil || te.UserID == "" {
		c.log.Warnw("malformed typing event", "scope", c.scope, "err", err)
		return
	}
	if te.UserID == c.selfID {
		return
	}

	c.mu.Lock()
	if te.IsTyping {
		c.peers[te.UserID] = model.TypingSignal{
			UserID:         te.UserID,
			DisplayName:    te.DisplayName,
			LastSeenTyping: c.now(),
		}
	} else {
		delete(c.peers, te.UserID)
	}
	c.notifyLocked()
	c.mu.Unlock()
}

// Active returns the non-expired typing entries.
func (c *Channel) Active() []model.TypingSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *Channel) activeLocked() []model.TypingSignal {
	cutoff := c.now().Add(-Expiry)
	out := make([]model.TypingSignal, 0, len(c.peers))
	for _, s := range c.peers {
		if s.LastSeenTyping.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Send broadcasts the local user's typing state. Starts are rate-limited
// so a keystroke storm does not flood the channel; stops always go out.
// Fire and forget: no acknowledgement, no retry.
func (c *Channel) Send(ctx context.Context, isTyping bool) {
	if isTyping && !c.limiter.Allow() {
		return
	}
	te := model.TypingEvent{UserID: c.selfID, DisplayName: c.selfName, IsTyping: isTyping}
	if err := c.pub.Publish(ctx, c.scope, model.EventTyping, te); err != nil {
		c.log.Debugw("typing publish failed", "scope", c.scope, "err", err)
	}
}

// Close stops the expiry sweeper.
func (c *Channel) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Channel) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.stop:
			return
		}
	}
}

func (c *Channel) expire() {
	c.mu.Lock()
	cutoff := c.now().Add(-Expiry)
	changed := false
	for id, s := range c.peers {
		if !s.LastSeenTyping.After(cutoff) {
			delete(c.peers, id)
			changed = true
		}
	}
	if changed {
		c.notifyLocked()
	}
	c.mu.Unlock()
}

func (c *Channel) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.activeLocked())
	}
}
