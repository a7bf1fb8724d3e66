// Package subscription owns the lifetime of push channels: one live handle
// per scope key, rebound when the credential rotates, untouched when only
// the consumer's callback changes.
package subscription

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/apperr"
	"github.com/nitelink/chatsync/internal/auth"
	"github.com/nitelink/chatsync/internal/gateway"
	"github.com/nitelink/chatsync/internal/metrics"
	"github.com/nitelink/chatsync/internal/model"
)

// maxResubscribes bounds the backoff retries after a channel error. Past
// the cap the scope stays degraded (REST-only) until a credential or scope
// change triggers a fresh Ensure.
const maxResubscribes = 5

// entry is one live subscription. The callback lives in a mutable slot so
// the channel dispatch always reaches the latest consumer state without
// the channel itself being torn down.
type entry struct {
	scope       string
	credVersion string

	mu      sync.RWMutex
	onEvent gateway.EventHandler
	handle  gateway.Handle
	stopped bool
}

func (e *entry) setCallback(fn gateway.EventHandler) {
	e.mu.Lock()
	e.onEvent = fn
	e.mu.Unlock()
}

func (e *entry) dispatch(ev model.PushEvent) {
	e.mu.RLock()
	fn := e.onEvent
	e.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

type Manager struct {
	gw      gateway.Gateway
	binding auth.Binding
	log     *zap.SugaredLogger

	// opMu serializes Ensure/Release so teardown of an old handle always
	// completes before its replacement is created.
	opMu sync.Mutex

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewManager(gw gateway.Gateway, binding auth.Binding, log *zap.SugaredLogger) *Manager {
	return &Manager{
		gw:      gw,
		binding: binding,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Ensure makes sure one channel is live for scope under the current
// credential. Called again with the same (scope, credential) it only
// refreshes the callback slot. A scope under a stale credential is torn
// down first, then re-created. Without a credential nothing is set up and
// apperr.ErrAuthMissing is returned; the caller continues REST-only.
func (m *Manager) Ensure(ctx context.Context, scope string, onEvent gateway.EventHandler) error {
	cred := m.binding.Current()
	if cred.Zero() {
		return apperr.ErrAuthMissing
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperr.ErrChannel
	}
	old := m.entries[scope]
	m.mu.Unlock()

	if old != nil && old.credVersion == cred.Version {
		old.setCallback(onEvent)
		return nil
	}
	if old != nil {
		m.teardown(ctx, old)
	}

	m.gw.SetAuth(cred.Token)
	e := &entry{scope: scope, credVersion: cred.Version, onEvent: onEvent}
	h, err := m.gw.Subscribe(ctx, scope, e.dispatch)
	if err != nil {
		m.log.Errorw("subscribe failed", "scope", scope, "err", err)
		return err
	}
	e.handle = h

	m.mu.Lock()
	m.entries[scope] = e
	m.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go m.watch(e, h)
	return nil
}

// Release tears down the channel for scope, if any. Cleanup completes
// before Release returns.
func (m *Manager) Release(ctx context.Context, scope string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	e := m.entries[scope]
	m.mu.Unlock()
	if e != nil {
		m.teardown(ctx, e)
	}
}

// ReleaseAll tears down every live channel and refuses further Ensures.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.teardown(ctx, e)
	}
}

func (m *Manager) teardown(ctx context.Context, e *entry) {
	e.mu.Lock()
	e.stopped = true
	h := e.handle
	e.mu.Unlock()

	if h != nil {
		if err := h.Unsubscribe(ctx); err != nil {
			m.log.Warnw("unsubscribe failed", "scope", e.scope, "err", err)
		}
	}

	m.mu.Lock()
	if m.entries[e.scope] == e {
		delete(m.entries, e.scope)
		metrics.ActiveSubscriptions.Dec()
	}
	m.mu.Unlock()
}

// watch resubscribes after channel errors with capped exponential backoff.
// A nil error on the handle channel means clean teardown: nothing to do.
func (m *Manager) watch(e *entry, h gateway.Handle) {
	err, ok := <-h.Err()
	if !ok || err == nil {
		return
	}
	metrics.ChannelErrors.Inc()
	m.log.Warnw("channel error", "scope", e.scope, "err", err)

	op := func() error {
		e.mu.RLock()
		stopped := e.stopped
		e.mu.RUnlock()
		if stopped {
			return backoff.Permanent(apperr.ErrChannel)
		}
		cred := m.binding.Current()
		if cred.Zero() || cred.Version != e.credVersion {
			// credential moved on; the next Ensure owns this scope
			return backoff.Permanent(apperr.ErrAuthMissing)
		}
		metrics.Resubscribes.Inc()
		nh, serr := m.gw.Subscribe(context.Background(), e.scope, e.dispatch)
		if serr != nil {
			return serr
		}
		e.mu.Lock()
		e.handle = nh
		e.mu.Unlock()
		go m.watch(e, nh)
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxResubscribes)
	if rerr := backoff.Retry(op, b); rerr != nil {
		m.log.Errorw("resubscribe abandoned, degraded to REST-only", "scope", e.scope, "err", rerr)
		m.mu.Lock()
		if m.entries[e.scope] == e {
			delete(m.entries, e.scope)
			metrics.ActiveSubscriptions.Dec()
		}
		m.mu.Unlock()
	}
}
