package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/model"
)

// NATSGateway maps scopes onto NATS subjects. The credential rides as the
// connection token; the scope separator becomes a subject dot so
// "messages:abc" subscribes "chatsync.messages.abc".
//
// Transient disconnects are absorbed by the client's auto-reconnect, which
// carries live subscriptions across. Only a terminal close — reconnects
// exhausted, or the shared connection replaced on a token change — is fanned
// out to the handles, so the lifecycle manager can resubscribe.
type NATSGateway struct {
	url string
	log *zap.SugaredLogger

	mu    sync.Mutex
	token string
	nc    *nats.Conn
	subs  map[string]*natsHandle
}

func NewNATSGateway(url string, log *zap.SugaredLogger) *NATSGateway {
	return &NATSGateway{url: url, log: log, subs: make(map[string]*natsHandle)}
}

func subject(scope string) string {
	return "chatsync." + strings.ReplaceAll(scope, ":", ".")
}

func (g *NATSGateway) SetAuth(token string) {
	g.mu.Lock()
	if token == g.token {
		g.mu.Unlock()
		return
	}
	g.token = token
	nc := g.nc
	g.nc = nil
	handles := g.detachAllLocked()
	g.mu.Unlock()

	// force a re-dial with the new token on next use
	if nc != nil {
		nc.Close()
	}
	for _, h := range handles {
		h.fail(errors.New("nats connection closed on credential change"))
	}
}

func (g *NATSGateway) connect() (*nats.Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nc != nil && !g.nc.IsClosed() {
		return g.nc, nil
	}
	opts := []nats.Option{
		nats.Name("chatsync"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			g.log.Warnw("nats disconnected, reconnecting", "err", err)
		}),
		nats.ClosedHandler(g.connClosed),
	}
	if g.token != "" {
		opts = append(opts, nats.Token(g.token))
	}
	nc, err := nats.Connect(g.url, opts...)
	if err != nil {
		return nil, err
	}
	g.nc = nc
	return nc, nil
}

// connClosed runs when a connection is gone for good. Closes initiated here
// (SetAuth, Close) detach their handles first, so this only fires failures
// for closes the gateway did not ask for.
func (g *NATSGateway) connClosed(nc *nats.Conn) {
	g.mu.Lock()
	if g.nc != nc {
		g.mu.Unlock()
		return
	}
	g.nc = nil
	handles := g.detachAllLocked()
	g.mu.Unlock()

	err := nc.LastError()
	if err == nil {
		err = errors.New("nats connection closed")
	}
	for _, h := range handles {
		h.fail(err)
	}
}

// detachAllLocked empties the scope table and returns the former handles.
// Caller holds mu.
func (g *NATSGateway) detachAllLocked() []*natsHandle {
	handles := make([]*natsHandle, 0, len(g.subs))
	for _, h := range g.subs {
		handles = append(handles, h)
	}
	g.subs = make(map[string]*natsHandle)
	return handles
}

func (g *NATSGateway) Subscribe(_ context.Context, scope string, onEvent EventHandler) (Handle, error) {
	nc, err := g.connect()
	if err != nil {
		return nil, err
	}
	h := &natsHandle{scope: scope, gw: g, errCh: make(chan error, 1)}
	sub, err := nc.Subscribe(subject(scope), func(m *nats.Msg) {
		var f frame
		if err := json.Unmarshal(m.Data, &f); err != nil {
			g.log.Warnw("malformed nats event", "scope", scope, "err", err)
			return
		}
		onEvent(model.PushEvent{Name: f.Event, Payload: f.Payload})
	})
	if err != nil {
		return nil, err
	}
	h.sub = sub

	g.mu.Lock()
	if _, ok := g.subs[scope]; ok {
		g.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("scope %q already subscribed", scope)
	}
	g.subs[scope] = h
	g.mu.Unlock()
	return h, nil
}

func (g *NATSGateway) Publish(ctx context.Context, scope, event string, payload any) error {
	nc, err := g.connect()
	if err != nil {
		return err
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(frame{Event: event, Payload: raw})
	return nc.Publish(subject(scope), b)
}

func (g *NATSGateway) Close() error {
	g.mu.Lock()
	nc := g.nc
	g.nc = nil
	handles := g.detachAllLocked()
	g.mu.Unlock()

	for _, h := range handles {
		h.fail(nil)
	}
	if nc != nil {
		nc.Close()
	}
	return nil
}

type natsHandle struct {
	scope string
	gw    *NATSGateway
	sub   *nats.Subscription
	errCh chan error
	once  sync.Once
}

func (h *natsHandle) Scope() string     { return h.scope }
func (h *natsHandle) Err() <-chan error { return h.errCh }

func (h *natsHandle) fail(err error) {
	h.once.Do(func() {
		if err != nil {
			h.errCh <- err
		}
		close(h.errCh)
	})
}

func (h *natsHandle) Unsubscribe(context.Context) error {
	h.gw.mu.Lock()
	if h.gw.subs[h.scope] == h {
		delete(h.gw.subs, h.scope)
	}
	h.gw.mu.Unlock()

	err := h.sub.Unsubscribe()
	h.fail(nil)
	return err
}
