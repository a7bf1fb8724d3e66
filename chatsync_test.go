package chatsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitelink/chatsync/internal/auth"
	"github.com/nitelink/chatsync/internal/config"
	"github.com/nitelink/chatsync/internal/gateway"
	"github.com/nitelink/chatsync/internal/logger"
	"github.com/nitelink/chatsync/internal/model"
	"github.com/nitelink/chatsync/internal/rest"
	"github.com/nitelink/chatsync/internal/send"
	"github.com/nitelink/chatsync/internal/subscription"
	sy "github.com/nitelink/chatsync/internal/sync"
)

// scriptedGateway subscribes everything except the scopes marked to fail.
type scriptedGateway struct {
	mu     sync.Mutex
	reject map[string]bool
	scopes []string
}

func (g *scriptedGateway) SetAuth(string) {}

func (g *scriptedGateway) Subscribe(_ context.Context, scope string, _ gateway.EventHandler) (gateway.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reject[scope] {
		return nil, errors.New("relay rejected subscribe")
	}
	g.scopes = append(g.scopes, scope)
	return &scriptedHandle{scope: scope, errCh: make(chan error)}, nil
}

func (g *scriptedGateway) Publish(context.Context, string, string, any) error { return nil }

func (g *scriptedGateway) Close() error { return nil }

func (g *scriptedGateway) subscribed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.scopes))
	copy(out, g.scopes)
	return out
}

type scriptedHandle struct {
	scope string
	errCh chan error
}

func (h *scriptedHandle) Scope() string     { return h.scope }
func (h *scriptedHandle) Err() <-chan error { return h.errCh }

func (h *scriptedHandle) Unsubscribe(context.Context) error { return nil }

func newTestClient(t *testing.T, gw gateway.Gateway) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[],"pagination":{"has_more":false}}`))
	}))
	t.Cleanup(srv.Close)

	log := logger.Nop()
	binding := auth.NewHolder()
	binding.Rotate(auth.Credential{Token: "tok", UserID: "me", Version: "v1"})

	cfg := &config.Config{}
	cfg.API.PageSize = 50
	api := rest.NewClient(rest.ClientConfig{BaseURL: srv.URL, Timeout: time.Second}, binding, log)

	c := &Client{
		cfg:     cfg,
		log:     log,
		binding: binding,
		api:     api,
		gw:      gw,
		subs:    subscription.NewManager(gw, binding, log),
		sender:  send.NewCoordinator(api, nil, log),
	}
	c.list = sy.NewConversationList(cfg.API.PageSize, api, log)
	return c
}

func TestOpenTypingSurvivesMessageSubscribeFailure(t *testing.T) {
	gw := &scriptedGateway{reject: map[string]bool{model.MessageScope("c9"): true}}
	c := newTestClient(t, gw)

	conv, err := c.Open(context.Background(), "c9", "Me")
	require.NoError(t, err, "a failed message channel degrades, it does not fail Open")
	t.Cleanup(func() { conv.Close(context.Background()) })

	assert.Equal(t, []string{model.TypingScope("c9")}, gw.subscribed(),
		"typing presence attaches even when the message channel is down")
}

func TestOpenAttachesBothScopes(t *testing.T) {
	gw := &scriptedGateway{}
	c := newTestClient(t, gw)

	conv, err := c.Open(context.Background(), "c3", "Me")
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close(context.Background()) })

	assert.Equal(t, []string{model.MessageScope("c3"), model.TypingScope("c3")}, gw.subscribed())
}
