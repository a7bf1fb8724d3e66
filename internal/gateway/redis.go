package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/model"
)

// RedisGateway maps scopes onto redis pub/sub channels. Redis cannot
// enforce per-caller auth, so SetAuth is a no-op; this transport is for
// development and single-tenant deployments behind gatewayd.
type RedisGateway struct {
	client *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

func NewRedisGateway(client *redis.Client, prefix string, log *zap.SugaredLogger) *RedisGateway {
	return &RedisGateway{client: client, prefix: prefix, log: log}
}

func (g *RedisGateway) channel(scope string) string { return g.prefix + ":" + scope }

func (g *RedisGateway) SetAuth(string) {}

func (g *RedisGateway) Subscribe(ctx context.Context, scope string, onEvent EventHandler) (Handle, error) {
	ps := g.client.Subscribe(ctx, g.channel(scope))
	// Receive forces the SUBSCRIBE round trip so errors surface here
	// rather than on the first delivery.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	h := &redisHandle{scope: scope, ps: ps, errCh: make(chan error, 1)}
	go func() {
		defer h.finish(nil)
		for msg := range ps.Channel() {
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				g.log.Warnw("malformed redis event", "scope", scope, "err", err)
				continue
			}
			onEvent(model.PushEvent{Name: f.Event, Payload: f.Payload})
		}
	}()
	return h, nil
}

func (g *RedisGateway) Publish(ctx context.Context, scope, event string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(frame{Event: event, Payload: raw})
	return g.client.Publish(ctx, g.channel(scope), b).Err()
}

func (g *RedisGateway) Close() error { return g.client.Close() }

type redisHandle struct {
	scope string
	ps    *redis.PubSub
	errCh chan error
	once  sync.Once
}

func (h *redisHandle) Scope() string     { return h.scope }
func (h *redisHandle) Err() <-chan error { return h.errCh }

func (h *redisHandle) Unsubscribe(context.Context) error {
	err := h.ps.Close()
	h.finish(nil)
	return err
}

func (h *redisHandle) finish(err error) {
	h.once.Do(func() {
		if err != nil {
			h.errCh <- err
		}
		close(h.errCh)
	})
}
