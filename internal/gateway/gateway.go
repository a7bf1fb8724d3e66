// Package gateway wraps the pub/sub transport behind a small interface:
// subscribe, publish and unsubscribe keyed by scope string. Three
// implementations exist (websocket, redis, nats); the rest of the SDK never
// sees which one is in use.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/nitelink/chatsync/internal/model"
)

// EventHandler receives every event delivered on a subscribed scope.
type EventHandler func(ev model.PushEvent)

// Handle is one live subscription. Err yields at most one value: the
// failure that killed the channel. It is closed without a value on clean
// unsubscribe.
type Handle interface {
	Scope() string
	Unsubscribe(ctx context.Context) error
	Err() <-chan error
}

// Gateway is the transport. SetAuth must be called with the current token
// before Subscribe so the server can scope event visibility; implementations
// that cannot enforce auth (redis in dev) accept and ignore it.
type Gateway interface {
	SetAuth(token string)
	Subscribe(ctx context.Context, scope string, onEvent EventHandler) (Handle, error)
	Publish(ctx context.Context, scope, event string, payload any) error
	Close() error
}

// frame is the wire envelope shared by the websocket transport and
// gatewayd. Redis and NATS carry only the Event/Payload half.
type frame struct {
	Action  string          `json:"action,omitempty"`
	Scope   string          `json:"scope,omitempty"`
	Event   string          `json:"event,omitempty"`
	Status  string          `json:"status,omitempty"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	actionAuth        = "auth"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPublish     = "publish"

	statusSubscribed = "subscribed"
	statusError      = "error"
)

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}
