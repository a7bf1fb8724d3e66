// Package chatsync is the client-side realtime conversation and message
// synchronization core: it keeps a consistent view of conversations and
// message history while data arrives from paginated REST fetches and the
// push gateway in arbitrary order, with no transport delivery guarantees.
package chatsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/apperr"
	"github.com/nitelink/chatsync/internal/auth"
	"github.com/nitelink/chatsync/internal/config"
	"github.com/nitelink/chatsync/internal/gateway"
	"github.com/nitelink/chatsync/internal/media"
	"github.com/nitelink/chatsync/internal/model"
	"github.com/nitelink/chatsync/internal/rest"
	"github.com/nitelink/chatsync/internal/send"
	"github.com/nitelink/chatsync/internal/subscription"
	"github.com/nitelink/chatsync/internal/sync"
	"github.com/nitelink/chatsync/internal/typing"
)

type Client struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	binding *auth.Holder
	api     *rest.Client
	gw      gateway.Gateway
	subs    *subscription.Manager
	sender  *send.Coordinator

	list *sync.ConversationList
}

// New wires the SDK from config: REST client, gateway transport by kind,
// subscription manager and the send path. Call SetCredential before
// anything that needs auth; without it the client runs REST-only.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Client, error) {
	binding := auth.NewHolder()
	api := rest.NewClient(rest.ClientConfig{
		BaseURL:         cfg.API.BaseURL,
		Timeout:         cfg.APITimeout(),
		RetryMaxElapsed: cfg.RetryMaxElapsed(),
	}, binding, log)

	var gw gateway.Gateway
	switch cfg.Gateway.Kind {
	case "ws":
		gw = gateway.NewWSGateway(cfg.Gateway.URL, log)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		gw = gateway.NewRedisGateway(rdb, cfg.Redis.Prefix, log)
	case "nats":
		gw = gateway.NewNATSGateway(cfg.Gateway.URL, log)
	default:
		return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
	}

	var uploader media.Uploader
	if cfg.Media.Bucket != "" {
		s3u, err := media.NewS3Uploader(ctx, cfg.Media.Region, cfg.Media.Bucket, cfg.Media.PublicRead, log)
		if err != nil {
			return nil, err
		}
		uploader = s3u
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		binding: binding,
		api:     api,
		gw:      gw,
		subs:    subscription.NewManager(gw, binding, log),
		sender:  send.NewCoordinator(api, uploader, log),
	}
	c.list = sync.NewConversationList(cfg.API.PageSize, api, log)
	return c, nil
}

// SetCredential installs an access token. Subscriptions opened later bind
// to it; already-open scopes rebind on their next Ensure.
func (c *Client) SetCredential(token string) error {
	cred, err := auth.FromToken(token)
	if err != nil {
		return err
	}
	c.binding.Rotate(cred)
	return nil
}

// ClearCredential drops the token; push setup degrades to REST-only.
func (c *Client) ClearCredential() {
	c.binding.Rotate(auth.Credential{})
}

func (c *Client) UserID() string { return c.binding.Current().UserID }

// Conversations loads the first page and keeps the list live: any message
// insertion anywhere triggers a wholesale refresh from offset zero.
func (c *Client) Conversations(ctx context.Context) (*sync.ConversationList, error) {
	if err := c.list.Reset(ctx); err != nil {
		return nil, err
	}
	err := c.subs.Ensure(ctx, model.ScopeConversations, func(ev model.PushEvent) {
		c.list.ApplyEvent(context.Background(), ev)
	})
	if err != nil && !errors.Is(err, apperr.ErrAuthMissing) {
		c.log.Warnw("conversation list push unavailable", "err", err)
	}
	return c.list, nil
}

func (c *Client) CreateConversation(ctx context.Context, req rest.CreateConversationRequest) (string, error) {
	return c.api.CreateConversation(ctx, req)
}

// Conversation is one open conversation: its reconciled history, its
// typing presence, and the send path committing into it.
type Conversation struct {
	ID      string
	History *sync.History
	Typing  *typing.Channel

	client *Client
}

// Open loads the newest page of history and attaches the conversation's
// message and typing scopes. Without a credential both subscriptions are
// skipped and the conversation still works over REST.
func (c *Client) Open(ctx context.Context, conversationID, selfName string) (*Conversation, error) {
	selfID := c.binding.Current().UserID
	hist := sync.NewHistory(conversationID, selfID, c.cfg.API.PageSize, c.api, c.log)
	if err := hist.Load(ctx); err != nil {
		return nil, err
	}

	conv := &Conversation{
		ID:      conversationID,
		History: hist,
		Typing:  typing.NewChannel(conversationID, selfID, selfName, c.gw, c.log),
		client:  c,
	}

	if err := c.subs.Ensure(ctx, model.MessageScope(conversationID), hist.ApplyEvent); err != nil {
		if errors.Is(err, apperr.ErrAuthMissing) {
			return conv, nil
		}
		c.log.Warnw("message push unavailable", "conversation", conversationID, "err", err)
	}
	// The scopes degrade independently: a failed message subscription must
	// not take typing presence down with it.
	if err := c.subs.Ensure(ctx, model.TypingScope(conversationID), conv.Typing.ApplyEvent); err != nil && !errors.Is(err, apperr.ErrAuthMissing) {
		c.log.Warnw("typing push unavailable", "conversation", conversationID, "err", err)
	}
	return conv, nil
}

func (v *Conversation) SendText(ctx context.Context, content string) (model.Message, error) {
	return v.client.sender.SendText(ctx, v.ID, content, v.History)
}

func (v *Conversation) SendMedia(ctx context.Context, items []media.Item) ([]model.Message, error) {
	return v.client.sender.SendMedia(ctx, v.ID, items, v.History)
}

func (v *Conversation) DeleteMessage(ctx context.Context, messageID string) error {
	return v.client.api.DeleteMessage(ctx, messageID)
}

func (v *Conversation) AddReaction(ctx context.Context, messageID, emoji string) error {
	return v.client.api.AddReaction(ctx, messageID, emoji)
}

func (v *Conversation) Search(ctx context.Context, query string, limit int) ([]model.Message, error) {
	return v.client.api.SearchMessages(ctx, v.ID, query, limit)
}

// Close releases the conversation's scopes. Teardown completes before
// Close returns, so a replacement subscription never overlaps the old one.
func (v *Conversation) Close(ctx context.Context) {
	v.client.subs.Release(ctx, model.MessageScope(v.ID))
	v.client.subs.Release(ctx, model.TypingScope(v.ID))
	v.Typing.Close()
}

// Close tears down every subscription, then the transport.
func (c *Client) Close(ctx context.Context) error {
	c.subs.ReleaseAll(ctx)
	return c.gw.Close()
}
