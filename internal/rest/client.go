// Package rest implements the request/response half of the sync core: the
// paginated conversation and message fetches, sends, read receipts and the
// auxiliary reaction/search calls. All calls carry the current bearer
// credential; idempotent GETs retry with exponential backoff, everything
// runs through one circuit breaker.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/apperr"
	"github.com/nitelink/chatsync/internal/auth"
	"github.com/nitelink/chatsync/internal/model"
)

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

type Client struct {
	http    *http.Client
	conf    ClientConfig
	binding auth.Binding
	breaker *gobreaker.CircuitBreaker
	log     *zap.SugaredLogger
}

func NewClient(conf ClientConfig, binding auth.Binding, log *zap.SugaredLogger) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chatsync-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:    conf,
		binding: binding,
		breaker: cb,
		log:     log,
	}
}

type MessagesPage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"-"`
}

type CreateConversationRequest struct {
	PeerID string     `json:"peer_id,omitempty"`
	Group  *GroupSpec `json:"group,omitempty"`
}

type GroupSpec struct {
	Title     string   `json:"title"`
	MemberIDs []string `json:"member_ids"`
	EventLink string   `json:"event_link,omitempty"`
}

type SendMessageRequest struct {
	Content       string            `json:"content,omitempty"`
	Type          model.MessageType `json:"type"`
	MediaURL      string            `json:"media_url,omitempty"`
	ThumbnailURL  string            `json:"thumbnail_url,omitempty"`
	MediaDuration int               `json:"media_duration,omitempty"`
	MediaSize     int64             `json:"media_size,omitempty"`
}

func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := c.getJSON(ctx, "/conversations?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", req, &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// ListMessages fetches one page of history, newest first when before is
// empty, strictly older than before otherwise.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before string) (MessagesPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	var out struct {
		Messages   []model.Message `json:"messages"`
		Pagination struct {
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()
	if err := c.getJSON(ctx, path, &out); err != nil {
		return MessagesPage{}, err
	}
	return MessagesPage{Messages: out.Messages, HasMore: out.Pagination.HasMore}, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (model.Message, error) {
	var out struct {
		Message model.Message `json:"message"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return model.Message{}, err
	}
	return out.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"message_id": messageID}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, nil)
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]model.Message, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/search?" + q.Encode()
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// getJSON retries transient failures; GETs are safe to replay.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	op := func() error {
		err := c.doJSON(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		var ne *apperr.NetworkError
		if errors.As(err, &ne) && ne.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.conf.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred := c.binding.Current(); !cred.Zero() {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &apperr.NetworkError{Op: op, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, &apperr.NetworkError{Op: op, StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		var ne *apperr.NetworkError
		if !errors.As(err, &ne) {
			// breaker-open and similar transport-level failures
			err = &apperr.NetworkError{Op: op, Err: err}
		}
		return err
	}

	resp := res.(*http.Response)
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
