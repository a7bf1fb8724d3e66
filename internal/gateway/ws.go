package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	ackWait    = 10 * time.Second
	readLimit  = 1024 * 64
)

// WSGateway multiplexes every scope over a single websocket connection to
// the gateway daemon. The connection is dialed lazily on the first
// subscribe and survives until Close or a transport failure; a failure is
// fanned out to every live handle so the lifecycle manager can resubscribe.
type WSGateway struct {
	url string
	log *zap.SugaredLogger

	mu    sync.Mutex
	conn  *websocket.Conn
	token string
	subs  map[string]*wsHandle
	acks  map[string]chan string
	send  chan []byte
	done  chan struct{}
}

type wsHandle struct {
	scope string
	gw    *WSGateway
	on    EventHandler
	errCh chan error
	once  sync.Once
}

func (h *wsHandle) Scope() string     { return h.scope }
func (h *wsHandle) Err() <-chan error { return h.errCh }

func (h *wsHandle) Unsubscribe(ctx context.Context) error {
	return h.gw.unsubscribe(ctx, h)
}

func (h *wsHandle) fail(err error) {
	h.once.Do(func() {
		if err != nil {
			h.errCh <- err
		}
		close(h.errCh)
	})
}

func NewWSGateway(url string, log *zap.SugaredLogger) *WSGateway {
	return &WSGateway{
		url:  url,
		log:  log,
		subs: make(map[string]*wsHandle),
		acks: make(map[string]chan string),
	}
}

func (g *WSGateway) SetAuth(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

func (g *WSGateway) Subscribe(ctx context.Context, scope string, onEvent EventHandler) (Handle, error) {
	g.mu.Lock()
	if err := g.ensureConnLocked(ctx); err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if _, ok := g.subs[scope]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("scope %q already subscribed", scope)
	}
	// The handle goes into the scope table before the subscribe frame is
	// written: the relay may deliver events for the scope right after its
	// ack, and the read pump must already know where to route them.
	h := &wsHandle{scope: scope, gw: g, on: onEvent, errCh: make(chan error, 1)}
	ack := make(chan string, 1)
	g.subs[scope] = h
	g.acks[scope] = ack
	g.mu.Unlock()

	if err := g.writeFrame(frame{Action: actionSubscribe, Scope: scope}); err != nil {
		g.abortSubscribe(scope, h)
		return nil, err
	}

	select {
	case status := <-ack:
		g.dropAck(scope)
		if status != statusSubscribed {
			g.removeHandle(scope, h)
			return nil, fmt.Errorf("subscribe %q: status %s", scope, status)
		}
	case <-time.After(ackWait):
		g.abortSubscribe(scope, h)
		return nil, fmt.Errorf("subscribe %q: ack timeout", scope)
	case <-ctx.Done():
		g.abortSubscribe(scope, h)
		return nil, ctx.Err()
	}
	return h, nil
}

func (g *WSGateway) Publish(ctx context.Context, scope, event string, payload any) error {
	g.mu.Lock()
	if err := g.ensureConnLocked(ctx); err != nil {
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return g.writeFrame(frame{Action: actionPublish, Scope: scope, Event: event, Payload: raw})
}

func (g *WSGateway) Close() error {
	g.mu.Lock()
	conn := g.conn
	done := g.done
	g.conn = nil
	g.done = nil
	handles := make([]*wsHandle, 0, len(g.subs))
	for _, h := range g.subs {
		handles = append(handles, h)
	}
	g.subs = make(map[string]*wsHandle)
	g.mu.Unlock()

	for _, h := range handles {
		h.fail(nil)
	}
	if done != nil {
		close(done)
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (g *WSGateway) unsubscribe(ctx context.Context, h *wsHandle) error {
	g.mu.Lock()
	if g.subs[h.scope] != h {
		g.mu.Unlock()
		return nil
	}
	delete(g.subs, h.scope)
	connected := g.conn != nil
	g.mu.Unlock()

	h.fail(nil)
	if !connected {
		return nil
	}
	return g.writeFrame(frame{Action: actionUnsubscribe, Scope: h.scope})
}

// ensureConnLocked dials and starts the pumps if needed. Caller holds mu.
func (g *WSGateway) ensureConnLocked(ctx context.Context) error {
	if g.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return err
	}
	g.conn = conn
	g.send = make(chan []byte, 256)
	g.done = make(chan struct{})

	if g.token != "" {
		b, _ := json.Marshal(frame{Action: actionAuth, Token: g.token})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = conn.Close()
			g.conn = nil
			return err
		}
	}

	go g.readPump(conn)
	go g.writePump(conn, g.send, g.done)
	return nil
}

func (g *WSGateway) writeFrame(f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	g.mu.Lock()
	send := g.send
	g.mu.Unlock()
	if send == nil {
		return errors.New("gateway not connected")
	}
	select {
	case send <- b:
		return nil
	default:
		return errors.New("gateway send buffer full")
	}
}

func (g *WSGateway) readPump(conn *websocket.Conn) {
	defer g.teardown(conn)
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			g.log.Warnw("malformed gateway frame", "err", err)
			continue
		}
		if f.Status != "" {
			g.mu.Lock()
			ack := g.acks[f.Scope]
			g.mu.Unlock()
			if ack != nil {
				select {
				case ack <- f.Status:
				default:
				}
			}
			continue
		}

		g.mu.Lock()
		h := g.subs[f.Scope]
		g.mu.Unlock()
		if h == nil {
			continue
		}
		h.on(model.PushEvent{Name: f.Event, Payload: f.Payload})
	}
}

func (g *WSGateway) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case b, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// teardown runs when the read pump exits: the connection is gone, every
// live handle learns about it exactly once.
func (g *WSGateway) teardown(conn *websocket.Conn) {
	_ = conn.Close()
	g.mu.Lock()
	if g.conn != conn {
		g.mu.Unlock()
		return
	}
	g.conn = nil
	g.send = nil
	handles := make([]*wsHandle, 0, len(g.subs))
	for _, h := range g.subs {
		handles = append(handles, h)
	}
	g.subs = make(map[string]*wsHandle)
	done := g.done
	g.done = nil
	g.mu.Unlock()

	if done != nil {
		close(done)
	}
	for _, h := range handles {
		h.fail(errors.New("gateway connection lost"))
	}
}

func (g *WSGateway) dropAck(scope string) {
	g.mu.Lock()
	delete(g.acks, scope)
	g.mu.Unlock()
}

// removeHandle backs out an early-registered handle after a failed
// subscribe. Teardown may have cleared the table already.
func (g *WSGateway) removeHandle(scope string, h *wsHandle) {
	g.mu.Lock()
	if g.subs[scope] == h {
		delete(g.subs, scope)
	}
	g.mu.Unlock()
}

func (g *WSGateway) abortSubscribe(scope string, h *wsHandle) {
	g.dropAck(scope)
	g.removeHandle(scope, h)
}
