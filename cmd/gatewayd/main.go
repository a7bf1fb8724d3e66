// gatewayd is the development pub/sub gateway: websocket clients subscribe
// to scope keys, events are fanned out over redis so multiple instances
// stay in sync, and an optional kafka consumer bridges backend events onto
// scope channels. The wire protocol matches the SDK's websocket transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nitelink/chatsync/internal/config"
	"github.com/nitelink/chatsync/internal/logger"
	"github.com/nitelink/chatsync/internal/metrics"
)

type frame struct {
	Action  string          `json:"action,omitempty"`
	Scope   string          `json:"scope,omitempty"`
	Event   string          `json:"event,omitempty"`
	Status  string          `json:"status,omitempty"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type session struct {
	conn   *websocket.Conn
	rdb    *redis.Client
	prefix string
	secret string
	log    *zap.SugaredLogger

	writeMu sync.Mutex
	mu      sync.Mutex
	uid     string
	subs    map[string]*redis.PubSub
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Config{Development: cfg.App.Env == "development"})
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		go consumeKafka(ctx, cfg, rdb, log)
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		s := &session{
			conn:   conn,
			rdb:    rdb,
			prefix: cfg.Redis.Prefix,
			secret: cfg.JWT.HSSecret,
			log:    log,
			subs:   make(map[string]*redis.PubSub),
		}
		s.run(ctx)
	}))

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	log.Infow("gatewayd listening", "addr", ":8090")
	if err := app.Listen(":8090"); err != nil {
		log.Errorw("server stopped", "err", err)
	}
}

func (s *session) run(ctx context.Context) {
	defer s.cleanup()
	s.conn.SetReadLimit(1024 * 64)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go s.pingLoop(ctx)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Action {
		case "auth":
			if uid, err := s.validate(f.Token); err == nil {
				s.mu.Lock()
				s.uid = uid
				s.mu.Unlock()
			} else {
				s.log.Warnw("auth rejected", "err", err)
			}
		case "subscribe":
			s.subscribe(ctx, f.Scope)
		case "unsubscribe":
			s.unsubscribe(f.Scope)
		case "publish":
			b, _ := json.Marshal(frame{Event: f.Event, Payload: f.Payload})
			if err := s.rdb.Publish(ctx, s.prefix+":"+f.Scope, b).Err(); err != nil {
				s.log.Warnw("publish failed", "scope", f.Scope, "err", err)
			}
		}
	}
}

// validate checks an HS256 token and returns its subject. With no secret
// configured the daemon runs open (local development).
func (s *session) validate(token string) (string, error) {
	if s.secret == "" {
		return "anonymous", nil
	}
	tok, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", errors.New("token has no subject")
}

func (s *session) subscribe(ctx context.Context, scope string) {
	s.mu.Lock()
	uid := s.uid
	_, exists := s.subs[scope]
	s.mu.Unlock()

	if s.secret != "" && uid == "" {
		s.reply(frame{Scope: scope, Status: "error"})
		return
	}
	if exists {
		s.reply(frame{Scope: scope, Status: "subscribed"})
		return
	}

	ps := s.rdb.Subscribe(ctx, s.prefix+":"+scope)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		s.reply(frame{Scope: scope, Status: "error"})
		return
	}
	s.mu.Lock()
	s.subs[scope] = ps
	s.mu.Unlock()
	s.reply(frame{Scope: scope, Status: "subscribed"})

	go func() {
		for msg := range ps.Channel() {
			var inner frame
			if err := json.Unmarshal([]byte(msg.Payload), &inner); err != nil {
				continue
			}
			s.reply(frame{Scope: scope, Event: inner.Event, Payload: inner.Payload})
		}
	}()
}

func (s *session) unsubscribe(scope string) {
	s.mu.Lock()
	ps := s.subs[scope]
	delete(s.subs, scope)
	s.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (s *session) reply(f frame) {
	b, _ := json.Marshal(f)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) cleanup() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*redis.PubSub)
	s.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	_ = s.conn.Close()
}

// consumeKafka bridges backend events onto scope channels. Records carry
// {"scope","event","payload"}; the redis publish fans them out to every
// gatewayd instance.
func consumeKafka(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.SugaredLogger) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnw("kafka read error", "err", err)
			time.Sleep(time.Second)
			continue
		}
		var f frame
		if err := json.Unmarshal(m.Value, &f); err != nil || f.Scope == "" {
			log.Warnw("malformed kafka record", "err", err)
			continue
		}
		b, _ := json.Marshal(frame{Event: f.Event, Payload: f.Payload})
		if err := rdb.Publish(ctx, cfg.Redis.Prefix+":"+f.Scope, b).Err(); err != nil {
			log.Warnw("bridge publish failed", "scope", f.Scope, "err", err)
		}
	}
}
