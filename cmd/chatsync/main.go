// chatsync is a terminal client for the sync core: it lists conversations,
// tails one of them live, and sends what you type.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nitelink/chatsync"
	"github.com/nitelink/chatsync/internal/config"
	"github.com/nitelink/chatsync/internal/logger"
	"github.com/nitelink/chatsync/internal/model"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		convID     = flag.String("conversation", "", "conversation id to open")
		name       = flag.String("name", "me", "display name for typing signals")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Development: cfg.App.Env == "development"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chatsync.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("init failed", "err", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(sctx)
	}()

	if token := os.Getenv("CHAT_TOKEN"); token != "" {
		if err := client.SetCredential(token); err != nil {
			log.Fatalw("bad token", "err", err)
		}
	} else {
		log.Warn("CHAT_TOKEN not set, running REST-only")
	}

	if *convID == "" {
		listConversations(ctx, client, log)
		return
	}
	tail(ctx, client, *convID, *name, log)
}

func listConversations(ctx context.Context, client *chatsync.Client, log *zap.SugaredLogger) {
	list, err := client.Conversations(ctx)
	if err != nil {
		log.Fatalw("load conversations", "err", err)
	}
	for _, conv := range list.Items() {
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Content
		}
		fmt.Printf("%-26s %-7s unread=%-3d %s\n", conv.ID, conv.Kind, conv.UnreadCount, preview)
	}
}

func tail(ctx context.Context, client *chatsync.Client, convID, name string, log *zap.SugaredLogger) {
	conv, err := client.Open(ctx, convID, name)
	if err != nil {
		log.Fatalw("open conversation", "err", err)
	}
	defer conv.Close(context.Background())

	for _, m := range conv.History.Messages() {
		printMessage(m)
	}
	conv.Typing.OnChange(func(active []model.TypingSignal) {
		names := make([]string, 0, len(active))
		for _, s := range active {
			names = append(names, s.DisplayName)
		}
		if len(names) > 0 {
			fmt.Printf("· %s typing…\n", strings.Join(names, ", "))
		}
	})

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := scanner.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			conv.Typing.Send(ctx, false)
			if _, err := conv.SendText(ctx, text); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}()

	seen := make(map[string]bool)
	for _, m := range conv.History.Messages() {
		seen[m.ID] = true
	}
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, m := range conv.History.Messages() {
				if !seen[m.ID] {
					seen[m.ID] = true
					printMessage(m)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func printMessage(m model.Message) {
	body := m.Content
	if m.IsDeleted {
		body = "(deleted)"
	} else if m.Type != model.MessageText {
		body = fmt.Sprintf("[%s] %s", m.Type, m.MediaURL)
	}
	fmt.Printf("%s %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, body)
}
