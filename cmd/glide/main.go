package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"glide-client/internal/api"
	"glide-client/internal/config"
	"glide-client/internal/directory"
	"glide-client/internal/domain/message"
	"glide-client/internal/session"
	"glide-client/internal/store"
	"glide-client/internal/transport"
	"glide-client/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.New(cfg.Environment)
	defer lg.Sync()

	uid := cfg.UID
	if uid == "" {
		uid, err = api.IdentityFromToken(cfg.API.Token)
		if err != nil {
			lg.Error("no identity: set GLIDE_UID or provide a token with a subject claim", zap.Error(err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.DataDir, uid, lg)
	if err != nil {
		lg.Error("open store failed", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	apiClient := api.NewClient(cfg.API.BaseURL, lg)
	apiClient.SetToken(cfg.API.Token)

	var shared *directory.RedisCache
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := directory.NewRedisCache(rdb)
		if err := cache.Ping(ctx); err != nil {
			lg.Warn("redis unreachable, shared directory cache disabled", zap.Error(err))
		} else {
			shared = cache
		}
	}
	resolver := directory.NewResolver(uid, apiClient, shared, lg)

	tr, err := transport.Dial(ctx, cfg.Transport.WsURL, cfg.API.Token, lg)
	if err != nil {
		lg.Error("connect failed", zap.String("url", cfg.Transport.WsURL), zap.Error(err))
		os.Exit(1)
	}
	defer tr.Close()

	reg := session.NewRegistry(st, resolver, tr, apiClient, apiClient, lg)
	if err := reg.Load(ctx); err != nil {
		lg.Warn("restore sessions failed", zap.Error(err))
	}
	if _, err := reg.Refresh(ctx); err != nil {
		lg.Warn("refresh sessions failed", zap.Error(err))
	}

	reg.SetUpdateListener(func() {
		for _, s := range reg.List() {
			content, sender := s.LastMessage()
			if content == "" {
				continue
			}
			fmt.Printf("[%s] (%d unread) %s: %s\n", s.Title(), s.UnreadCount(), sender, content)
		}
	})

	go reg.Run(ctx)
	lg.Info("connected", zap.String("uid", uid))

	go repl(ctx, reg, lg)

	<-ctx.Done()
	if err := reg.Close(context.Background()); err != nil {
		lg.Warn("close registry failed", zap.Error(err))
	}
	lg.Info("signed out")
}

// repl reads "<peer> <text>" lines from stdin and sends them.
func repl(ctx context.Context, reg *session.Registry, lg *logger.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			fmt.Println("usage: <peer-uid> <text>")
			continue
		}
		s := reg.GetOrCreate(parts[0], session.TypeSingle)
		reg.Select(s.ID())
		s.NotifyTyping()
		if m, err := s.SendText(ctx, parts[1]); err != nil {
			lg.Error("send failed", zap.String("cli_mid", m.CliMid), zap.Error(err))
		} else if m.Delivery == message.DeliverySent {
			fmt.Printf("delivered mid=%d seq=%d\n", m.Mid, m.Seq)
		}
	}
}
