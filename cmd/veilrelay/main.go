package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/veilchess/veilchess/internal/config"
	"github.com/veilchess/veilchess/internal/mailbox"
	"github.com/veilchess/veilchess/internal/obslog"
	"github.com/veilchess/veilchess/internal/relay"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	store, err := buildStore(cfg)
	if err != nil {
		obslog.L().Fatal("store init failed", zap.Error(err))
	}
	box := mailbox.NewManager(store, time.Duration(cfg.InviteTTLSec)*time.Second)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.NewServer(box).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		obslog.L().Info("relay listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("relay server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("shutdown", zap.Error(err))
	}
}

// buildStore picks Redis when configured, otherwise the in-process
// store. A single-node relay works fine on memory; Redis lets several
// relay instances share the invite mailbox.
func buildStore(cfg *appcfg.AppConfig) (mailbox.Store, error) {
	if cfg.RedisURL == "" {
		obslog.L().Info("using in-memory invite store")
		return mailbox.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	obslog.L().Info("using redis invite store", zap.String("addr", opts.Addr))
	return mailbox.NewRedisStore(rdb), nil
}
