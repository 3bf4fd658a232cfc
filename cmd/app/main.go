package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studysprint/internal/auth"
	"studysprint/internal/chat"
	"studysprint/internal/config"
	"studysprint/internal/db"
	"studysprint/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "studysprint: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if cfg.Env == "dev" && cfg.DemoSeed {
		if err := db.RunDevSeed(ctx, pool, log); err != nil {
			log.Warn("dev seed failed", "err", err)
		}
	}

	tokens, err := auth.NewTokens(cfg.JWTPrivatePEM, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.JWTPrivatePEM) == "" {
		log.Warn("JWT_PRIVATE_PEM not set, using an ephemeral signing key")
	}

	registry := chat.NewRegistry(log)
	store := chat.NewPGStore(pool)
	router, closeRouter, err := newRouter(ctx, cfg, registry, log)
	if err != nil {
		return err
	}

	// Sessions follow sessionCtx so they can be drained before the
	// registry closes.
	sessionCtx, endSessions := context.WithCancel(context.Background())
	defer endSessions()
	srv := server.New(sessionCtx, server.Deps{
		Config:  cfg,
		Pool:    pool,
		Tokens:  tokens,
		Chat:    chat.Deps{Registry: registry, Router: router, Store: store, Log: log},
		History: store,
		Log:     log,
	})

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("StudySprint listening", "addr", httpSrv.Addr, "env", cfg.Env, "broker", cfg.Chat.Broker)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	endSessions()
	srv.Wait()
	registry.Close()
	if err := closeRouter(); err != nil {
		log.Warn("chat router close", "err", err)
	}
	log.Info("stopped")
	return nil
}

// newRouter picks the fan-out backend. The returned close func stops any
// background subscriber.
func newRouter(ctx context.Context, cfg config.Config, registry *chat.Registry, log *slog.Logger) (chat.Router, func() error, error) {
	if cfg.Chat.Broker != config.BrokerRedis {
		return chat.NewLocalRouter(registry), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.Chat.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	rr := chat.NewRedisRouter(rdb, registry, cfg.Chat.ChannelPrefix, log)
	if err := rr.Start(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rr, func() error {
		return errors.Join(rr.Close(), rdb.Close())
	}, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "studysprint")
}
