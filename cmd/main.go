package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kapbl/chatgate/auth"
	"github.com/kapbl/chatgate/broker"
	"github.com/kapbl/chatgate/chat"
	"github.com/kapbl/chatgate/config"
	"github.com/kapbl/chatgate/database"
	"github.com/kapbl/chatgate/handles"
	"github.com/kapbl/chatgate/metrics"
	"github.com/kapbl/chatgate/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer func() {
		log.Info().Msg("closing database")
		_ = database.Close(db)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := broker.NewHub(log, m.DeliveryDropped)
	var publisher broker.Publisher = hub
	rdb, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		relay := broker.NewRedisRelay(rdb, hub, broker.DefaultRedisPrefix, log)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("redis relay: %w", err)
		}
		publisher = relay
		log.Info().Str("addr", cfg.RedisAddr).Msg("fan-out relayed through redis")
	}

	users := database.NewUserStore(db)
	channels := database.NewChannelStore(db)
	messages := database.NewMessageStore(db)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, users)
	h := handles.New(handles.Deps{
		Accounts:    auth.NewAccounts(users, tokens),
		Verifier:    tokens,
		Gate:        auth.NewGate(tokens, m, log),
		Channels:    chat.NewChannelService(channels, messages, log),
		History:     chat.NewHistory(channels, messages, users),
		Router:      chat.NewRouter(channels, messages, users, publisher, m, log),
		Presence:    chat.NewPresence(publisher, log),
		Hub:         hub,
		Connections: m,
		Health:      healthCheck(db),
		Session: handles.SessionConfig{
			SendBuffer:  cfg.WSSendBuffer,
			ReadLimit:   cfg.WSReadLimit,
			PongWait:    cfg.WSPongWait,
			AuthTimeout: cfg.WSAuthTimeout,
		},
		Log: log,
	})
	server := router.New(h, registry, log)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func healthCheck(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}
}
