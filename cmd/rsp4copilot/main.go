package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ChamsBouzaiene/rsp4copilot/internal/config"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/gateway"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/server"
	"github.com/ChamsBouzaiene/rsp4copilot/internal/session"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration unusable")
	}
	config.SetupLogging(cfg)
	if err := cfg.ValidateUpstreams(); err != nil {
		log.Fatal().Err(err).Msg("configuration unusable")
	}

	ctx := context.Background()
	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("session backend unavailable")
	}

	gw := gateway.New(cfg, store)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(cfg, gw).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// buildStore selects the session backend. Stateless mode and backend
// failures both leave the gateway running without cross-turn state.
func buildStore(ctx context.Context, cfg *config.Config) (*session.Store, error) {
	if cfg.StatelessMode() {
		log.Info().Msg("session persistence disabled")
		return nil, nil
	}

	var kv session.KV
	var err error
	switch cfg.SessionBackend {
	case "", "memory":
		kv = session.NewMemoryKV()
	case "redis":
		kv, err = session.NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "sqlite":
		kv, err = session.NewSQLiteKV(ctx, cfg.SQLitePath)
	default:
		log.Warn().Str("backend", cfg.SessionBackend).Msg("unknown session backend, using memory")
		kv = session.NewMemoryKV()
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("backend", cfg.SessionBackend).Msg("session store ready")
	return session.NewStore(kv, cfg.SessionTTL), nil
}
