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

	"go.uber.org/zap"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/bridge"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/config"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/httpserver"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/logger"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/realtime"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/store"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/tools"
)

func main() {
	// Bootstrap logger so config warnings are visible; replaced once LOG_LEVEL is known.
	_ = logger.Init("info", false)
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel, cfg.LogDev); err != nil {
		logger.Fatal("logger init failed", zap.Error(err))
	}
	defer logger.Sync()

	st, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	reg := tools.NewRegistry(cfg.ToolTimeout)
	knowledge := tools.NewKnowledgeClient(cfg.KnowledgeURL, cfg.KnowledgeAPIKey, cfg.KnowledgeSessionID, cfg.KnowledgeUser)
	if err := reg.Register(tools.KnowledgeTool(knowledge)); err != nil {
		logger.Fatal("tool registration failed", zap.Error(err))
	}

	mgr := bridge.NewManager(st, reg, bridge.Options{
		Upstream: realtime.DialConfig{
			URL:              cfg.RealtimeURL,
			AuthMode:         cfg.RealtimeAuthMode,
			APIKey:           cfg.RealtimeAPIKey,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		APIKeyName:        cfg.RealtimeAPIKeyName,
		Voice:             cfg.Voice,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
		Temperature:       cfg.Temperature,
		ConnectTimeout:    cfg.ConnectTimeout,
		SetupTimeout:      cfg.SetupTimeout,
		SettleDelay:       cfg.SettleDelay,
		WriteTimeout:      cfg.WriteTimeout,
	})

	srv := httpserver.New(httpserver.Options{
		PublicBaseURL:   cfg.PublicBaseURL,
		TwilioAuthToken: cfg.TwilioAuthToken,
		Greeting:        cfg.Greeting,
	}, mgr)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddress))
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	mgr.Close()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "supabase":
		s, err := store.NewSupabaseStore(store.SupabaseConfig{URL: cfg.SupabaseURL, ServiceRoleKey: cfg.SupabaseServiceRoleKey})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
		defer cancel()
		s, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
