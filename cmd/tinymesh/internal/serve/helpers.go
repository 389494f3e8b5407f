package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal"
	"github.com/tinymesh-ai/tinymesh/pkg/config"
	"github.com/tinymesh-ai/tinymesh/pkg/gateway"
	"github.com/tinymesh-ai/tinymesh/pkg/guard"
	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
	"github.com/tinymesh-ai/tinymesh/pkg/router"
	"github.com/tinymesh-ai/tinymesh/pkg/rpc"
	"github.com/tinymesh-ai/tinymesh/pkg/store"
)

func serveCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !debug {
		applyLogLevel(cfg.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, messages, closeStore, err := buildStores(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("error initializing store: %w", err)
	}
	defer closeStore()

	meshGuard := guard.New()
	rules := guardRules(cfg.Guard)

	cleanupInterval := time.Duration(cfg.Guard.CleanupIntervalSeconds) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	stopCleanup := make(chan struct{})
	go meshGuard.Run(cleanupInterval, stopCleanup)

	registry := presence.NewRegistry(presence.Options{
		SweepInterval:  time.Duration(cfg.Presence.SweepIntervalSeconds) * time.Second,
		StaleThreshold: time.Duration(cfg.Presence.StaleThresholdSeconds) * time.Second,
	})
	registry.Start()

	meshRouter := router.New(registry, meshGuard, rules, sessions, messages)
	dispatcher := rpc.NewDispatcher(meshRouter, rpc.ServerInfo{
		Name:    "tinymesh",
		Version: internal.GetVersion(),
	})

	server := gateway.NewServer(cfg.Gateway, registry, dispatcher, sessions)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "Gateway server error", map[string]any{"error": err.Error()})
		}
	}()

	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("✓ Agents connect at ws://%s:%d/ws\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("✓ Health endpoints available at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)
	registry.Stop()
	close(stopCleanup)
	fmt.Println("✓ Gateway stopped")

	return nil
}

// buildStores selects the durable backend. Redis when an address is
// configured, otherwise a single in-memory store serves both interfaces.
func buildStores(ctx context.Context, cfg config.StoreConfig) (store.SessionStore, store.MessageStore, func(), error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}

	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.InfoCF("store", "Using Redis store", map[string]any{"addr": cfg.RedisAddr})
		return rdb, rdb, func() { rdb.Close() }, nil
	}

	mem := store.NewMemory(ttl)
	logger.InfoC("store", "Using in-memory store")
	return mem, mem, func() {}, nil
}

func guardRules(cfg config.GuardConfig) guard.Rules {
	rules := guard.DefaultRules()
	if cfg.MaxResponsesPerHour > 0 {
		rules.MaxResponsesPerHour = cfg.MaxResponsesPerHour
	}
	if cfg.CooldownSeconds > 0 {
		rules.CooldownSeconds = cfg.CooldownSeconds
	}
	if cfg.DuplicateContentThreshold > 0 {
		rules.DuplicateContentThreshold = cfg.DuplicateContentThreshold
	}
	return rules
}

func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
}
