// Command totem runs the fan-photo kiosk backend: the kiosk flow API, the
// dashboard and the background sweeper.
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

	"github.com/supercopa/totem/internal/analytics"
	"github.com/supercopa/totem/internal/auth"
	"github.com/supercopa/totem/internal/catalog"
	"github.com/supercopa/totem/internal/config"
	"github.com/supercopa/totem/internal/flow"
	"github.com/supercopa/totem/internal/generation"
	"github.com/supercopa/totem/internal/httpapi"
	"github.com/supercopa/totem/internal/kiosk"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/metrics"
	"github.com/supercopa/totem/internal/middleware"
	"github.com/supercopa/totem/internal/records"
	"github.com/supercopa/totem/internal/retry"
	"github.com/supercopa/totem/internal/sweeper"
	"github.com/supercopa/totem/internal/webhook"
	"github.com/supercopa/totem/supabase/client"
)

var realtimeTables = []string{records.TableSessions, records.TableGeneratedImages, records.TableShares}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("totem", cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Totem stopped with error")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("totem")

	var sb *client.Client
	if cfg.SupabaseConfigured() {
		resilience := client.DefaultResilientClientConfig()
		c, err := client.New(client.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseAnonKey, Resilience: &resilience})
		if err != nil {
			return fmt.Errorf("supabase client: %w", err)
		}
		sb = c
	}

	store, closeStore, err := openRecords(ctx, cfg, sb, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	states, readiness, closeStates, err := openFlowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStates()

	gemini := generation.NewGeminiClient(generation.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if !gemini.Configured() {
		logger.Warn("GEMINI_API_KEY is not set, generation will fail")
	}
	generator := generation.NewService(gemini, retry.Policy{
		MaxAttempts: cfg.GenerationMaxAttempts,
		BaseDelay:   cfg.GenerationBaseDelay,
		Multiplier:  2,
	})

	hook := webhook.New(cfg.WebhookURL, nil)
	if !hook.Configured() {
		logger.Warn("N8N_WEBHOOK_URL is not set, shares will be recorded without delivery")
	}

	cat := catalog.Default()
	svc := kiosk.NewService(kiosk.Deps{
		States:    states,
		Records:   store,
		Generator: generator,
		Notifier:  hook,
		Catalog:   cat,
		Metrics:   m,
		Logger:    logger,
	}, kiosk.Options{
		DefaultImageSize: catalog.ImageSize(cfg.GenerationImageSize),
		StateTTL:         cfg.StateTTL,
	})

	dash := analytics.NewService(store, cat, logger)
	live := httpapi.NewLiveFeed(dash, cfg.DashboardRefresh, cfg.CORSOrigins, logger)
	if sb != nil {
		rt := client.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err := subscribeRealtime(ctx, rt, live); err != nil {
			logger.WithError(err).Warn("Realtime unavailable, dashboard refreshes on its timer only")
		} else {
			defer rt.Close()
		}
	}

	var (
		users    middleware.UserLookup
		provider auth.Provider
	)
	if sb != nil {
		users = sb.Auth()
		provider = sb.Auth()
	}
	authMW := middleware.NewAuthMiddleware([]byte(cfg.SupabaseJWTSecret), users, logger, nil)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)

	diag := &httpapi.Diagnostics{
		Database:   store.Ping,
		Webhook:    hook,
		Model:      gemini,
		Configured: configuredKeys(cfg),
	}
	if checker, ok := store.(records.StorageChecker); ok {
		diag.Storage = checker.CheckStorage
	}

	handler := httpapi.NewRouter(httpapi.Config{
		Kiosk:          svc,
		Analytics:      dash,
		Live:           live,
		Auth:           auth.NewHandler(provider, logger),
		AuthMiddleware: authMW,
		RateLimiter:    limiter,
		CORSOrigins:    cfg.CORSOrigins,
		Diagnostics:    diag,
		Readiness:      readiness,
		Metrics:        m,
		Logger:         logger,
	})

	sweep, err := sweeper.NewDefault(svc, limiter, logger)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	sweep.Start()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Generation blocks the request for up to the generation timeout.
		WriteTimeout: 4 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).WithField("store", cfg.Store).Info("Totem listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown error")
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Sweeper stop error")
	}
	logger.Info("Totem stopped")
	return nil
}

// openRecords builds the configured record store. Supabase mode without a
// configured project falls back to memory; the kiosk works without records.
func openRecords(ctx context.Context, cfg *config.Config, sb *client.Client, logger *logging.Logger) (records.Store, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case config.StorePostgres:
		db, err := records.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := records.Migrate(db.DB); err != nil {
			db.Close()
			return nil, nil, err
		}
		var bucket records.Bucket
		if sb != nil {
			bucket = records.NewSupabaseBucket(sb, records.BucketName)
		}
		store := records.NewPostgresStore(db, bucket)
		return store, func() { _ = store.Close() }, nil

	case config.StoreSupabase:
		if sb != nil {
			return records.NewSupabaseStore(sb), noop, nil
		}
		logger.Warn("Supabase is not configured, records are kept in memory")
	}
	return records.NewMemoryStore(records.NewMemoryBucket()), noop, nil
}

// openFlowStore uses Redis when REDIS_URL is set so several kiosk replicas
// share session state.
func openFlowStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (flow.Store, []httpapi.Check, func(), error) {
	if cfg.RedisURL == "" {
		return flow.NewMemoryStore(), nil, func() {}, nil
	}
	rs, err := flow.NewRedisStore(ctx, cfg.RedisURL, cfg.StateTTL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("flow store: %w", err)
	}
	logger.Info("Flow state stored in Redis")
	checks := []httpapi.Check{{Name: "flow_store", Fn: rs.Ping}}
	return rs, checks, func() { _ = rs.Close() }, nil
}

func subscribeRealtime(ctx context.Context, rt *client.RealtimeClient, live *httpapi.LiveFeed) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rt.Connect(connectCtx); err != nil {
		return err
	}
	for _, table := range realtimeTables {
		if err := rt.SubscribeTable(table, live.HandleChange); err != nil {
			_ = rt.Close()
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
	}
	return nil
}

func configuredKeys(cfg *config.Config) map[string]bool {
	keys := []string{
		config.KeySupabaseURL, config.KeySupabaseAnonKey, config.KeySupabaseJWTSecret,
		config.KeyGeminiAPIKey, config.KeyWebhookURL, config.KeyDatabaseURL, config.KeyRedisURL,
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = cfg.Has(k)
	}
	return out
}
