package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"privchat/internal/api"
	"privchat/internal/auth"
	"privchat/internal/chat"
	"privchat/internal/config"
	"privchat/internal/crypto"
	"privchat/internal/metrics"
	"privchat/internal/objstore"
	"privchat/internal/providers"
	"privchat/internal/providers/registry"
	"privchat/internal/ratelimit"
	"privchat/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "privchat",
		Short:         "Private chat interface API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  func(cmd *cobra.Command, _ []string) error { return migrate(cmd.Context()) },
		},
	)

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("privchat failed")
		os.Exit(1)
	}
}

func migrate(ctx context.Context) error {
	setupLogger(os.Getenv("LOG_LEVEL"), false)
	dbCfg, err := config.LoadDB()
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, dbCfg.Driver, dbCfg.DSN, false)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("driver", store.Driver()).Msg("migrations applied")
	return nil
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("app", cfg.AppName).
		Str("addr", cfg.HTTP.ListenAddr).
		Str("default_provider", cfg.Inference.DefaultProvider).
		Msg("starting privchat")

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	sealer, err := crypto.NewSealer(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		return fmt.Errorf("initialize sealer: %w", err)
	}
	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("initialize tokens: %w", err)
	}

	reg := registry.New(cfg.Inference.DefaultProvider, registry.BuildOptions{
		HostedTimeout:     cfg.Inference.HostedTimeout,
		SelfHostedTimeout: cfg.Inference.SelfHostedTimeout,
		Logger:            log.Logger,
	})
	seed, err := providerSeed(cfg.Inference)
	if err != nil {
		return err
	}
	if err := reg.Apply(seed); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}
	if err := api.ReplayProviders(ctx, store, sealer, reg, log.Logger); err != nil {
		return err
	}
	log.Info().Strs("providers", reg.Names()).Msg("inference providers ready")

	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.AppName, cfg.Rate.Requests, cfg.Rate.Window)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, rate limits are per process")
		limiter = ratelimit.NewLocalLimiter(cfg.Rate.Requests, cfg.Rate.Window)
	}

	var (
		uploader objstore.Uploader
		objects  api.Pinger
	)
	if cfg.Storage.Enabled() {
		ms, err := objstore.NewMinio(objstore.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
			Region:    cfg.Storage.Region,
			Logger:    log.Logger,
		})
		if err != nil {
			return fmt.Errorf("initialize object storage: %w", err)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("object storage bucket unavailable")
		}
		uploader, objects = ms, ms
	} else {
		log.Warn().Msg("object storage not configured, attachments are disabled")
	}

	m := metrics.Global()
	svc := chat.NewService(chat.Config{
		Store:         store,
		Inference:     reg,
		Uploader:      uploader,
		Logger:        log.Logger,
		Metrics:       m,
		Model:         cfg.Inference.DefaultModel,
		Temperature:   cfg.Inference.Temperature,
		MaxTokens:     cfg.Inference.MaxTokens,
		ContextWindow: cfg.Inference.ContextWindow,
		MaxUploadSize: cfg.Upload.MaxSize,
		AllowedTypes:  cfg.Upload.AllowedTypes,
	})

	srv := api.New(api.Config{
		Store:         store,
		Registry:      reg,
		Chat:          svc,
		Tokens:        tokens,
		Sealer:        sealer,
		Limiter:       limiter,
		Objects:       objects,
		Logger:        log.Logger,
		Metrics:       m,
		Issuer:        cfg.AppName,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		MaxUploadSize: cfg.Upload.MaxSize,
		HealthPath:    cfg.HTTP.HealthPath,
	})
	srv.Echo().GET(cfg.HTTP.MetricsPath, echo.WrapHandler(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("runtime error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	log.Info().Msg("stopped")
	return runErr
}

func providerSeed(inf config.InferenceConfig) (registry.Seed, error) {
	seed := registry.Seed{
		OpenAIAPIKey:  inf.OpenAIAPIKey,
		OpenAIBaseURL: inf.OpenAIBaseURL,
		VLLMEndpoint:  inf.VLLMEndpoint,
		VLLMModel:     inf.VLLMModel,
	}
	if inf.ProvidersFile == "" {
		return seed, nil
	}
	pf, err := config.LoadProvidersFile(inf.ProvidersFile)
	if err != nil {
		return registry.Seed{}, err
	}
	for _, d := range pf.Providers {
		seed.Declarations = append(seed.Declarations, registry.Declaration{
			Name:   d.Name,
			Type:   providers.Type(d.Type),
			Params: registry.Params(d.Params),
		})
	}
	seed.Bindings = pf.Bindings
	return seed, nil
}

func setupLogger(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
