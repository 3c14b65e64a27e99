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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"taskboard/api/internal/app"
	"taskboard/api/internal/config"
	"taskboard/api/internal/gateway"
	"taskboard/api/internal/presence"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/telemetry"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if err := run(logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("taskboard api stopped")
	}
}

func run(logger *logrus.Logger) error {
	cfg := config.Load()

	flags := pflag.NewFlagSet("taskboard-api", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "storage driver: postgres or memory")
	flags.StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "directory holding *.up.sql migrations")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := telemetry.NewProvider(logger)

	dataStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	broadcaster := realtime.NewBroadcaster(logger)
	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		sessions = session.NewRedisStoreWithClient(rc)
		broadcaster.SetRelay(realtime.NewRedisRelay(rc, cfg.EventsChannel, uuid.NewString(), logger))
		go func() {
			if err := broadcaster.RunRelay(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("event relay stopped")
			}
		}()
		logger.WithField("channel", cfg.EventsChannel).Info("using redis for refresh tokens and event relay")
	} else {
		sessions = session.NewMemoryStore()
		logger.Info("using in-memory refresh tokens, events stay on this instance")
	}

	var searchService *search.Service
	fallback := search.NewStoreSearcher(dataStore)
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, fallback, logger)
		if _, err := searchService.Reindex(ctx, dataStore); err != nil {
			logger.WithError(err).Warn("search reindex failed")
		}
	} else {
		searchService = search.NewService(nil, fallback, logger)
	}

	service := app.New(cfg, dataStore, broadcaster, sessions, searchService, logger)
	hub := gateway.NewHub(presence.NewRegistry(), broadcaster, logger)
	ws := gateway.NewHandler(hub, socketAuth(service), cfg.CORSOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, ws, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.StoreDriver}).Info("taskboard api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown error")
	}
	return nil
}

// socketAuth resolves a WebSocket access token to the identity the gateway tracks.
func socketAuth(service *app.Service) gateway.AuthFunc {
	return func(ctx context.Context, token string) (gateway.Identity, error) {
		session, err := service.SessionFromToken(ctx, token)
		if err != nil {
			return gateway.Identity{}, err
		}
		return gateway.Identity{UserID: session.UserID, Username: session.Username}, nil
	}
}

// openStore returns the configured store and a func releasing its resources.
func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	case config.DriverPostgres:
		openCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		db, err := store.Open(openCtx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
