// Package main запускает HTTP-сервер сервиса вознаграждений за просмотр рекламы.
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
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/adrewards/internal/cache"
	"github.com/mmeshcher/adrewards/internal/catalog"
	"github.com/mmeshcher/adrewards/internal/config"
	"github.com/mmeshcher/adrewards/internal/events"
	"github.com/mmeshcher/adrewards/internal/handler"
	"github.com/mmeshcher/adrewards/internal/middleware"
	"github.com/mmeshcher/adrewards/internal/model"
	"github.com/mmeshcher/adrewards/internal/repository"
	"github.com/mmeshcher/adrewards/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository(repository.DefaultAdvertisements()...)
	}

	var catalogClient *catalog.Client
	if cfg.CatalogAddress != "" {
		catalogClient = catalog.NewClient(cfg.CatalogAddress)
	}

	var opts []service.Option

	if cfg.RedisAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.Connect(ctx, cfg.RedisAddress)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		cooldowns := cache.NewCooldownCache(client)
		defer cooldowns.Close()
		opts = append(opts, service.WithCooldownCache(cooldowns))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, nil)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		opts = append(opts, service.WithPublisher(publisher))
	}

	svc := service.NewService(repo, catalogClient, logger, opts...)
	defer svc.Close()

	if cfg.AdminLogin != "" {
		if err := svc.BootstrapAdmin(context.Background(), cfg.AdminLogin); err != nil {
			if !errors.Is(err, model.ErrAccountNotFound) {
				sugar.Fatalw("admin bootstrap error", "error", err.Error())
			}
			sugar.Warnw("admin account is not registered yet", "login", cfg.AdminLogin)
		}
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.SecretKey)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartCatalogSync(ctx, cfg.CatalogSyncInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting adrewards server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
