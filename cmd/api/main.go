package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/config"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpapi"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/shutdown"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/repositories"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/storage"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/worker/queue"
)

func main() {
	_ = godotenv.Load()

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "menews-api"
	log := logger.New(logCfg)

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	log.Info("opening bulletin store", "postgres", cfg.DatabaseURL != "")
	store, pool, err := repositories.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, log)
	if err != nil {
		log.LogFatal("failed to open bulletin store", err)
	}
	shutdownMgr.Register("store", func(ctx context.Context) error {
		err := store.Close()
		if pool != nil {
			pool.Close()
		}
		return err
	})

	log.Info("connecting to Redis", "addr", cfg.RedisAddr)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	router := httpapi.NewRouter(httpapi.Deps{
		Store: store,
		Queue: queue.NewRedisQueue(rdb, cfg.RenderQueue),
		SP:    sp,
		Log:   log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
