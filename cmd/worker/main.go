package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/assemble"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/config"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/lock"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/overlay"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/shutdown"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/publish"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/render"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/repositories"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/segment"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/storage"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/subtitle"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/videohost"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/worker"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/worker/processor"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/worker/queue"
)

// closeReserve is the shutdown time left for abandoning renders and closing
// pools after the drain window.
const closeReserve = time.Minute

func main() {
	_ = godotenv.Load()

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "menews-worker"
	log := logger.New(logCfg)

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.DrainTimeout+closeReserve)

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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case "postgres":
		locker = lock.NewPGLocker(pool)
	case "redis":
		locker = lock.NewRedisLocker(rdb, "menews:render-lock:", lock.DefaultRedisTTL)
	default:
		locker = lock.NewMemoryLocker()
	}
	log.Info("render lock backend", "backend", cfg.LockBackend)

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	host, err := videohost.New(ctx, cfg.VideoHost, log)
	if err != nil {
		log.LogFatal("failed to initialize video host", err)
	}
	if host != nil {
		log.Info("publishing enabled", "host", host.Name())
	}

	orch, err := newOrchestrator(cfg, sp, host, log)
	if err != nil {
		log.LogFatal("failed to build render pipeline", err)
	}

	p := processor.New(processor.Deps{
		Store:       store,
		Locker:      locker,
		Renderer:    orch,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
		Log:         log,
	})

	runCtx, stop := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		err := worker.Run(runCtx, worker.Deps{
			Queue:       queue.NewRedisQueue(rdb, cfg.RenderQueue),
			Handler:     p,
			Sweeper:     store,
			StaleAfter:  cfg.StaleAfter,
			Concurrency: cfg.WorkerConcurrency,
			Log:         log,
		})
		if err != nil && runCtx.Err() == nil {
			log.LogFatal("worker stopped unexpectedly", err)
		}
	}()

	// Registered last so it runs first: drain renders before pools close.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		stop()
		drain := time.NewTimer(cfg.DrainTimeout)
		defer drain.Stop()
		select {
		case <-stopped:
			return nil
		case <-drain.C:
		case <-ctx.Done():
		}
		n := p.Abandon(ctx, "worker shut down before the render finished")
		log.Warn("drain timeout reached, abandoned in-flight renders", "count", n, "drain_timeout", cfg.DrainTimeout.String())
		return errors.New(errors.CodeTimeout, "render drain timed out")
	})

	shutdownMgr.Wait()
}

func newOrchestrator(cfg *config.Config, sp ports.StorageProvider, host ports.VideoHost, log *logger.Logger) (*render.Orchestrator, error) {
	prof := cfg.Profile

	runner := media.NewProcessRunner(log, prof.TranscodeTimeout, 0)
	tools := media.NewFFmpeg(runner, media.FFmpegConfig{
		FFmpegBin:        cfg.FFmpegBin,
		FFprobeBin:       cfg.FFprobeBin,
		TranscodeTimeout: prof.TranscodeTimeout,
		ProbeTimeout:     prof.ProbeTimeout,
	})

	overlays, err := overlay.NewGenerator(prof.Segment.Width, prof.Segment.Height, overlay.DefaultPalette())
	if err != nil {
		return nil, err
	}

	d := render.Deps{
		Overlays:  overlays,
		Segments:  segment.NewRenderer(tools, subtitle.NewGenerator(subtitle.DefaultStyle()), prof.Segment),
		Assembler: assemble.New(tools, prof.Segment, prof.Gains, log),
		Publisher: publish.New(host, log),
		Stager:    render.NewStager(sp, cfg.CacheDir, log),
		Assets: render.SharedAssets{
			BumperKey:     cfg.Assets.BumperKey,
			StudioLoopKey: cfg.Assets.StudioLoopKey,
			MusicBedKey:   cfg.Assets.MusicBedKey,
		},
		Brand:    cfg.Brand,
		WorkRoot: cfg.WorkRoot,
		Log:      log,
	}
	if cfg.ArchiveRenders {
		d.Archive = sp
	}
	return render.New(d), nil
}
