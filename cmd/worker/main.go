package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/cardvault/image-worker/internal/catalog"
	"github.com/cardvault/image-worker/internal/config"
	"github.com/cardvault/image-worker/internal/database"
	"github.com/cardvault/image-worker/internal/derivative"
	"github.com/cardvault/image-worker/internal/imagefetch"
	"github.com/cardvault/image-worker/internal/jobqueue"
	"github.com/cardvault/image-worker/internal/logger"
	"github.com/cardvault/image-worker/internal/pipeline"
	"github.com/cardvault/image-worker/internal/ratelimit"
	"github.com/cardvault/image-worker/internal/storage"
	"github.com/cardvault/image-worker/internal/vision"
)

// worker claims rows from image_ingest_jobs and runs them through the
// pipeline orchestrator. It has no HTTP surface of its own; the API
// server and this process share the same Postgres catalog.
func main() {
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	log := logger.Init("image-worker", cfg.Env, logger.ParseLevelFromEnv())

	govips.Startup(nil)
	defer govips.Shutdown()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to postgres")

	uploader, err := storage.NewUploader(storage.Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Error("failed to build storage uploader", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.RateLimitBucketIdle, cfg.RateLimitSweepInterval)
	defer limiter.Close()

	orchestrator := pipeline.New(pipeline.Dependencies{
		Catalog:     catalog.NewPostgres(db, log),
		RateLimiter: limiter,
		Fetcher:     imagefetch.New(cfg.FetchTimeout),
		Vision:      vision.New(cfg.OpenRouterAPIKey, log),
		Derivatives: derivative.New(cfg.Derivatives),
		Uploader:    uploader,
		MaxPixels:   cfg.MaxImagePixels,
		Logger:      log,
	})

	queue := jobqueue.New(db, cfg.MaxJobAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, draining in-flight jobs")
		cancel()
	}()

	w := &pool{
		queue:        queue,
		orchestrator: orchestrator,
		logger:       log,
		pollInterval: cfg.PollInterval,
	}
	w.run(ctx, cfg.WorkerCount)

	log.Info("image-worker stopped")
}

// pool runs a fixed number of poller goroutines, each independently
// claiming and processing one job at a time. Unlike a channel-fed worker
// pool, pollers don't share a queue in memory: the image_ingest_jobs
// table's atomic claim update is what keeps them from double-processing
// the same row.
type pool struct {
	queue        *jobqueue.Queue
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
	pollInterval time.Duration
}

func (p *pool) run(ctx context.Context, workerCount int) {
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.poll(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *pool) poll(ctx context.Context, id int) {
	l := p.logger.With("worker_id", id)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, ok, err := p.queue.ClaimNext(ctx)
		if err != nil {
			l.Error("claim next job failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		p.process(ctx, l, job)
	}
}

func (p *pool) process(ctx context.Context, l *slog.Logger, job *jobqueue.Job) {
	// A claimed job runs to completion even after shutdown is signalled, so
	// in-flight jobs are drained rather than aborted mid-stage.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	l.Info("processing job", "job_id", job.ID, "card_id", job.CardID)

	result := p.orchestrator.ProcessImage(ctx, job.ImageJob())

	switch result.Status {
	case pipeline.StatusRateLimited:
		// Rate limiting isn't the job's fault; requeue it without
		// spending a retry attempt.
		if err := p.queue.Requeue(ctx, job.ID, result.Error); err != nil {
			l.Error("failed to requeue rate-limited job", "job_id", job.ID, "error", err)
		}
	case pipeline.StatusFailed:
		if err := p.queue.MarkFailed(ctx, job.ID, job.Attempts, result.Error); err != nil {
			l.Error("failed to record job failure", "job_id", job.ID, "error", err)
		}
		l.Warn("job failed", "job_id", job.ID, "error", result.Error, "took", time.Since(start))
	default:
		if err := p.queue.MarkSucceeded(ctx, job.ID, string(result.Status)); err != nil {
			l.Error("failed to mark job done", "job_id", job.ID, "error", err)
		}
		l.Info("job finished", "job_id", job.ID, "status", result.Status, "image_id", result.ImageID, "took", time.Since(start))
	}
}
