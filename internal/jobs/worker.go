package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	repojobs "github.com/assetforge/assetforge-backend/internal/data/repos/jobs"
	types "github.com/assetforge/assetforge-backend/internal/domain"
	"github.com/assetforge/assetforge-backend/internal/pkg/backoff"
	"github.com/assetforge/assetforge-backend/internal/platform/dbctx"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	JobTimeout   time.Duration
	MaxAttempts  int
	Backoff      backoff.Policy
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  4,
		PollInterval: time.Second,
		Lease:        2 * time.Minute,
		JobTimeout:   90 * time.Second,
		MaxAttempts:  5,
		Backoff:      backoff.Default,
	}
}

// Worker pulls leased jobs for every registered kind. There is no global
// lock; safety comes from the lease claim and the per-asset compare-and-set
// transitions inside the handlers.
type Worker struct {
	log      *logger.Logger
	repo     repojobs.JobRepo
	registry *Registry
	cfg      WorkerConfig
}

func NewWorker(baseLog *logger.Logger, repo repojobs.JobRepo, registry *Registry, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		cfg:      cfg,
	}
}

// Start launches the worker goroutines and returns immediately. The pool
// drains when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range w.registry.Kinds() {
		for i := 0; i < w.cfg.Concurrency; i++ {
			kind := kind
			g.Go(func() error {
				w.pollLoop(gctx, kind)
				return nil
			})
		}
	}
	go func() {
		_ = g.Wait()
		w.log.Info("Job worker pool stopped")
	}()
}

func (w *Worker) pollLoop(ctx context.Context, kind string) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, kind, w.cfg.Lease)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "error", err, "kind", kind)
				continue
			}
			if job == nil {
				continue
			}
			w.runOne(ctx, job)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, job *types.Job) {
	h, ok := w.registry.Get(job.Kind)
	if !ok {
		w.log.Warn("No handler registered for job kind", "kind", job.Kind, "job_id", job.ID)
		w.fail(ctx, nil, job, Permanent(fmt.Errorf("no handler for kind %q", job.Kind)))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	var runErr error
	func() {
		// A panicking handler must not take the pool down; it is reported as
		// a transient failure and retried.
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "kind", job.Kind, "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = h.Run(jobCtx, job)
	}()

	if runErr == nil {
		if err := w.repo.Complete(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
			w.log.Warn("Failed to mark job complete", "error", err, "job_id", job.ID)
		}
		return
	}
	w.fail(ctx, h, job, runErr)
}

func (w *Worker) fail(ctx context.Context, h Handler, job *types.Job, runErr error) {
	dead, err := w.repo.Fail(dbctx.Context{Ctx: ctx}, job, IsPermanent(runErr), w.cfg.MaxAttempts, w.cfg.Backoff, runErr.Error())
	if err != nil {
		w.log.Warn("Failed to record job failure", "error", err, "job_id", job.ID)
		return
	}
	if dead {
		w.log.Error("Job exhausted retries",
			"job_id", job.ID,
			"kind", job.Kind,
			"asset_id", job.AssetID,
			"attempts", job.Attempts,
			"last_error", runErr.Error(),
		)
		if h != nil {
			h.OnExhausted(ctx, job)
		}
		return
	}
	w.log.Warn("Job failed, scheduled for retry",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempts", job.Attempts,
		"error", runErr.Error(),
	)
}
