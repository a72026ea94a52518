// Package worker runs chunk transfers on a bounded pool of goroutines.
package worker

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/status"
)

// Handler transfers one chunk. Its error decides whether the chunk is retried.
type Handler func(ctx context.Context, c *chunk.Chunk) error

// Observer receives chunk outcomes. Callbacks run on worker goroutines and
// finish before the outcome counts toward Run's result.
type Observer struct {
	ChunkDone   func(c *chunk.Chunk)
	ChunkRetry  func(c *chunk.Chunk, err error)
	ChunkFailed func(c *chunk.Chunk, err error)
}

// Config holds pool settings. Zero Workers means one per CPU.
type Config struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	// Limiter caps chunk operations across every pool sharing it.
	Limiter *semaphore.Weighted
}

type Pool struct {
	workers    int
	maxRetries int
	retryDelay time.Duration
	limiter    *semaphore.Weighted
}

func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &Pool{
		workers:    workers,
		maxRetries: maxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    cfg.Limiter,
	}
}

func (p *Pool) Workers() int {
	return p.workers
}

type run struct {
	pool    *Pool
	handle  Handler
	obs     Observer
	queue   chan *chunk.Chunk
	cancel  context.CancelFunc
	drained chan struct{}
	once    sync.Once

	remaining atomic.Int64

	failOnce sync.Once
	failure  error
}

// Run transfers every Pending chunk and returns once no chunk is in flight.
//
// It returns nil when all of them completed, a *errors.ChunkTransferError
// for the first chunk that exhausted its attempts, or ctx's error when ctx
// was canceled first. Chunks that were never claimed stay Pending. A chunk
// already in flight when Run stops runs to completion on a context that
// ignores the cancellation.
func (p *Pool) Run(ctx context.Context, chunks []*chunk.Chunk, handle Handler, obs Observer) error {
	var pending []*chunk.Chunk

	for _, c := range chunks {
		if c.Status() == status.Pending {
			pending = append(pending, c)
		}
	}

	if len(pending) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		pool:    p,
		handle:  handle,
		obs:     obs,
		queue:   make(chan *chunk.Chunk, len(pending)),
		cancel:  cancel,
		drained: make(chan struct{}),
	}
	r.remaining.Store(int64(len(pending)))

	for _, c := range pending {
		r.queue <- c
	}

	var g errgroup.Group

	for range min(p.workers, len(pending)) {
		g.Go(func() error {
			r.work(runCtx)
			return nil
		})
	}

	_ = g.Wait()

	if r.failure != nil {
		return r.failure
	}

	if r.remaining.Load() == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return context.Canceled
}

func (r *run) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.drained:
			return
		case c := <-r.queue:
			r.process(ctx, c)
		}
	}
}

func (r *run) process(ctx context.Context, c *chunk.Chunk) {
	if ctx.Err() != nil {
		return
	}

	release, ok := r.acquire(ctx)
	if !ok {
		return
	}

	if !c.Claim() {
		release()
		logger.Debugf("Chunk %s already claimed, skipping", c)
		r.finish()

		return
	}

	err := r.handle(context.WithoutCancel(ctx), c)
	release()

	if err == nil {
		c.SetError(nil)
		c.Complete()

		if r.obs.ChunkDone != nil {
			r.obs.ChunkDone(c)
		}

		r.finish()

		return
	}

	attempts := c.AddAttempt()
	c.SetError(err)

	if errors.IsRetryable(err) && attempts < r.pool.maxRetries {
		c.SetStatus(status.Pending)

		if r.obs.ChunkRetry != nil {
			r.obs.ChunkRetry(c, err)
		}

		backoff := calculateBackoff(attempts-1, r.pool.retryDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			logger.Debugf("Retrying chunk %s, attempt %d", c, attempts+1)
		}

		r.queue <- c

		return
	}

	c.SetStatus(status.Failed)
	logger.Errorf("Chunk %s failed after %d attempts: %v", c, attempts, err)

	if r.obs.ChunkFailed != nil {
		r.obs.ChunkFailed(c, err)
	}

	r.failOnce.Do(func() {
		r.failure = &errors.ChunkTransferError{
			Path:     c.Path,
			Index:    c.Index,
			Attempts: attempts,
			Err:      err,
		}
	})

	r.cancel()
}

// acquire takes a slot of the shared limiter, if any. The slot covers one
// handler call, not the backoff after it.
func (r *run) acquire(ctx context.Context) (release func(), ok bool) {
	if r.pool.limiter == nil {
		return func() {}, true
	}

	if err := r.pool.limiter.Acquire(ctx, 1); err != nil {
		return nil, false
	}

	return func() { r.pool.limiter.Release(1) }, true
}

func (r *run) finish() {
	if r.remaining.Add(-1) == 0 {
		r.once.Do(func() { close(r.drained) })
	}
}

// calculateBackoff returns an exponential delay with +/-10% jitter, capped
// at two minutes.
func calculateBackoff(retryCount int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << uint(retryCount))

	jitter := time.Duration(rand.Float64() * float64(delay) * 0.2)
	finalDelay := delay + jitter - (time.Duration(float64(delay) * 0.1))

	maxDelay := 2 * time.Minute
	if finalDelay > maxDelay || finalDelay < 0 {
		finalDelay = maxDelay
	}

	return finalDelay
}
