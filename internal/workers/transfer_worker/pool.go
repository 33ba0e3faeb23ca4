// Package transfer_worker runs payment advancement jobs on a bounded, supervised pool.
package transfer_worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/infrastructure/cache"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/metrics"
)

var (
	// ErrQueueFull is returned when the job queue has no free slot
	ErrQueueFull = apperrors.NewDomainError(apperrors.ErrServiceUnavailable, "QUEUE_FULL", "transfer queue is full, retry later").WithRetryable(true)
	// ErrPoolClosed is returned after Shutdown
	ErrPoolClosed = apperrors.NewDomainError(apperrors.ErrServiceUnavailable, "POOL_CLOSED", "transfer pool is shutting down")
	// ErrJobInFlight is returned when the payment already has a queued or running job or a claim
	ErrJobInFlight = apperrors.ErrTransferInProgress
)

// Config holds configuration for the transfer pool
type Config struct {
	WorkerCount int
	QueueSize   int
	// JobTimeout bounds a single job, including every wait inside it
	JobTimeout time.Duration
	// LockTTL is the distributed lock lifetime, defaulting to JobTimeout
	LockTTL time.Duration
}

// DefaultConfig returns default configuration. JobTimeout covers the default
// receipt and attestation waits plus a minute of slack.
func DefaultConfig() Config {
	return Config{
		WorkerCount: 10,
		QueueSize:   1000,
		JobTimeout:  (120 + 300 + 60) * time.Second,
	}
}

type job struct {
	paymentID string
	run       func(ctx context.Context) error
}

// Pool executes submitted jobs on a fixed number of workers
type Pool struct {
	config Config
	queue  chan job
	locker cache.Locker
	logger *logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	started  bool

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	jobCtx         context.Context
	jobCancel      context.CancelFunc
}

// NewPool creates a pool. locker may be nil, in which case de-duplication is process-local.
func NewPool(config Config, locker cache.Locker, log *logger.Logger) *Pool {
	defaults := DefaultConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = config.JobTimeout
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())

	return &Pool{
		config:         config,
		queue:          make(chan job, config.QueueSize),
		locker:         locker,
		logger:         log,
		inFlight:       make(map[string]struct{}),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		jobCtx:         jobCtx,
		jobCancel:      jobCancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.logger.Info("Starting transfer worker pool",
		"worker_count", p.config.WorkerCount,
		"queue_size", p.config.QueueSize,
		"job_timeout", p.config.JobTimeout)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues run for paymentID without blocking
func (p *Pool) Submit(paymentID string, run func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, busy := p.inFlight[paymentID]; busy {
		return ErrJobInFlight
	}

	select {
	case p.queue <- job{paymentID: paymentID, run: run}:
		p.inFlight[paymentID] = struct{}{}
		metrics.TransferQueueDepth.Inc()
		return nil
	default:
		metrics.TransferJobsTotal.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}
}

// InFlight reports whether paymentID has a queued or running job or is claimed
func (p *Pool) InFlight(paymentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[paymentID]
	return ok
}

// Claim reserves paymentID for a synchronous operation. While the claim is
// held, Submit and other claims for the same payment fail with ErrJobInFlight.
// The returned release is safe to call more than once.
func (p *Pool) Claim(ctx context.Context, paymentID string) (func(), error) {
	p.mu.Lock()
	if _, busy := p.inFlight[paymentID]; busy {
		p.mu.Unlock()
		return nil, ErrJobInFlight
	}
	p.inFlight[paymentID] = struct{}{}
	p.mu.Unlock()

	unmark := func() {
		p.mu.Lock()
		delete(p.inFlight, paymentID)
		p.mu.Unlock()
	}

	unlock := func() {}
	if p.locker != nil {
		release, ok, err := p.locker.Acquire(ctx, paymentID, p.config.LockTTL)
		if err != nil {
			unmark()
			return nil, apperrors.ServiceUnavailableError("transfer lock", err)
		}
		if !ok {
			unmark()
			return nil, ErrJobInFlight
		}
		unlock = release
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			unmark()
		})
	}, nil
}

// Shutdown stops intake and waits for running jobs. Jobs still queued are
// dropped; their payments stay non-terminal until the stale monitor sees them.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.logger.Info("Shutting down transfer worker pool", "timeout", timeout)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.shutdownCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.jobCancel()
		p.logger.Info("Transfer worker pool shutdown complete")
		return nil
	case <-time.After(timeout):
		p.jobCancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	for {
		// shutdown takes priority over queued work
		select {
		case <-p.shutdownCtx.Done():
			p.logger.Debug("Transfer worker stopping", "worker_id", workerID)
			return
		default:
		}

		select {
		case <-p.shutdownCtx.Done():
			p.logger.Debug("Transfer worker stopping", "worker_id", workerID)
			return
		case j := <-p.queue:
			metrics.TransferQueueDepth.Dec()
			p.execute(workerID, j)
		}
	}
}

func (p *Pool) execute(workerID int, j job) {
	start := time.Now()
	result := "success"

	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			p.logger.Error("Transfer job panicked",
				"payment_id", j.paymentID,
				"worker_id", workerID,
				"panic", r,
				"stack", string(debug.Stack()))
		}

		p.mu.Lock()
		delete(p.inFlight, j.paymentID)
		p.mu.Unlock()

		metrics.TransferJobsTotal.WithLabelValues(result).Inc()
	}()

	ctx, cancel := context.WithTimeout(p.jobCtx, p.config.JobTimeout)
	defer cancel()

	if p.locker != nil {
		release, ok, err := p.locker.Acquire(ctx, j.paymentID, p.config.LockTTL)
		if err != nil {
			result = "lock_error"
			p.logger.Error("Failed to acquire transfer lock", "payment_id", j.paymentID, "error", err)
			return
		}
		if !ok {
			result = "skipped"
			p.logger.Info("Transfer already running elsewhere", "payment_id", j.paymentID)
			return
		}
		defer release()
	}

	if err := j.run(ctx); err != nil {
		result = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		p.logger.Error("Transfer job failed",
			"payment_id", j.paymentID,
			"worker_id", workerID,
			"duration", time.Since(start),
			"error", err)
		return
	}

	p.logger.Debug("Transfer job finished",
		"payment_id", j.paymentID,
		"worker_id", workerID,
		"duration", time.Since(start))
}
