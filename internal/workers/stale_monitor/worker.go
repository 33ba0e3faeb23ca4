package stale_monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
	"github.com/crosspay/crosspay_service/pkg/metrics"
)

// awaitsChain reports whether status is waiting on the chain or the attestation
// service rather than on a caller. Only those payments are failed when stale:
// created and ready_to_mint wait for an explicit burn or mint request.
func awaitsChain(status entities.PaymentStatus) bool {
	return status == entities.PaymentStatusBurning || status == entities.PaymentStatusFetchingAttestation
}

// InFlightChecker reports payments that currently have a running transfer job or claim
type InFlightChecker interface {
	InFlight(paymentID string) bool
}

type Config struct {
	Schedule   string
	StaleAfter time.Duration
	// FailStale moves stale burning and fetching_attestation payments to failed
	// instead of only reporting them
	FailStale bool
	BatchSize int
}

// Worker periodically looks for non-terminal payments that stopped making progress
type Worker struct {
	config   Config
	repo     repositories.PaymentRepository
	inFlight InFlightChecker
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorker creates a stale payment monitor. inFlight may be nil.
func NewWorker(config Config, repo repositories.PaymentRepository, inFlight InFlightChecker, logger *zap.Logger) *Worker {
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	return &Worker{
		config:   config,
		repo:     repo,
		inFlight: inFlight,
		cron:     cron.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Stale payment scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", w.config.Schedule, err)
	}

	w.cron.Start()
	w.logger.Info("Stale payment monitor started",
		zap.String("schedule", w.config.Schedule),
		zap.Duration("stale_after", w.config.StaleAfter),
		zap.Bool("fail_stale", w.config.FailStale))
	return nil
}

// Stop waits for a running scan to finish
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Stale payment monitor stopped")
}

// RunOnce scans for stale payments and returns how many were found
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	stale, err := w.repo.ListStale(ctx, now.Add(-w.config.StaleAfter), w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}

	counts := make(map[entities.PaymentStatus]int, len(entities.PaymentStatuses))
	for _, p := range stale {
		counts[p.Status]++
	}
	for _, status := range entities.PaymentStatuses {
		if status.IsTerminal() {
			continue
		}
		metrics.StalePaymentsGauge.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	for _, p := range stale {
		idle := now.Sub(p.UpdatedAt).Truncate(time.Second)
		w.logger.Warn("Payment is stale",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.Duration("idle", idle))

		if !w.config.FailStale || !awaitsChain(p.Status) {
			continue
		}
		if w.inFlight != nil && w.inFlight.InFlight(p.ID) {
			continue
		}

		reason := fmt.Sprintf("stale: no progress for %s while %s", idle, p.Status)
		_, err := w.repo.ApplyTransition(ctx, p.ID, entities.SystemPrincipalID, entities.PaymentFailed{Reason: reason})
		switch {
		case err == nil:
			metrics.PaymentTransitionsTotal.WithLabelValues(string(p.Status), string(entities.PaymentStatusFailed)).Inc()
		case errors.Is(err, apperrors.ErrInvalidTransition):
			// advanced concurrently
		default:
			w.logger.Error("Failed to fail stale payment", zap.String("payment_id", p.ID), zap.Error(err))
		}
	}

	return len(stale), nil
}
