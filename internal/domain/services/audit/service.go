package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
)

// writeTimeout bounds an audit insert so a slow audit store cannot hold up a transition
const writeTimeout = 5 * time.Second

type Service struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

func NewService(repo repositories.AuditRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

var _ repositories.AuditRecorder = (*Service)(nil)

// Record writes an audit entry. Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, entry *entities.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to create audit log",
			zap.Error(err),
			zap.String("action", string(entry.Action)),
			zap.String("resource_id", entry.ResourceID),
			zap.String("actor", entry.Actor),
		)
	}
}

// Log builds and records a payment audit entry
func (s *Service) Log(ctx context.Context, actor string, action entities.AuditAction, paymentID string, changes entities.FieldDiff) {
	s.Record(ctx, entities.NewPaymentAuditEntry(actor, action, paymentID, changes))
}

// PaymentTrail returns the audit history of a payment, oldest first
func (s *Service) PaymentTrail(ctx context.Context, paymentID string, limit int) ([]*entities.AuditEntry, error) {
	return s.repo.ListByResource(ctx, entities.AuditResourcePayment, paymentID, repositories.ClampLimit(limit))
}
