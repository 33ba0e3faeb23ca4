package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
	"github.com/crosspay/crosspay_service/internal/domain/services/bridge"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/metrics"
	"github.com/crosspay/crosspay_service/pkg/retry"
)

// maxCreateAttempts bounds inserts retried on an identifier collision
const maxCreateAttempts = 3

// AuditTrail reads the audit history of a payment
type AuditTrail interface {
	PaymentTrail(ctx context.Context, paymentID string, limit int) ([]*entities.AuditEntry, error)
}

// View is a payment as presented to callers
type View struct {
	*entities.Payment
	Stale     bool   `json:"stale"`
	BurnTxURL string `json:"burn_tx_url,omitempty"`
	MintTxURL string `json:"mint_tx_url,omitempty"`
}

// Service creates and queries payments
type Service struct {
	repo       repositories.PaymentRepository
	audit      AuditTrail
	registry   *chains.Registry
	validate   *validator.Validate
	staleAfter time.Duration
	logger     *logger.Logger
	newID      func() string
	now        func() time.Time
}

// NewService creates a payment service. staleAfter is the inactivity threshold
// after which a non-terminal payment is reported stale.
func NewService(repo repositories.PaymentRepository, audit AuditTrail, registry *chains.Registry, staleAfter time.Duration, log *logger.Logger) *Service {
	return &Service{
		repo:       repo,
		audit:      audit,
		registry:   registry,
		validate:   NewValidator(),
		staleAfter: staleAfter,
		logger:     log,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// NewValidator returns a validator that understands the evm_address tag
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("evm_address", func(fl validator.FieldLevel) bool {
		return common.IsHexAddress(fl.Field().String())
	})
	return v
}

// Create validates req and stores a new payment in status created
func (s *Service) Create(ctx context.Context, principal entities.Principal, req *entities.CreatePaymentRequest) (*entities.Payment, error) {
	if req == nil {
		return nil, apperrors.ValidationError("body", "request is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, translateValidation(err)
	}
	if _, err := bridge.ToBaseUnits(req.Amount); err != nil {
		return nil, err
	}
	source, err := s.registry.Resolve(req.SourceChain)
	if err != nil {
		return nil, err
	}
	dest, err := s.registry.Resolve(req.DestChain)
	if err != nil {
		return nil, err
	}

	owner := principal.ID
	if principal.IsAnonymous() {
		owner = entities.AnonymousPrincipalID
	}

	policy := retry.Policy{
		MaxRetries:     maxCreateAttempts - 1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2,
		RetryableFunc: func(err error) bool {
			return errors.Is(err, apperrors.ErrDuplicateIdentifier)
		},
	}

	payment, err := retry.DoValue(ctx, policy, s.logger.Zap(), func() (*entities.Payment, error) {
		p := &entities.Payment{
			ID:          s.newID(),
			Owner:       owner,
			Amount:      req.Amount,
			SourceChain: source.Name,
			DestChain:   dest.Name,
			Sender:      common.HexToAddress(req.Sender).Hex(),
			Recipient:   common.HexToAddress(req.Recipient).Hex(),
		}
		if err := s.repo.Create(ctx, p, owner); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrMaxRetriesExceeded) {
			s.logger.Error("payment id collisions exhausted retries", "error", err)
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	metrics.PaymentsCreatedTotal.WithLabelValues(payment.SourceChain, payment.DestChain).Inc()
	s.logger.Info("payment created",
		"payment_id", payment.ID,
		"owner", payment.Owner,
		"amount", payment.Amount.String(),
		"source_chain", payment.SourceChain,
		"dest_chain", payment.DestChain)

	return payment, nil
}

// Get returns a payment the principal may access
func (s *Service) Get(ctx context.Context, principal entities.Principal, id string) (*entities.Payment, error) {
	payment, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(payment) {
		return nil, apperrors.ForbiddenError("payment belongs to another owner")
	}
	return payment, nil
}

// ListRecent returns the newest payments. Authenticated principals only see their own.
func (s *Service) ListRecent(ctx context.Context, principal entities.Principal, limit int) ([]*entities.Payment, error) {
	filter := entities.PaymentFilter{Limit: limit}
	if !principal.IsAnonymous() && principal.ID != entities.SystemPrincipalID {
		filter.Owner = principal.ID
	}
	return s.repo.ListRecent(ctx, filter)
}

// AuditTrail returns the audit history of a payment the principal may access
func (s *Service) AuditTrail(ctx context.Context, principal entities.Principal, id string, limit int) ([]*entities.AuditEntry, error) {
	payment, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	return s.audit.PaymentTrail(ctx, payment.ID, limit)
}

// IsStale reports whether payment is non-terminal and idle past the threshold
func (s *Service) IsStale(payment *entities.Payment) bool {
	return payment.IsStale(s.now(), s.staleAfter)
}

// Describe decorates a payment with staleness and explorer links
func (s *Service) Describe(payment *entities.Payment) *View {
	view := &View{Payment: payment, Stale: s.IsStale(payment)}
	if src, err := s.registry.Resolve(payment.SourceChain); err == nil {
		view.BurnTxURL = src.ExplorerLink(payment.BurnTxRef)
	}
	if dst, err := s.registry.Resolve(payment.DestChain); err == nil {
		view.MintTxURL = dst.ExplorerLink(payment.MintTxRef)
	}
	return view
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.ValidationError("body", err.Error())
	}

	fe := fieldErrs[0]
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperrors.ValidationError(field, field+" is required")
	case "evm_address":
		return apperrors.ValidationError(field, field+" must be a hex EVM address")
	default:
		return apperrors.ValidationError(field, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
	}
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
