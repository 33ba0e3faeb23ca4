package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
)

// MemoryPaymentRepository is a process-local ledger. The map is guarded by a
// RWMutex and each payment has its own mutex, so transitions on different
// payments never wait on each other.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*entities.Payment
	locks    map[string]*sync.Mutex
	audit    repositories.AuditRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewMemoryPaymentRepository creates an empty in-memory ledger
func NewMemoryPaymentRepository(audit repositories.AuditRecorder, logger *zap.Logger) *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments: make(map[string]*entities.Payment),
		locks:    make(map[string]*sync.Mutex),
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ repositories.PaymentRepository = (*MemoryPaymentRepository)(nil)

func (r *MemoryPaymentRepository) Create(ctx context.Context, payment *entities.Payment, actor string) error {
	r.mu.Lock()
	if _, exists := r.payments[payment.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("payment %s: %w", payment.ID, apperrors.ErrDuplicateIdentifier)
	}

	now := r.now()
	payment.Status = entities.PaymentStatusCreated
	payment.CreatedAt = now
	payment.UpdatedAt = now
	r.payments[payment.ID] = payment.Clone()
	r.locks[payment.ID] = &sync.Mutex{}
	r.mu.Unlock()

	r.audit.Record(ctx, entities.NewPaymentAuditEntry(actor, entities.AuditActionPaymentCreated, payment.ID, creationDiff(payment)))
	return nil
}

func (r *MemoryPaymentRepository) GetByID(ctx context.Context, id string) (*entities.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, apperrors.NotFoundError("payment")
	}
	return p.Clone(), nil
}

func (r *MemoryPaymentRepository) ApplyTransition(ctx context.Context, id, actor string, t entities.Transition) (*entities.Payment, error) {
	if err := t.Validate(); err != nil {
		return nil, apperrors.ValidationError("transition", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	lock, ok := r.locks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFoundError("payment")
	}

	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	current := r.payments[id].Clone()
	r.mu.RUnlock()

	from := current.Status
	if !entities.CanTransition(from, t) {
		return nil, apperrors.InvalidTransitionError(id, string(from), string(t.To()))
	}

	diff, err := entities.ApplyTransition(current, t)
	if err != nil {
		return nil, apperrors.ValidationError("transition", err.Error())
	}
	current.UpdatedAt = r.now()

	r.mu.Lock()
	r.payments[id] = current.Clone()
	r.mu.Unlock()

	r.logger.Debug("Payment transition persisted",
		zap.String("payment_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(current.Status)))

	r.audit.Record(ctx, entities.NewPaymentAuditEntry(actor, entities.AuditActionPaymentTransition, id, diff))
	return current, nil
}

func (r *MemoryPaymentRepository) ListRecent(ctx context.Context, filter entities.PaymentFilter) ([]*entities.Payment, error) {
	r.mu.RLock()
	payments := make([]*entities.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		if filter.Owner != "" && p.Owner != filter.Owner {
			continue
		}
		payments = append(payments, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].CreatedAt.After(payments[j].CreatedAt)
		}
		return payments[i].ID < payments[j].ID
	})

	if limit := repositories.ClampLimit(filter.Limit); len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (r *MemoryPaymentRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Payment, error) {
	r.mu.RLock()
	var stale []*entities.Payment
	for _, p := range r.payments {
		if !p.Status.IsTerminal() && p.UpdatedAt.Before(olderThan) {
			stale = append(stale, p.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if limit = repositories.ClampLimit(limit); len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// MemoryAuditRepository keeps audit entries in insertion order
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*entities.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

var _ repositories.AuditRepository = (*MemoryAuditRepository)(nil)

func (r *MemoryAuditRepository) Create(ctx context.Context, entry *entities.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *entry
	r.entries = append(r.entries, &stored)
	return nil
}

func (r *MemoryAuditRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*entities.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit = repositories.ClampLimit(limit)
	out := []*entities.AuditEntry{}
	for _, e := range r.entries {
		if e.Resource == resource && e.ResourceID == resourceID {
			copied := *e
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
