package repositories

import (
	"context"
	"time"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// PaymentRepository is the ledger of payments. Every mutation goes through
// ApplyTransition, which serializes updates per payment id and appends an
// audit entry carrying the field-level diff.
type PaymentRepository interface {
	// Create inserts a payment in status created. A primary key collision
	// returns errors.ErrDuplicateIdentifier.
	Create(ctx context.Context, payment *entities.Payment, actor string) error
	GetByID(ctx context.Context, id string) (*entities.Payment, error)
	// ApplyTransition atomically validates and applies t to the stored payment
	ApplyTransition(ctx context.Context, id, actor string, t entities.Transition) (*entities.Payment, error)
	// ListRecent returns payments newest first
	ListRecent(ctx context.Context, filter entities.PaymentFilter) ([]*entities.Payment, error)
	// ListStale returns non-terminal payments not updated since olderThan
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Payment, error)
}

// ClampLimit applies the default and upper bound to a list limit
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
