package repositories

import (
	"context"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
)

// AuditRepository is the append-only audit store
type AuditRepository interface {
	Create(ctx context.Context, entry *entities.AuditEntry) error
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*entities.AuditEntry, error)
}

// AuditRecorder writes audit entries on a best-effort basis.
// Implementations log failures instead of returning them.
type AuditRecorder interface {
	Record(ctx context.Context, entry *entities.AuditEntry)
}
