package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Create(ctx context.Context, entry *entities.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, actor, action, resource, resource_id, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Actor, entry.Action, entry.Resource, entry.ResourceID,
		entry.Changes, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*entities.AuditEntry, error) {
	entries := []*entities.AuditEntry{}
	query := `
		SELECT id, actor, action, resource, resource_id, changes, created_at
		FROM audit_logs
		WHERE resource = $1 AND resource_id = $2
		ORDER BY created_at ASC, id
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &entries, query, resource, resourceID, repositories.ClampLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return entries, nil
}
