package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
	"github.com/crosspay/crosspay_service/internal/infrastructure/database"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

const paymentColumns = `id, owner, amount, source_chain, dest_chain, sender, recipient,
	COALESCE(burn_tx_ref, '') AS burn_tx_ref, COALESCE(mint_tx_ref, '') AS mint_tx_ref,
	status, attestation_payload, COALESCE(failure_reason, '') AS failure_reason,
	created_at, updated_at`

// PaymentRepository is the postgres ledger. Transitions lock the row with
// SELECT ... FOR UPDATE so updates to one payment are serialized.
type PaymentRepository struct {
	db     *sqlx.DB
	audit  repositories.AuditRecorder
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sqlx.DB, audit repositories.AuditRecorder, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{db: db, audit: audit, logger: logger}
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, payment *entities.Payment, actor string) error {
	now := time.Now().UTC()
	payment.Status = entities.PaymentStatusCreated
	payment.CreatedAt = now
	payment.UpdatedAt = now

	query := `
		INSERT INTO payments (
			id, owner, amount, source_chain, dest_chain, sender, recipient,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID, payment.Owner, payment.Amount, payment.SourceChain, payment.DestChain,
		payment.Sender, payment.Recipient, payment.Status, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("payment %s: %w", payment.ID, apperrors.ErrDuplicateIdentifier)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	r.audit.Record(ctx, entities.NewPaymentAuditEntry(actor, entities.AuditActionPaymentCreated, payment.ID, creationDiff(payment)))
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*entities.Payment, error) {
	if !validID(id) {
		return nil, apperrors.NotFoundError("payment")
	}

	var payment entities.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
			return nil, apperrors.NotFoundError("payment")
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *PaymentRepository) ApplyTransition(ctx context.Context, id, actor string, t entities.Transition) (*entities.Payment, error) {
	if err := t.Validate(); err != nil {
		return nil, apperrors.ValidationError("transition", err.Error())
	}
	if !validID(id) {
		return nil, apperrors.NotFoundError("payment")
	}

	var (
		updated *entities.Payment
		diff    entities.FieldDiff
	)

	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var current entities.Payment
		query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
				return apperrors.NotFoundError("payment")
			}
			return fmt.Errorf("failed to lock payment: %w", err)
		}

		from := current.Status
		if !entities.CanTransition(from, t) {
			return apperrors.InvalidTransitionError(id, string(from), string(t.To()))
		}

		var err error
		if diff, err = entities.ApplyTransition(&current, t); err != nil {
			return apperrors.ValidationError("transition", err.Error())
		}
		current.UpdatedAt = time.Now().UTC()

		update := `
			UPDATE payments SET
				burn_tx_ref = $2, mint_tx_ref = $3, status = $4,
				attestation_payload = $5, failure_reason = $6, updated_at = $7
			WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update,
			current.ID, nullString(current.BurnTxRef), nullString(current.MintTxRef), current.Status,
			current.AttestationPayload, nullString(current.FailureReason), current.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		updated = &current
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Payment transition persisted",
		zap.String("payment_id", id),
		zap.String("to", string(updated.Status)),
		zap.String("actor", actor))

	r.audit.Record(ctx, entities.NewPaymentAuditEntry(actor, entities.AuditActionPaymentTransition, id, diff))
	return updated, nil
}

func (r *PaymentRepository) ListRecent(ctx context.Context, filter entities.PaymentFilter) ([]*entities.Payment, error) {
	limit := repositories.ClampLimit(filter.Limit)
	payments := []*entities.Payment{}

	var err error
	if filter.Owner != "" {
		query := `SELECT ` + paymentColumns + ` FROM payments WHERE owner = $1 ORDER BY created_at DESC, id LIMIT $2`
		err = r.db.SelectContext(ctx, &payments, query, filter.Owner, limit)
	} else {
		query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC, id LIMIT $1`
		err = r.db.SelectContext(ctx, &payments, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (r *PaymentRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entities.Payment, error) {
	payments := []*entities.Payment{}
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE status NOT IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`
	err := r.db.SelectContext(ctx, &payments, query,
		entities.PaymentStatusCompleted, entities.PaymentStatusFailed, olderThan, repositories.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	return payments, nil
}

// creationDiff renders the initial field values as changes from nothing
// validID reports whether id can name a row; payments.id is a UUID column
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// malformedID reports whether postgres rejected the id literal
func malformedID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}

func creationDiff(p *entities.Payment) entities.FieldDiff {
	diff := entities.FieldDiff{}
	diff.Record("owner", nil, p.Owner)
	diff.Record("amount", nil, p.Amount.StringFixed(entities.USDCDecimals))
	diff.Record("source_chain", nil, p.SourceChain)
	diff.Record("dest_chain", nil, p.DestChain)
	diff.Record("sender", nil, p.Sender)
	diff.Record("recipient", nil, p.Recipient)
	diff.Record("status", nil, string(p.Status))
	return diff
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
