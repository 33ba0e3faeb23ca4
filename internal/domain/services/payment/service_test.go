package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/services/audit"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/internal/infrastructure/repositories"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/retry"
)

const (
	sender    = "0x1111111111111111111111111111111111111111"
	recipient = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
)

func newTestService() (*Service, *repositories.MemoryPaymentRepository) {
	auditService := audit.NewService(repositories.NewMemoryAuditRepository(), zap.NewNop())
	repo := repositories.NewMemoryPaymentRepository(auditService, zap.NewNop())
	return NewService(repo, auditService, chains.NewRegistry(nil), 15*time.Minute, logger.NewNop()), repo
}

func validRequest() *entities.CreatePaymentRequest {
	return &entities.CreatePaymentRequest{
		Amount:      decimal.RequireFromString("75.50"),
		SourceChain: "sepolia",
		DestChain:   "base_sepolia",
		Sender:      sender,
		Recipient:   recipient,
	}
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, entities.AnonymousPrincipal, validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, entities.PaymentStatusCreated, p.Status)
	assert.Equal(t, entities.AnonymousPrincipalID, p.Owner)
	assert.True(t, decimal.RequireFromString("75.50").Equal(p.Amount))
	assert.Equal(t, recipient, p.Recipient)

	got, err := svc.Get(ctx, entities.AnonymousPrincipal, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name   string
		mutate func(r *entities.CreatePaymentRequest)
		field  string
	}{
		{"unknown source chain", func(r *entities.CreatePaymentRequest) { r.SourceChain = "solana" }, "chain"},
		{"missing dest chain", func(r *entities.CreatePaymentRequest) { r.DestChain = "" }, "dest_chain"},
		{"zero amount", func(r *entities.CreatePaymentRequest) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *entities.CreatePaymentRequest) { r.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"sub-micro amount", func(r *entities.CreatePaymentRequest) { r.Amount = decimal.RequireFromString("0.0000001") }, "amount"},
		{"malformed recipient", func(r *entities.CreatePaymentRequest) { r.Recipient = "0xaaa" }, "recipient"},
		{"missing sender", func(r *entities.CreatePaymentRequest) { r.Sender = "" }, "sender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := svc.Create(context.Background(), entities.AnonymousPrincipal, req)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err), "got %v", err)
			details := apperrors.GetErrorDetails(err)
			if tt.field == "chain" {
				assert.Equal(t, "solana", details["chain"])
			} else {
				assert.Equal(t, tt.field, details["field"])
			}
		})
	}
}

func TestService_UniqueIdentifiers(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const samples = 10_000
	seen := make(map[string]struct{}, samples)
	for i := 0; i < samples; i++ {
		p, err := svc.Create(ctx, entities.AnonymousPrincipal, validRequest())
		require.NoError(t, err)
		_, dup := seen[p.ID]
		require.False(t, dup, "identifier %s generated twice", p.ID)
		seen[p.ID] = struct{}{}
	}
	assert.Len(t, seen, samples)
}

func TestService_CreateRetriesIdentifierCollision(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	existing := &entities.Payment{ID: "taken", Owner: "alice", Amount: decimal.NewFromInt(1), SourceChain: "sepolia", DestChain: "base_sepolia"}
	require.NoError(t, repo.Create(ctx, existing, "alice"))

	t.Run("fresh id on retry", func(t *testing.T) {
		ids := []string{"taken", "taken", "fresh"}
		svc.newID = func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}

		p, err := svc.Create(ctx, entities.AnonymousPrincipal, validRequest())
		require.NoError(t, err)
		assert.Equal(t, "fresh", p.ID)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		calls := 0
		svc.newID = func() string {
			calls++
			return "taken"
		}

		_, err := svc.Create(ctx, entities.AnonymousPrincipal, validRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrDuplicateIdentifier)
		assert.ErrorIs(t, err, retry.ErrMaxRetriesExceeded)
		assert.Equal(t, 3, calls)
	})
}

func TestService_Ownership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	alice := entities.Principal{ID: "alice"}
	bob := entities.Principal{ID: "bob"}

	p, err := svc.Create(ctx, alice, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Owner)

	_, err = svc.Get(ctx, bob, p.ID)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = svc.Get(ctx, entities.SystemPrincipal, p.ID)
	assert.NoError(t, err)

	_, err = svc.Create(ctx, bob, validRequest())
	require.NoError(t, err)

	mine, err := svc.ListRecent(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p.ID, mine[0].ID)

	all, err := svc.ListRecent(ctx, entities.AnonymousPrincipal, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Get(ctx, alice, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_AuditTrail(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, entities.AnonymousPrincipal, validRequest())
	require.NoError(t, err)
	_, err = repo.ApplyTransition(ctx, p.ID, entities.SystemPrincipalID, entities.BurnSubmitted{BurnTxRef: "0xdeadbeef"})
	require.NoError(t, err)

	trail, err := svc.AuditTrail(ctx, entities.AnonymousPrincipal, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, entities.AuditActionPaymentCreated, trail[0].Action)
	assert.Equal(t, entities.AuditActionPaymentTransition, trail[1].Action)
	assert.Equal(t, entities.SystemPrincipalID, trail[1].Actor)
	assert.Equal(t, "0xdeadbeef", trail[1].Changes["burn_tx_ref"].New)
}

func TestService_Describe(t *testing.T) {
	svc, _ := newTestService()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	p := &entities.Payment{
		ID:          "p1",
		SourceChain: "base_sepolia",
		DestChain:   "sepolia",
		BurnTxRef:   "0xdeadbeef",
		Status:      entities.PaymentStatusFetchingAttestation,
		UpdatedAt:   now.Add(-20 * time.Minute),
	}

	view := svc.Describe(p)
	assert.True(t, view.Stale)
	assert.Equal(t, "https://sepolia.basescan.org/tx/0xdeadbeef", view.BurnTxURL)
	assert.Empty(t, view.MintTxURL)

	p.Status = entities.PaymentStatusFailed
	assert.False(t, svc.Describe(p).Stale)

	p.Status = entities.PaymentStatusBurning
	p.UpdatedAt = now.Add(-time.Minute)
	assert.False(t, svc.IsStale(p))
}

func TestTranslateValidation(t *testing.T) {
	err := translateValidation(errors.New("boom"))
	assert.True(t, apperrors.IsInvalidInput(err))
	assert.Equal(t, "source_chain", toSnake("SourceChain"))
}
