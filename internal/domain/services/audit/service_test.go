package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
)

type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Create(ctx context.Context, entry *entities.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]*entities.AuditEntry, error) {
	args := m.Called(ctx, resource, resourceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.AuditEntry), args.Error(1)
}

func TestLog_BuildsPaymentEntry(t *testing.T) {
	repo := &MockAuditRepository{}
	repo.On("Create", mock.Anything, mock.MatchedBy(func(e *entities.AuditEntry) bool {
		return e.Actor == entities.AnonymousPrincipalID &&
			e.Action == entities.AuditActionPaymentCreated &&
			e.Resource == entities.AuditResourcePayment &&
			e.ResourceID == "p-1"
	})).Return(nil).Once()

	svc := NewService(repo, zap.NewNop())
	svc.Log(context.Background(), "", entities.AuditActionPaymentCreated, "p-1", entities.FieldDiff{})

	repo.AssertExpectations(t)
}

func TestRecord_SwallowsStoreErrors(t *testing.T) {
	repo := &MockAuditRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := NewService(repo, zap.NewNop())
	assert.NotPanics(t, func() {
		svc.Log(context.Background(), "alice", entities.AuditActionPaymentTransition, "p-1", entities.FieldDiff{})
	})
	repo.AssertNumberOfCalls(t, "Create", 1)
}

func TestRecord_SurvivesCancelledCaller(t *testing.T) {
	repo := &MockAuditRepository{}
	repo.On("Create", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewService(repo, zap.NewNop()).Log(ctx, "alice", entities.AuditActionPaymentTransition, "p-1", nil)
	repo.AssertExpectations(t)
}

func TestPaymentTrail_ClampsLimit(t *testing.T) {
	repo := &MockAuditRepository{}
	want := []*entities.AuditEntry{entities.NewPaymentAuditEntry("alice", entities.AuditActionPaymentCreated, "p-1", nil)}
	repo.On("ListByResource", mock.Anything, entities.AuditResourcePayment, "p-1", repositories.DefaultListLimit).Return(want, nil)
	repo.On("ListByResource", mock.Anything, entities.AuditResourcePayment, "p-1", repositories.MaxListLimit).Return(want, nil)

	svc := NewService(repo, zap.NewNop())

	got, err := svc.PaymentTrail(context.Background(), "p-1", 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.PaymentTrail(context.Background(), "p-1", 10_000)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
