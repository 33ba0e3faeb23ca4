package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
)

func TestPaymentRepository_MalformedID(t *testing.T) {
	// no database: a malformed id must be answered before any query runs
	repo := NewPaymentRepository(nil, nil, zap.NewNop())

	for _, id := range []string{"abc", "", "p1", "00000000-0000-0000-0000-00000000000g"} {
		t.Run(id, func(t *testing.T) {
			_, err := repo.GetByID(context.Background(), id)
			assert.True(t, apperrors.IsNotFound(err))

			_, err = repo.ApplyTransition(context.Background(), id, entities.SystemPrincipalID, entities.AttestationStarted{})
			assert.True(t, apperrors.IsNotFound(err))
		})
	}
}

func TestMalformedID(t *testing.T) {
	assert.True(t, malformedID(&pq.Error{Code: invalidTextRepresentation}))
	assert.True(t, malformedID(fmt.Errorf("query: %w", &pq.Error{Code: invalidTextRepresentation})))
	assert.False(t, malformedID(&pq.Error{Code: uniqueViolation}))
	assert.False(t, malformedID(fmt.Errorf("connection refused")))
}
