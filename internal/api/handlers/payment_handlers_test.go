package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/api/middleware"
	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/services/audit"
	"github.com/crosspay/crosspay_service/internal/domain/services/bridge"
	"github.com/crosspay/crosspay_service/internal/domain/services/payment"
	"github.com/crosspay/crosspay_service/internal/domain/services/transfer"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/internal/infrastructure/repositories"
	"github.com/crosspay/crosspay_service/internal/workers/transfer_worker"
	"github.com/crosspay/crosspay_service/pkg/logger"
)

const (
	testSender    = "0x1111111111111111111111111111111111111111"
	testRecipient = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	testSignerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTransferService is a mock implementation of TransferService
type MockTransferService struct {
	mock.Mock
}

func (m *MockTransferService) Schedule(ctx context.Context, principal entities.Principal, paymentID, burnTxRef string) error {
	args := m.Called(ctx, principal, paymentID, burnTxRef)
	return args.Error(0)
}

func (m *MockTransferService) SubmitBurn(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (*entities.Payment, error) {
	args := m.Called(ctx, principal, paymentID, signer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Payment), args.Error(1)
}

func (m *MockTransferService) Mint(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (*entities.Payment, error) {
	args := m.Called(ctx, principal, paymentID, signer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Payment), args.Error(1)
}

func (m *MockTransferService) Transactions(ctx context.Context, principal entities.Principal, paymentID string) (*transfer.TransactionStatus, error) {
	args := m.Called(ctx, principal, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transfer.TransactionStatus), args.Error(1)
}

type testAPI struct {
	router    *gin.Engine
	payments  *payment.Service
	transfers *MockTransferService
	signer    *cctp.Signer
}

// newTestAPI mounts the payment routes over an in-memory ledger. principal,
// when set, replaces the authentication middleware.
func newTestAPI(t *testing.T, principal *entities.Principal) *testAPI {
	t.Helper()

	auditService := audit.NewService(repositories.NewMemoryAuditRepository(), zap.NewNop())
	repo := repositories.NewMemoryPaymentRepository(auditService, zap.NewNop())
	payments := payment.NewService(repo, auditService, chains.NewRegistry(nil), 15*time.Minute, logger.NewNop())
	transfers := &MockTransferService{}
	signer, err := cctp.NewSigner(testSignerKey)
	require.NoError(t, err)

	h := NewPaymentHandlers(payments, transfers, signer, signer, logger.NewNop())

	r := gin.New()
	r.Use(middleware.RequestID())
	if principal != nil {
		p := *principal
		r.Use(func(c *gin.Context) {
			c.Set(middleware.PrincipalKey, p)
			c.Next()
		})
	}
	v1 := r.Group("/api/v1")
	v1.POST("/payments", h.CreatePayment)
	v1.GET("/payments", h.ListPayments)
	v1.GET("/payments/:id", h.GetPayment)
	v1.POST("/payments/:id/transfer", h.Transfer)
	v1.POST("/payments/:id/burn", h.Burn)
	v1.POST("/payments/:id/mint", h.Mint)
	v1.GET("/payments/:id/audit", h.AuditTrail)
	v1.GET("/payments/:id/transactions", h.Transactions)

	return &testAPI{router: r, payments: payments, transfers: transfers, signer: signer}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) create(t *testing.T) map[string]interface{} {
	t.Helper()
	w := a.do(http.MethodPost, "/api/v1/payments", createBody("75.50", "sepolia", "base_sepolia"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func createBody(amount, source, dest string) string {
	return fmt.Sprintf(`{"amount":"%s","source_chain":"%s","dest_chain":"%s","sender":"%s","recipient":"%s"}`,
		amount, source, dest, testSender, testRecipient)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreatePayment(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"valid", createBody("75.50", "sepolia", "base_sepolia"), http.StatusCreated, ""},
		{"malformed json", `{"amount":`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"zero amount", createBody("0", "sepolia", "base_sepolia"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"too precise", createBody("1.0000001", "sepolia", "base_sepolia"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown chain", createBody("10", "solana", "base_sepolia"), http.StatusBadRequest, "UNKNOWN_CHAIN"},
		{"missing sender", `{"amount":"10","source_chain":"sepolia","dest_chain":"base_sepolia","recipient":"` + testRecipient + `"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)
			w := api.do(http.MethodPost, "/api/v1/payments", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				assert.NotEmpty(t, body["request_id"])
				return
			}
			assert.Equal(t, "created", body["status"])
			assert.Equal(t, "75.5", body["amount"])
			assert.Equal(t, false, body["stale"])
		})
	}
}

func TestGetPayment(t *testing.T) {
	api := newTestAPI(t, nil)
	created := api.create(t)
	id := created["id"].(string)

	w := api.do(http.MethodGet, "/api/v1/payments/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "sepolia", body["source_chain"])

	w = api.do(http.MethodGet, "/api/v1/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PAYMENT_NOT_FOUND", decode(t, w)["code"])
}

func TestGetPayment_OwnerScoping(t *testing.T) {
	alice := entities.Principal{ID: "alice"}
	api := newTestAPI(t, &alice)
	created := api.create(t)
	assert.Equal(t, "alice", created["owner"])

	bob := entities.Principal{ID: "bob"}
	h := NewPaymentHandlers(api.payments, api.transfers, nil, nil, logger.NewNop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.PrincipalKey, bob)
		c.Next()
	})
	r.GET("/api/v1/payments/:id", h.GetPayment)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+created["id"].(string), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListPayments(t *testing.T) {
	api := newTestAPI(t, nil)
	for i := 0; i < 3; i++ {
		api.create(t)
	}

	w := api.do(http.MethodGet, "/api/v1/payments?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["payments"], 2)

	w = api.do(http.MethodGet, "/api/v1/payments?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransfer(t *testing.T) {
	api := newTestAPI(t, nil)

	api.transfers.On("Schedule", mock.Anything, entities.AnonymousPrincipal, "p1", "0xdeadbeef").Return(nil).Once()
	w := api.do(http.MethodPost, "/api/v1/payments/p1/transfer", `{"burn_tx_hash":"0xdeadbeef"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", decode(t, w)["status"])

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"in flight", transfer_worker.ErrJobInFlight, http.StatusConflict, "TRANSFER_IN_PROGRESS"},
		{"queue full", transfer_worker.ErrQueueFull, http.StatusServiceUnavailable, "QUEUE_FULL"},
		{"terminal", apperrors.InvalidTransitionError("p2", "completed", "burning"), http.StatusConflict, "INVALID_TRANSITION"},
		{"not found", apperrors.NotFoundError("payment"), http.StatusNotFound, "PAYMENT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api.transfers.On("Schedule", mock.Anything, entities.AnonymousPrincipal, "p2", "0xfeed").Return(tt.err).Once()
			w := api.do(http.MethodPost, "/api/v1/payments/p2/transfer", `{"burn_tx_hash":"0xfeed"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
		})
	}

	w = api.do(http.MethodPost, "/api/v1/payments/p1/transfer", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	api.transfers.AssertExpectations(t)
}

func TestBurnAndMint(t *testing.T) {
	api := newTestAPI(t, nil)
	created := api.create(t)
	id := created["id"].(string)
	stored, err := api.payments.Get(context.Background(), entities.AnonymousPrincipal, id)
	require.NoError(t, err)

	burning := stored.Clone()
	burning.Status = entities.PaymentStatusBurning
	burning.BurnTxRef = "0xabc"
	api.transfers.On("SubmitBurn", mock.Anything, entities.AnonymousPrincipal, id, api.signer).Return(burning, nil).Once()

	w := api.do(http.MethodPost, "/api/v1/payments/"+id+"/burn", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "burning", body["status"])
	assert.Equal(t, "https://sepolia.etherscan.io/tx/0xabc", body["burn_tx_url"])

	completed := stored.Clone()
	completed.Status = entities.PaymentStatusCompleted
	api.transfers.On("Mint", mock.Anything, entities.AnonymousPrincipal, id, api.signer).Return(completed, nil).Once()
	w = api.do(http.MethodPost, "/api/v1/payments/"+id+"/mint", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	api.transfers.On("Mint", mock.Anything, entities.AnonymousPrincipal, "p9", api.signer).
		Return(nil, apperrors.TransactionRevertedError("mint", "0xbad")).Once()
	w = api.do(http.MethodPost, "/api/v1/payments/p9/mint", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "TRANSACTION_REVERTED", decode(t, w)["code"])

	api.transfers.AssertExpectations(t)
}

func TestAuditTrail(t *testing.T) {
	api := newTestAPI(t, nil)
	created := api.create(t)
	id := created["id"].(string)

	w := api.do(http.MethodGet, "/api/v1/payments/"+id+"/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, id, body["payment_id"])
	assert.Len(t, body["entries"], 1)

	w = api.do(http.MethodGet, "/api/v1/payments/missing/audit", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransactions(t *testing.T) {
	api := newTestAPI(t, nil)
	status := &transfer.TransactionStatus{
		PaymentID: "p1",
		Burn:      &bridge.TxStatus{Confirmed: true, Success: true, BlockNumber: 12},
	}
	api.transfers.On("Transactions", mock.Anything, entities.AnonymousPrincipal, "p1").Return(status, nil).Once()

	w := api.do(http.MethodGet, "/api/v1/payments/p1/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "p1", body["payment_id"])
	assert.NotNil(t, body["burn"])
	assert.Nil(t, body["mint"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperrors.ValidationError("amount", "bad"), http.StatusBadRequest},
		{"unknown chain", apperrors.UnknownChainError("x"), http.StatusBadRequest},
		{"not found", apperrors.NotFoundError("payment"), http.StatusNotFound},
		{"forbidden", apperrors.ForbiddenError("no"), http.StatusForbidden},
		{"invalid transition", apperrors.InvalidTransitionError("p", "a", "b"), http.StatusConflict},
		{"wrapped transition", fmt.Errorf("persist completed: %w", apperrors.InvalidTransitionError("p", "a", "b")), http.StatusConflict},
		{"insufficient balance", apperrors.InsufficientBalanceError("1", "2"), http.StatusUnprocessableEntity},
		{"chain unavailable", apperrors.ChainUnavailableError("sepolia", nil), http.StatusBadGateway},
		{"attestation timeout", apperrors.AttestationTimeoutError("0x1", time.Second, nil), http.StatusBadGateway},
		{"service unavailable", apperrors.ServiceUnavailableError("mint signer", nil), http.StatusServiceUnavailable},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestHandleError_HidesInternalDetail(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/", func(c *gin.Context) {
		handleError(c, logger.NewNop(), fmt.Errorf("pq: password authentication failed"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Equal(t, ErrCodeInternalError, decode(t, w)["code"])
}
