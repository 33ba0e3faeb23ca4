package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	"github.com/crosspay/crosspay_service/internal/domain/services/payment"
	"github.com/crosspay/crosspay_service/internal/domain/services/transfer"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/pkg/logger"
)

// PaymentService creates and reads payments
type PaymentService interface {
	Create(ctx context.Context, principal entities.Principal, req *entities.CreatePaymentRequest) (*entities.Payment, error)
	Get(ctx context.Context, principal entities.Principal, id string) (*entities.Payment, error)
	ListRecent(ctx context.Context, principal entities.Principal, limit int) ([]*entities.Payment, error)
	AuditTrail(ctx context.Context, principal entities.Principal, id string, limit int) ([]*entities.AuditEntry, error)
	Describe(p *entities.Payment) *payment.View
}

// TransferService drives payments through burn, attestation and mint
type TransferService interface {
	Schedule(ctx context.Context, principal entities.Principal, paymentID, burnTxRef string) error
	SubmitBurn(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (*entities.Payment, error)
	Mint(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (*entities.Payment, error)
	Transactions(ctx context.Context, principal entities.Principal, paymentID string) (*transfer.TransactionStatus, error)
}

// TransferRequest carries the evidence of a burn made outside the service
type TransferRequest struct {
	BurnTxHash string `json:"burn_tx_hash"`
}

// PaymentListResponse is the body of GET /payments
type PaymentListResponse struct {
	Payments []*payment.View `json:"payments"`
	Count    int             `json:"count"`
}

// AuditTrailResponse is the body of GET /payments/:id/audit
type AuditTrailResponse struct {
	PaymentID string                 `json:"payment_id"`
	Entries   []*entities.AuditEntry `json:"entries"`
}

// PaymentHandlers serves the payment API
type PaymentHandlers struct {
	payments   PaymentService
	transfers  TransferService
	burnSigner *cctp.Signer
	mintSigner *cctp.Signer
	logger     *logger.Logger
}

// NewPaymentHandlers creates payment handlers. Either signer may be nil, in
// which case the matching endpoint answers 503.
func NewPaymentHandlers(payments PaymentService, transfers TransferService, burnSigner, mintSigner *cctp.Signer, logger *logger.Logger) *PaymentHandlers {
	return &PaymentHandlers{
		payments:   payments,
		transfers:  transfers,
		burnSigner: burnSigner,
		mintSigner: mintSigner,
		logger:     logger,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *PaymentHandlers) CreatePayment(c *gin.Context) {
	var req entities.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest+": "+err.Error())
		return
	}

	p, err := h.payments.Create(c.Request.Context(), getPrincipal(c), &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, h.payments.Describe(p))
}

// GetPayment handles GET /api/v1/payments/:id
func (h *PaymentHandlers) GetPayment(c *gin.Context) {
	p, err := h.payments.Get(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.payments.Describe(p))
}

// ListPayments handles GET /api/v1/payments
func (h *PaymentHandlers) ListPayments(c *gin.Context) {
	limit, ok := parseIntQuery(c, "limit", 0)
	if !ok {
		respondBadRequest(c, "limit must be a non-negative integer")
		return
	}

	list, err := h.payments.ListRecent(c.Request.Context(), getPrincipal(c), limit)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	views := make([]*payment.View, 0, len(list))
	for _, p := range list {
		views = append(views, h.payments.Describe(p))
	}
	c.JSON(http.StatusOK, PaymentListResponse{Payments: views, Count: len(views)})
}

// Transfer handles POST /api/v1/payments/:id/transfer. Advancement runs in the
// background; clients poll GET /payments/:id for progress.
func (h *PaymentHandlers) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest+": "+err.Error())
		return
	}

	id := c.Param("id")
	if err := h.transfers.Schedule(c.Request.Context(), getPrincipal(c), id, req.BurnTxHash); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"payment_id": id,
		"status":     "accepted",
	})
}

// Burn handles POST /api/v1/payments/:id/burn with the service burn signer
func (h *PaymentHandlers) Burn(c *gin.Context) {
	p, err := h.transfers.SubmitBurn(c.Request.Context(), getPrincipal(c), c.Param("id"), h.burnSigner)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, h.payments.Describe(p))
}

// Mint handles POST /api/v1/payments/:id/mint with the service mint signer
func (h *PaymentHandlers) Mint(c *gin.Context) {
	p, err := h.transfers.Mint(c.Request.Context(), getPrincipal(c), c.Param("id"), h.mintSigner)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.payments.Describe(p))
}

// AuditTrail handles GET /api/v1/payments/:id/audit
func (h *PaymentHandlers) AuditTrail(c *gin.Context) {
	limit, ok := parseIntQuery(c, "limit", 0)
	if !ok {
		respondBadRequest(c, "limit must be a non-negative integer")
		return
	}

	entries, err := h.payments.AuditTrail(c.Request.Context(), getPrincipal(c), c.Param("id"), limit)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*entities.AuditEntry{}
	}
	c.JSON(http.StatusOK, AuditTrailResponse{PaymentID: c.Param("id"), Entries: entries})
}

// Transactions handles GET /api/v1/payments/:id/transactions
func (h *PaymentHandlers) Transactions(c *gin.Context) {
	status, err := h.transfers.Transactions(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
