// Package transfer drives payments through the burn, attest and mint lifecycle.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/domain/repositories"
	"github.com/crosspay/crosspay_service/internal/domain/services/bridge"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/metrics"
	"github.com/crosspay/crosspay_service/pkg/tracing"
)

// persistTimeout bounds the failure write made after the job context is gone
const persistTimeout = 10 * time.Second

// BridgeFactory returns the bridge for a chain pair
type BridgeFactory interface {
	ForPair(ctx context.Context, source, dest string) (bridge.Bridge, error)
}

// Scheduler runs jobs in the background, at most one per payment
type Scheduler interface {
	Submit(paymentID string, run func(ctx context.Context) error) error
}

// Guard serializes operations on one payment. Claim fails with a conflict
// while another caller or a background job holds the payment.
type Guard interface {
	Claim(ctx context.Context, paymentID string) (release func(), err error)
}

// Config holds orchestrator timeouts
type Config struct {
	AttestationTimeout time.Duration
}

// Orchestrator moves payments along the state graph and persists every step
type Orchestrator struct {
	repo      repositories.PaymentRepository
	bridges   BridgeFactory
	scheduler Scheduler
	guard     Guard
	config    Config
	logger    *logger.Logger
}

// NewOrchestrator creates an orchestrator. scheduler may be nil when
// advancement is only ever driven synchronously. A scheduler that is also a
// Guard shares its per-payment exclusion with burns and mints; otherwise they
// are serialized in process.
func NewOrchestrator(repo repositories.PaymentRepository, bridges BridgeFactory, scheduler Scheduler, config Config, log *logger.Logger) *Orchestrator {
	if config.AttestationTimeout <= 0 {
		config.AttestationTimeout = bridge.DefaultAttestationTimeout
	}
	guard, ok := scheduler.(Guard)
	if !ok {
		guard = newLocalGuard()
	}
	return &Orchestrator{
		repo:      repo,
		bridges:   bridges,
		scheduler: scheduler,
		guard:     guard,
		config:    config,
		logger:    log,
	}
}

// Schedule checks that the principal may act on the payment and queues Advance.
// It returns as soon as the job is accepted.
func (o *Orchestrator) Schedule(ctx context.Context, principal entities.Principal, paymentID, burnTxRef string) error {
	if o.scheduler == nil {
		return apperrors.ServiceUnavailableError("transfer scheduler", errors.New("not configured"))
	}
	payment, err := o.authorize(ctx, principal, paymentID)
	if err != nil {
		return err
	}
	switch payment.Status {
	case entities.PaymentStatusCreated, entities.PaymentStatusBurning:
	default:
		return apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusFetchingAttestation))
	}

	burnTxRef = strings.TrimSpace(burnTxRef)
	if err := o.scheduler.Submit(payment.ID, func(ctx context.Context) error {
		return o.Advance(ctx, payment.ID, burnTxRef)
	}); err != nil {
		return err
	}

	o.logger.Info("transfer scheduled", "payment_id", payment.ID, "burn_tx_ref", burnTxRef, "principal", principal.ID)
	return nil
}

// Advance takes a payment from created or burning through attestation to ready_to_mint.
// Bridge failures are persisted as failed and are not returned; persistence errors are.
func (o *Orchestrator) Advance(ctx context.Context, paymentID, burnTxRef string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.advance",
		attribute.String("payment.id", paymentID),
		attribute.String("burn.tx_ref", burnTxRef))
	defer func() { tracing.EndSpan(span, err) }()

	payment, err := o.repo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	burnTxRef = strings.TrimSpace(burnTxRef)

	switch payment.Status {
	case entities.PaymentStatusCreated:
		if !isHexRef(burnTxRef) {
			return o.fail(ctx, payment, fmt.Sprintf("invalid burn evidence: %q is not a hex transaction reference", burnTxRef))
		}
		if payment, err = o.transition(ctx, payment, entities.BurnSubmitted{BurnTxRef: burnTxRef}); err != nil {
			return err
		}
	case entities.PaymentStatusBurning:
		if burnTxRef != "" && !strings.EqualFold(burnTxRef, payment.BurnTxRef) {
			return apperrors.ConflictError("payment", fmt.Sprintf("burn already recorded as %s", payment.BurnTxRef))
		}
	default:
		return apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusFetchingAttestation))
	}

	if payment, err = o.transition(ctx, payment, entities.AttestationStarted{}); err != nil {
		return err
	}

	b, err := o.bridges.ForPair(ctx, payment.SourceChain, payment.DestChain)
	if err != nil {
		return o.fail(ctx, payment, apperrors.FailureReason(err))
	}

	attestation, err := b.FetchAttestation(ctx, payment.BurnTxRef, o.config.AttestationTimeout)
	if err != nil {
		return o.fail(ctx, payment, apperrors.FailureReason(err))
	}

	_, err = o.transition(ctx, payment, entities.AttestationReceived{Payload: *attestation})
	return err
}

// SubmitBurn burns the payment amount with signer, records the burn and queues Advance
func (o *Orchestrator) SubmitBurn(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (payment *entities.Payment, err error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.submit_burn", attribute.String("payment.id", paymentID))
	defer func() { tracing.EndSpan(span, err) }()

	if signer == nil {
		return nil, apperrors.ServiceUnavailableError("burn signer", errors.New("not configured"))
	}
	payment, err = o.authorize(ctx, principal, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entities.PaymentStatusCreated {
		return nil, apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusBurning))
	}

	payment, receipt, err := o.burnClaimed(ctx, payment.ID, signer)
	if err != nil {
		return nil, err
	}

	if o.scheduler != nil {
		id, ref := payment.ID, receipt.TxHash
		if serr := o.scheduler.Submit(id, func(ctx context.Context) error {
			return o.Advance(ctx, id, ref)
		}); serr != nil {
			o.logger.Warn("burn recorded but advance not scheduled", "payment_id", id, "error", serr)
		}
	}
	return payment, nil
}

// burnClaimed burns and records the burn while holding the payment's claim.
// The status is re-read under the claim so a concurrent burn cannot pass the
// created check twice.
func (o *Orchestrator) burnClaimed(ctx context.Context, paymentID string, signer *cctp.Signer) (*entities.Payment, *bridge.BurnReceipt, error) {
	release, err := o.guard.Claim(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	payment, err := o.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment.Status != entities.PaymentStatusCreated {
		return nil, nil, apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusBurning))
	}

	b, err := o.bridges.ForPair(ctx, payment.SourceChain, payment.DestChain)
	if err != nil {
		return nil, nil, err
	}

	receipt, err := b.Burn(ctx, signer, payment.Amount, payment.Recipient)
	if err != nil {
		if perr := o.fail(ctx, payment, apperrors.FailureReason(err)); perr != nil {
			return nil, nil, perr
		}
		return nil, nil, err
	}

	payment, err = o.transition(ctx, payment, entities.BurnSubmitted{BurnTxRef: receipt.TxHash})
	if err != nil {
		return nil, nil, err
	}
	return payment, receipt, nil
}

// Mint submits the attested message on the destination chain. A completed
// payment is returned unchanged without touching the chain.
func (o *Orchestrator) Mint(ctx context.Context, principal entities.Principal, paymentID string, signer *cctp.Signer) (payment *entities.Payment, err error) {
	ctx, span := tracing.StartSpan(ctx, "transfer.mint", attribute.String("payment.id", paymentID))
	defer func() { tracing.EndSpan(span, err) }()

	payment, err = o.authorize(ctx, principal, paymentID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case entities.PaymentStatusCompleted:
		return payment, nil
	case entities.PaymentStatusReadyToMint:
	default:
		return nil, apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusCompleted))
	}

	if signer == nil {
		return nil, apperrors.ServiceUnavailableError("mint signer", errors.New("not configured"))
	}

	release, err := o.guard.Claim(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	// re-read under the claim: a mint that finished meanwhile is returned as is
	if payment, err = o.repo.GetByID(ctx, payment.ID); err != nil {
		return nil, err
	}
	switch payment.Status {
	case entities.PaymentStatusCompleted:
		return payment, nil
	case entities.PaymentStatusReadyToMint:
	default:
		return nil, apperrors.InvalidTransitionError(payment.ID, string(payment.Status), string(entities.PaymentStatusCompleted))
	}

	b, err := o.bridges.ForPair(ctx, payment.SourceChain, payment.DestChain)
	if err != nil {
		return nil, err
	}

	receipt, err := b.Mint(ctx, payment.AttestationPayload, signer)
	if err != nil {
		if perr := o.fail(ctx, payment, apperrors.FailureReason(err)); perr != nil {
			return nil, perr
		}
		failed, gerr := o.repo.GetByID(context.WithoutCancel(ctx), payment.ID)
		if gerr != nil {
			return nil, err
		}
		return failed, err
	}

	if receipt.AlreadyReceived {
		o.logger.Info("message already received on destination", "payment_id", payment.ID)
	}
	return o.transition(ctx, payment, entities.MintCompleted{MintTxRef: receipt.TxHash})
}

// TransactionStatus is the on-chain view of a payment's burn and mint
type TransactionStatus struct {
	PaymentID string           `json:"payment_id"`
	Burn      *bridge.TxStatus `json:"burn,omitempty"`
	Mint      *bridge.TxStatus `json:"mint,omitempty"`
}

// Transactions reports the chain status of the recorded burn and mint transactions
func (o *Orchestrator) Transactions(ctx context.Context, principal entities.Principal, paymentID string) (*TransactionStatus, error) {
	payment, err := o.authorize(ctx, principal, paymentID)
	if err != nil {
		return nil, err
	}

	status := &TransactionStatus{PaymentID: payment.ID}
	if payment.BurnTxRef == "" && payment.MintTxRef == "" {
		return status, nil
	}

	b, err := o.bridges.ForPair(ctx, payment.SourceChain, payment.DestChain)
	if err != nil {
		return nil, err
	}
	if payment.BurnTxRef != "" {
		burn := b.GetTxStatus(ctx, payment.BurnTxRef, bridge.RoleSource)
		status.Burn = &burn
	}
	if payment.MintTxRef != "" {
		mint := b.GetTxStatus(ctx, payment.MintTxRef, bridge.RoleDestination)
		status.Mint = &mint
	}
	return status, nil
}

func (o *Orchestrator) authorize(ctx context.Context, principal entities.Principal, paymentID string) (*entities.Payment, error) {
	payment, err := o.repo.GetByID(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(payment) {
		return nil, apperrors.ForbiddenError("payment belongs to another owner")
	}
	return payment, nil
}

func (o *Orchestrator) transition(ctx context.Context, payment *entities.Payment, t entities.Transition) (*entities.Payment, error) {
	from := payment.Status
	updated, err := o.repo.ApplyTransition(ctx, payment.ID, entities.SystemPrincipalID, t)
	if err != nil {
		o.logger.Error("payment transition failed",
			"payment_id", payment.ID,
			"from", from,
			"to", t.To(),
			"error", err)
		return nil, fmt.Errorf("persist %s: %w", t.To(), err)
	}

	metrics.PaymentTransitionsTotal.WithLabelValues(string(from), string(updated.Status)).Inc()
	o.logger.Info("payment transitioned",
		"payment_id", payment.ID,
		"from", from,
		"to", updated.Status)
	return updated, nil
}

// fail persists a failed status even when ctx has expired, which is the
// common case after an attestation timeout.
func (o *Orchestrator) fail(ctx context.Context, payment *entities.Payment, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	o.logger.Warn("payment failed", "payment_id", payment.ID, "status", payment.Status, "reason", reason)
	_, err := o.transition(ctx, payment, entities.PaymentFailed{Reason: reason})
	return err
}

// localGuard serializes payments within one process
type localGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalGuard() *localGuard {
	return &localGuard{held: make(map[string]struct{})}
}

func (g *localGuard) Claim(_ context.Context, paymentID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[paymentID]; busy {
		return nil, apperrors.ErrTransferInProgress
	}
	g.held[paymentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, paymentID)
			g.mu.Unlock()
		})
	}, nil
}

func isHexRef(ref string) bool {
	if !strings.HasPrefix(ref, "0x") && !strings.HasPrefix(ref, "0X") {
		return false
	}
	if len(ref) <= 2 {
		return false
	}
	_, err := hexutil.Decode("0x" + evenHex(ref[2:]))
	return err == nil
}

func evenHex(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}
