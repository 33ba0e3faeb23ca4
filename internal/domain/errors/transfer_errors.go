package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Transfer-specific errors
var (
	// Client errors
	ErrUnknownChain = errors.New("unknown chain")

	// Chain errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrChainUnavailable    = errors.New("chain unavailable")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Attestation errors
	ErrMessageExtractionFailed = errors.New("message extraction failed")
	ErrAttestationTimeout      = errors.New("attestation timeout")

	// Ledger errors
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrInvalidTransition   = fmt.Errorf("%w: invalid payment transition", ErrConflict)
)

// ErrTransferInProgress is returned while another operation holds the payment
var ErrTransferInProgress = NewDomainError(ErrConflict, "TRANSFER_IN_PROGRESS", "transfer already in progress for this payment")

// UnknownChainError creates a client error for an unresolvable chain id
func UnknownChainError(chain string) *DomainError {
	return &DomainError{
		Err:     fmt.Errorf("%w: %w", ErrInvalidInput, ErrUnknownChain),
		Code:    "UNKNOWN_CHAIN",
		Message: fmt.Sprintf("unsupported chain %q", chain),
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// InsufficientBalanceError creates an error for a sender that cannot cover the burn
func InsufficientBalanceError(available, required string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientBalance,
		Code:    "INSUFFICIENT_BALANCE",
		Message: fmt.Sprintf("insufficient balance: have %s, need %s", available, required),
		Details: map[string]interface{}{
			"available": available,
			"required":  required,
		},
	}
}

// ChainUnavailableError creates a retryable error for an unreachable RPC endpoint
func ChainUnavailableError(chain string, cause error) *DomainError {
	msg := fmt.Sprintf("chain %s unavailable", chain)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &DomainError{
		Err:       ErrChainUnavailable,
		Code:      "CHAIN_UNAVAILABLE",
		Message:   msg,
		Retryable: true,
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// TransactionRevertedError creates an error for a mined but rejected transaction
func TransactionRevertedError(step, txHash string) *DomainError {
	return &DomainError{
		Err:     ErrTransactionReverted,
		Code:    "TRANSACTION_REVERTED",
		Message: fmt.Sprintf("%s transaction %s reverted", step, txHash),
		Details: map[string]interface{}{
			"step":    step,
			"tx_hash": txHash,
		},
	}
}

// TransactionNotFoundError creates an error for a transaction whose receipt never appeared
func TransactionNotFoundError(txHash string, waited fmt.Stringer) *DomainError {
	return &DomainError{
		Err:     ErrTransactionNotFound,
		Code:    "TRANSACTION_NOT_FOUND",
		Message: fmt.Sprintf("no receipt for transaction %s after %s", txHash, waited),
		Details: map[string]interface{}{
			"tx_hash": txHash,
		},
	}
}

// MessageExtractionError creates an error for a burn receipt without a bridge message
func MessageExtractionError(txHash, reason string) *DomainError {
	return &DomainError{
		Err:     ErrMessageExtractionFailed,
		Code:    "MESSAGE_EXTRACTION_FAILED",
		Message: fmt.Sprintf("%s in transaction %s", reason, txHash),
		Details: map[string]interface{}{
			"tx_hash": txHash,
		},
	}
}

// AttestationTimeoutError creates an error for an attestation that never completed
func AttestationTimeoutError(messageHash string, waited fmt.Stringer, lastProblem error) *DomainError {
	msg := fmt.Sprintf("message %s not attested after %s", messageHash, waited)
	if lastProblem != nil {
		msg = fmt.Sprintf("%s (last error: %v)", msg, lastProblem)
	}
	return &DomainError{
		Err:     ErrAttestationTimeout,
		Code:    "ATTESTATION_TIMEOUT",
		Message: msg,
		Details: map[string]interface{}{
			"message_hash": messageHash,
		},
	}
}

// InvalidTransitionError creates a conflict for an edge missing from the state graph
func InvalidTransitionError(paymentID, from, to string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidTransition,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("payment %s cannot move from %s to %s", paymentID, from, to),
		Details: map[string]interface{}{
			"payment_id": paymentID,
			"from":       from,
			"to":         to,
		},
	}
}

// IsChainError reports whether err came from the blockchain layer
func IsChainError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrChainUnavailable) ||
		errors.Is(err, ErrTransactionReverted) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsAttestationError reports whether err came from message extraction or attestation polling
func IsAttestationError(err error) bool {
	return errors.Is(err, ErrMessageExtractionFailed) || errors.Is(err, ErrAttestationTimeout)
}

// FailureReason renders err as the human readable reason stored on a failed payment.
// The category prefix keeps timeouts distinguishable from extraction failures.
func FailureReason(err error) string {
	if err == nil {
		return "unknown failure"
	}

	var prefix string
	switch {
	case errors.Is(err, ErrAttestationTimeout):
		prefix = "attestation timeout"
	case errors.Is(err, ErrMessageExtractionFailed):
		prefix = "message extraction failed"
	case errors.Is(err, ErrInsufficientBalance):
		prefix = "insufficient balance"
	case errors.Is(err, ErrTransactionReverted):
		prefix = "transaction reverted"
	case errors.Is(err, ErrTransactionNotFound):
		prefix = "transaction not found"
	case errors.Is(err, ErrChainUnavailable):
		prefix = "chain unavailable"
	case errors.Is(err, ErrInvalidInput):
		prefix = "invalid input"
	default:
		prefix = "transfer error"
	}

	detail := strings.TrimSpace(err.Error())
	if detail == "" || strings.HasPrefix(detail, prefix) {
		if detail == "" {
			return prefix
		}
		return detail
	}
	return prefix + ": " + detail
}
