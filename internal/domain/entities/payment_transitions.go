package entities

import (
	"fmt"
	"strings"
)

// Transition is one edge of the payment state machine. The set is closed:
// only the types in this file implement it, so no other field can be written.
type Transition interface {
	// From lists the statuses the transition may leave
	From() []PaymentStatus
	// To is the status the payment ends in
	To() PaymentStatus
	// Validate checks the transition's own fields
	Validate() error
	apply(p *Payment, diff FieldDiff)
}

// BurnSubmitted records the burn transaction on the source chain
type BurnSubmitted struct {
	BurnTxRef string
}

// AttestationStarted marks the start of attestation polling
type AttestationStarted struct{}

// AttestationReceived stores the certified message
type AttestationReceived struct {
	Payload AttestationPayload
}

// MintCompleted records the mint on the destination chain.
// MintTxRef is empty when the message had already been received on chain.
type MintCompleted struct {
	MintTxRef string
}

// PaymentFailed moves any non-terminal payment to failed
type PaymentFailed struct {
	Reason string
}

var nonTerminalStatuses = []PaymentStatus{
	PaymentStatusCreated,
	PaymentStatusBurning,
	PaymentStatusFetchingAttestation,
	PaymentStatusReadyToMint,
}

func (BurnSubmitted) From() []PaymentStatus { return []PaymentStatus{PaymentStatusCreated} }
func (BurnSubmitted) To() PaymentStatus     { return PaymentStatusBurning }
func (t BurnSubmitted) Validate() error {
	if strings.TrimSpace(t.BurnTxRef) == "" {
		return fmt.Errorf("burn tx reference is required")
	}
	return nil
}
func (t BurnSubmitted) apply(p *Payment, diff FieldDiff) {
	diff.Record("burn_tx_ref", p.BurnTxRef, t.BurnTxRef)
	p.BurnTxRef = t.BurnTxRef
}

func (AttestationStarted) From() []PaymentStatus { return []PaymentStatus{PaymentStatusBurning} }
func (AttestationStarted) To() PaymentStatus     { return PaymentStatusFetchingAttestation }
func (AttestationStarted) Validate() error       { return nil }
func (AttestationStarted) apply(*Payment, FieldDiff) {}

func (AttestationReceived) From() []PaymentStatus {
	return []PaymentStatus{PaymentStatusFetchingAttestation}
}
func (AttestationReceived) To() PaymentStatus { return PaymentStatusReadyToMint }
func (t AttestationReceived) Validate() error {
	if t.Payload.Message == "" || t.Payload.Attestation == "" {
		return fmt.Errorf("attestation payload requires message and attestation")
	}
	return nil
}
func (t AttestationReceived) apply(p *Payment, diff FieldDiff) {
	payload := t.Payload
	var old interface{}
	if p.AttestationPayload != nil {
		old = *p.AttestationPayload
	}
	diff.Record("attestation_payload", old, payload)
	p.AttestationPayload = &payload
}

func (MintCompleted) From() []PaymentStatus { return []PaymentStatus{PaymentStatusReadyToMint} }
func (MintCompleted) To() PaymentStatus     { return PaymentStatusCompleted }
func (MintCompleted) Validate() error       { return nil }
func (t MintCompleted) apply(p *Payment, diff FieldDiff) {
	diff.Record("mint_tx_ref", p.MintTxRef, t.MintTxRef)
	p.MintTxRef = t.MintTxRef
}

func (PaymentFailed) From() []PaymentStatus { return nonTerminalStatuses }
func (PaymentFailed) To() PaymentStatus     { return PaymentStatusFailed }
func (t PaymentFailed) Validate() error {
	if strings.TrimSpace(t.Reason) == "" {
		return fmt.Errorf("failure reason is required")
	}
	return nil
}
func (t PaymentFailed) apply(p *Payment, diff FieldDiff) {
	diff.Record("failure_reason", p.FailureReason, t.Reason)
	p.FailureReason = t.Reason
}

// CanTransition reports whether t is an edge out of status
func CanTransition(status PaymentStatus, t Transition) bool {
	for _, from := range t.From() {
		if from == status {
			return true
		}
	}
	return false
}

// ApplyTransition mutates p along t and returns the field-level diff.
// The caller owns persistence and the updated_at refresh.
func ApplyTransition(p *Payment, t Transition) (FieldDiff, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, t) {
		return nil, fmt.Errorf("cannot move payment from %s to %s", p.Status, t.To())
	}

	diff := FieldDiff{}
	t.apply(p, diff)
	diff.Record("status", string(p.Status), string(t.To()))
	p.Status = t.To()
	return diff, nil
}
