package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the on-chain precision of USDC on every supported chain
const USDCDecimals = 6

// PaymentStatus is the lifecycle state of a cross-chain payment
type PaymentStatus string

const (
	PaymentStatusCreated             PaymentStatus = "created"              // Awaiting burn evidence
	PaymentStatusBurning             PaymentStatus = "burning"              // Burn tx reference recorded
	PaymentStatusFetchingAttestation PaymentStatus = "fetching_attestation" // Polling the attestation service
	PaymentStatusReadyToMint         PaymentStatus = "ready_to_mint"        // Attested, waiting for an authorized mint
	PaymentStatusCompleted           PaymentStatus = "completed"            // Minted on the destination chain
	PaymentStatusFailed              PaymentStatus = "failed"               // Terminal failure, see FailureReason
)

// PaymentStatuses lists every status in lifecycle order
var PaymentStatuses = []PaymentStatus{
	PaymentStatusCreated,
	PaymentStatusBurning,
	PaymentStatusFetchingAttestation,
	PaymentStatusReadyToMint,
	PaymentStatusCompleted,
	PaymentStatusFailed,
}

// ParsePaymentStatus converts a stored or user supplied string into a PaymentStatus
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return status, nil
}

// IsValid reports whether s is one of the six lifecycle states
func (s PaymentStatus) IsValid() bool {
	for _, known := range PaymentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave s
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Value implements driver.Valuer
func (s PaymentStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("unknown payment status %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner and rejects values outside the enum
func (s *PaymentStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PaymentStatus", src)
	}
	parsed, err := ParsePaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON rejects values outside the enum
func (s *PaymentStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AttestationPayload is the certified burn message plus Circle's signature, hex encoded
type AttestationPayload struct {
	MessageHash string `json:"message_hash"`
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
}

// Value stores the payload as JSONB
func (a AttestationPayload) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan reads the payload from JSONB
func (a *AttestationPayload) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into AttestationPayload", src)
	}
}

// Payment is a single USDC transfer from a source chain to a destination chain
type Payment struct {
	ID                 string              `json:"id" db:"id"`
	Owner              string              `json:"owner" db:"owner"`
	Amount             decimal.Decimal     `json:"amount" db:"amount"`
	SourceChain        string              `json:"source_chain" db:"source_chain"`
	DestChain          string              `json:"dest_chain" db:"dest_chain"`
	Sender             string              `json:"sender" db:"sender"`
	Recipient          string              `json:"recipient" db:"recipient"`
	BurnTxRef          string              `json:"burn_tx_ref,omitempty" db:"burn_tx_ref"`
	MintTxRef          string              `json:"mint_tx_ref,omitempty" db:"mint_tx_ref"`
	Status             PaymentStatus       `json:"status" db:"status"`
	AttestationPayload *AttestationPayload `json:"attestation_payload,omitempty" db:"attestation_payload"`
	FailureReason      string              `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.AttestationPayload != nil {
		payload := *p.AttestationPayload
		c.AttestationPayload = &payload
	}
	return &c
}

// IsStale reports whether a non-terminal payment has made no progress for longer than threshold
func (p *Payment) IsStale(now time.Time, threshold time.Duration) bool {
	if p.Status.IsTerminal() || threshold <= 0 {
		return false
	}
	return now.Sub(p.UpdatedAt) > threshold
}

// CreatePaymentRequest is the input for creating a payment
type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	SourceChain string          `json:"source_chain" validate:"required"`
	DestChain   string          `json:"dest_chain" validate:"required"`
	Sender      string          `json:"sender" validate:"required,evm_address"`
	Recipient   string          `json:"recipient" validate:"required,evm_address"`
}

// PaymentFilter narrows ListRecent results
type PaymentFilter struct {
	Owner string // empty lists every owner
	Limit int
}

// Principal is the caller on whose behalf an operation runs
type Principal struct {
	ID string
}

const (
	AnonymousPrincipalID = "anonymous"
	SystemPrincipalID    = "system"
)

var (
	// AnonymousPrincipal acts for unauthenticated callers
	AnonymousPrincipal = Principal{ID: AnonymousPrincipalID}
	// SystemPrincipal acts for background workers
	SystemPrincipal = Principal{ID: SystemPrincipalID}
)

// IsAnonymous reports whether the principal is unauthenticated
func (p Principal) IsAnonymous() bool {
	return p.ID == "" || p.ID == AnonymousPrincipalID
}

// CanAccess reports whether the principal may act on the payment.
// Anonymous payments stay reachable by anyone, matching the demo flow.
func (p Principal) CanAccess(payment *Payment) bool {
	if p.ID == SystemPrincipalID || payment.Owner == AnonymousPrincipalID {
		return true
	}
	return p.ID == payment.Owner
}
