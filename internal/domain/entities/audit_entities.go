package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction names the kind of mutation an audit entry records
type AuditAction string

const (
	AuditActionPaymentCreated    AuditAction = "payment_created"
	AuditActionPaymentTransition AuditAction = "payment_transition"
)

// AuditResourcePayment is the resource name used for payment audit entries
const AuditResourcePayment = "payment"

// FieldChange is the before and after value of one field
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// FieldDiff maps field names to their change. Only fields that actually changed appear.
type FieldDiff map[string]FieldChange

// Value stores the diff as JSONB
func (d FieldDiff) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan reads the diff from JSONB
func (d *FieldDiff) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = FieldDiff{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FieldDiff", src)
	}
	out := FieldDiff{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// Record adds a change when old and new differ
func (d FieldDiff) Record(field string, old, new interface{}) {
	if fmt.Sprint(old) == fmt.Sprint(new) {
		return
	}
	d[field] = FieldChange{Old: old, New: new}
}

// AuditEntry is an immutable record of one mutation
type AuditEntry struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Actor      string      `json:"actor" db:"actor"`
	Action     AuditAction `json:"action" db:"action"`
	Resource   string      `json:"resource" db:"resource"`
	ResourceID string      `json:"resource_id" db:"resource_id"`
	Changes    FieldDiff   `json:"changes" db:"changes"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// NewPaymentAuditEntry builds an audit entry for a payment mutation
func NewPaymentAuditEntry(actor string, action AuditAction, paymentID string, changes FieldDiff) *AuditEntry {
	if actor == "" {
		actor = AnonymousPrincipalID
	}
	return &AuditEntry{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		Resource:   AuditResourcePayment,
		ResourceID: paymentID,
		Changes:    changes,
		CreatedAt:  time.Now().UTC(),
	}
}
