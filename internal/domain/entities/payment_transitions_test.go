package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allTransitions() []Transition {
	return []Transition{
		BurnSubmitted{BurnTxRef: "0xdeadbeef"},
		AttestationStarted{},
		AttestationReceived{Payload: AttestationPayload{MessageHash: "0x01", Message: "0x02", Attestation: "0x03"}},
		MintCompleted{MintTxRef: "0xbeef"},
		PaymentFailed{Reason: "attestation timeout"},
	}
}

func TestTransitionTable(t *testing.T) {
	// every (status, transition) pair; only the table edges may succeed
	allowed := map[PaymentStatus]map[PaymentStatus]bool{
		PaymentStatusCreated:             {PaymentStatusBurning: true, PaymentStatusFailed: true},
		PaymentStatusBurning:             {PaymentStatusFetchingAttestation: true, PaymentStatusFailed: true},
		PaymentStatusFetchingAttestation: {PaymentStatusReadyToMint: true, PaymentStatusFailed: true},
		PaymentStatusReadyToMint:         {PaymentStatusCompleted: true, PaymentStatusFailed: true},
		PaymentStatusCompleted:           {},
		PaymentStatusFailed:              {},
	}

	for _, from := range PaymentStatuses {
		for _, tr := range allTransitions() {
			p := &Payment{ID: "p1", Status: from}
			_, err := ApplyTransition(p, tr)
			if allowed[from][tr.To()] {
				require.NoError(t, err, "%s -> %s", from, tr.To())
				assert.Equal(t, tr.To(), p.Status)
			} else {
				require.Error(t, err, "%s -> %s", from, tr.To())
				assert.Equal(t, from, p.Status)
			}
		}
	}
}

func TestApplyTransition_NoSkippingToCompleted(t *testing.T) {
	p := &Payment{Status: PaymentStatusCreated}
	_, err := ApplyTransition(p, MintCompleted{MintTxRef: "0x1"})
	require.Error(t, err)
	assert.Equal(t, PaymentStatusCreated, p.Status)
	assert.Empty(t, p.MintTxRef)
}

func TestApplyTransition_Diff(t *testing.T) {
	t.Run("burn records ref and status", func(t *testing.T) {
		p := &Payment{Status: PaymentStatusCreated}
		diff, err := ApplyTransition(p, BurnSubmitted{BurnTxRef: "0xdeadbeef"})
		require.NoError(t, err)
		assert.Equal(t, FieldDiff{
			"burn_tx_ref": {Old: "", New: "0xdeadbeef"},
			"status":      {Old: "created", New: "burning"},
		}, diff)
	})

	t.Run("attestation started only changes status", func(t *testing.T) {
		p := &Payment{Status: PaymentStatusBurning, BurnTxRef: "0xdeadbeef"}
		diff, err := ApplyTransition(p, AttestationStarted{})
		require.NoError(t, err)
		assert.Len(t, diff, 1)
		assert.Contains(t, diff, "status")
	})

	t.Run("failure keeps burn ref", func(t *testing.T) {
		p := &Payment{Status: PaymentStatusFetchingAttestation, BurnTxRef: "0xdeadbeef"}
		diff, err := ApplyTransition(p, PaymentFailed{Reason: "attestation timeout: after 1s"})
		require.NoError(t, err)
		assert.Equal(t, "0xdeadbeef", p.BurnTxRef)
		assert.Equal(t, "attestation timeout: after 1s", p.FailureReason)
		assert.NotContains(t, diff, "burn_tx_ref")
	})
}

func TestTransitionValidate(t *testing.T) {
	assert.Error(t, BurnSubmitted{}.Validate())
	assert.Error(t, BurnSubmitted{BurnTxRef: "  "}.Validate())
	assert.Error(t, PaymentFailed{}.Validate())
	assert.Error(t, AttestationReceived{}.Validate())
	assert.NoError(t, MintCompleted{}.Validate())
}

func TestParsePaymentStatus(t *testing.T) {
	for _, s := range PaymentStatuses {
		parsed, err := ParsePaymentStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParsePaymentStatus("minting")
	assert.Error(t, err)

	var status PaymentStatus
	assert.Error(t, json.Unmarshal([]byte(`"pending"`), &status))
	assert.Error(t, status.Scan("pending"))
	require.NoError(t, status.Scan([]byte("ready_to_mint")))
	assert.Equal(t, PaymentStatusReadyToMint, status)
}

func TestPayment_IsStale(t *testing.T) {
	p := &Payment{Status: PaymentStatusFetchingAttestation}
	now := p.UpdatedAt.Add(10 * time.Minute)

	assert.True(t, p.IsStale(now, 5*time.Minute))
	assert.False(t, p.IsStale(now, 20*time.Minute))

	p.Status = PaymentStatusFailed
	assert.False(t, p.IsStale(now, 5*time.Minute))
}

func TestPayment_CloneIsDeep(t *testing.T) {
	p := &Payment{
		Amount:             decimal.RequireFromString("150.00"),
		AttestationPayload: &AttestationPayload{Message: "0x01"},
	}
	c := p.Clone()
	c.AttestationPayload.Message = "0x02"
	assert.Equal(t, "0x01", p.AttestationPayload.Message)
	assert.True(t, c.Amount.Equal(decimal.RequireFromString("150")))
}

func TestPrincipal_CanAccess(t *testing.T) {
	owned := &Payment{Owner: "alice"}
	anon := &Payment{Owner: AnonymousPrincipalID}

	assert.True(t, Principal{ID: "alice"}.CanAccess(owned))
	assert.False(t, Principal{ID: "bob"}.CanAccess(owned))
	assert.False(t, AnonymousPrincipal.CanAccess(owned))
	assert.True(t, SystemPrincipal.CanAccess(owned))
	assert.True(t, Principal{ID: "bob"}.CanAccess(anon))
	assert.True(t, AnonymousPrincipal.CanAccess(anon))
}
