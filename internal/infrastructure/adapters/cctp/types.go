package cctp

// AttestationResponse is the Iris v1 attestation lookup result
type AttestationResponse struct {
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
	// Message is only returned by some Iris deployments
	Message string `json:"message,omitempty"`
}

// IsComplete reports whether Circle has signed the message
func (r *AttestationResponse) IsComplete() bool {
	return r.Status == AttestationStatusComplete && r.Attestation != "" && r.Attestation != "PENDING"
}

// IsPending reports whether the attestation is still being produced
func (r *AttestationResponse) IsPending() bool {
	return r.Status == AttestationStatusPending || r.Status == AttestationStatusPendingConfirmations
}

// PublicKeysResponse represents attestation public keys
type PublicKeysResponse struct {
	Keys []PublicKey `json:"keys"`
}

// PublicKey represents a single attestation public key
type PublicKey struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
}
