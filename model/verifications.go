package model

import "time"

// VerificationRecord is the latest successful membership verification of a principal in an organization.
// There is exactly one record per (principal, organization); a newer success overwrites it.
type VerificationRecord struct {
	ObjectType string    `json:"objectType"`
	Principal  string    `json:"principal"`
	OrgID      uint32    `json:"orgId"`
	FileID     uint32    `json:"fileId"`     // Context id supplied with the latest success
	ProofHash  string    `json:"proofHash"`  // Hex-encoded hash of the accepted proof
	VerifierID string    `json:"verifierId"` // Verifier whose attestation was accepted
	VerifiedAt time.Time `json:"verifiedAt"` // Transaction timestamp of the latest success
}

// LatestVerification is the answer to GetLatestVerification; Found is false when no record exists.
type LatestVerification struct {
	Principal  string    `json:"principal"`
	OrgID      uint32    `json:"orgId"`
	Found      bool      `json:"found"`
	VerifiedAt time.Time `json:"verifiedAt"`
	UnixMillis int64     `json:"unixMillis"`
}
