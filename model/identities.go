package model

import "time"

// CommitmentList stores every identity commitment a principal has registered, in call order.
type CommitmentList struct {
	ObjectType    string    `json:"objectType"`    // Set to the composite key object type (CommitmentList)
	Principal     string    `json:"principal"`     // Full X.509 identity string of the owner
	Commitments   []string  `json:"commitments"`   // Hex-encoded 32-byte commitments, oldest first
	LastUpdatedAt time.Time `json:"lastUpdatedAt"` // Timestamp of the latest registration
}

// RegistryAdmin marks a principal allowed to manage verifier keys.
type RegistryAdmin struct {
	ObjectType   string    `json:"objectType"`
	Principal    string    `json:"principal"`
	MSPID        string    `json:"mspId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// VerifierKey is a public key whose attestations the registry accepts as proof verification results.
type VerifierKey struct {
	ObjectType   string    `json:"objectType"`
	VerifierID   string    `json:"verifierId"`
	PublicKeyPEM string    `json:"publicKeyPem"` // PKIX, ECDSA P-256
	Active       bool      `json:"active"`
	RegisteredBy string    `json:"registeredBy"`
	RegisteredAt time.Time `json:"registeredAt"`
	RevokedAt    time.Time `json:"revokedAt"`
}
