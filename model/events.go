package model

// Chaincode event names. Fabric keeps one event per transaction, so every operation emits at most one.
const (
	EventIdentityCreated       = "IdentityCreated"
	EventOrgRootUpdated        = "OrgRootUpdated"
	EventProofVerified         = "ProofVerified"
	EventVerifierKeyRegistered = "VerifierKeyRegistered"
	EventVerifierKeyRevoked    = "VerifierKeyRevoked"
)

// IdentityCreatedEvent is the payload of EventIdentityCreated.
type IdentityCreatedEvent struct {
	Principal  string `json:"principal"`
	Commitment string `json:"commitment"`
	TxID       string `json:"txId"`
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
}

// OrgRootUpdatedEvent is the payload of EventOrgRootUpdated.
type OrgRootUpdatedEvent struct {
	OrgID     uint32 `json:"orgId"`
	Root      string `json:"root"`
	UpdatedBy string `json:"updatedBy"`
	TxID      string `json:"txId"`
	Timestamp int64  `json:"timestamp"`
}

// ProofVerifiedEvent is the payload of EventProofVerified.
type ProofVerifiedEvent struct {
	Principal string `json:"principal"`
	OrgID     uint32 `json:"orgId"`
	FileID    uint32 `json:"fileId"`
	TxID      string `json:"txId"`
	Timestamp int64  `json:"timestamp"`
}

// VerifierKeyEvent is the payload of EventVerifierKeyRegistered and EventVerifierKeyRevoked.
type VerifierKeyEvent struct {
	VerifierID string `json:"verifierId"`
	Actor      string `json:"actor"`
	TxID       string `json:"txId"`
	Timestamp  int64  `json:"timestamp"`
}
