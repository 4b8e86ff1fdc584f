package contract

import (
	"fmt"
	"time"

	"orgregistry/attest"
	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	maxVerifierIDLength   = 128
	maxPublicKeyPEMLength = 4096
)

// VerifierRegistry holds the public keys of proof verifiers whose attestations are trusted.
type VerifierRegistry struct {
	Ctx contractapi.TransactionContextInterface
}

func NewVerifierRegistry(ctx contractapi.TransactionContextInterface) *VerifierRegistry {
	return &VerifierRegistry{Ctx: ctx}
}

// Get returns nil when verifierID is unknown.
func (vr *VerifierRegistry) Get(verifierID string) (*model.VerifierKey, error) {
	key, err := createVerifierKeyCompositeKey(vr.Ctx, verifierID)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier key for '%s': %w", verifierID, err)
	}
	vk := &model.VerifierKey{}
	found, err := getJSONState(vr.Ctx, key, vk)
	if err != nil {
		return nil, fmt.Errorf("failed to load verifier '%s': %w", verifierID, err)
	}
	if !found {
		return nil, nil
	}
	return vk, nil
}

// Register adds or replaces the key of verifierID and marks it active.
func (vr *VerifierRegistry) Register(actor, verifierID, publicKeyPEM string, now time.Time) (*model.VerifierKey, error) {
	if err := validateRequiredString(verifierID, "verifierID", maxVerifierIDLength); err != nil {
		return nil, err
	}
	if err := validateRequiredString(publicKeyPEM, "publicKeyPEM", maxPublicKeyPEMLength); err != nil {
		return nil, err
	}
	if _, err := attest.ParsePublicKeyPEM(publicKeyPEM); err != nil {
		return nil, fmt.Errorf("publicKeyPEM is not a usable verifier key: %w", err)
	}

	key, err := createVerifierKeyCompositeKey(vr.Ctx, verifierID)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier key for '%s': %w", verifierID, err)
	}
	vk := &model.VerifierKey{
		ObjectType:   verifierKeyObjectType,
		VerifierID:   verifierID,
		PublicKeyPEM: publicKeyPEM,
		Active:       true,
		RegisteredBy: actor,
		RegisteredAt: now,
	}
	if err := putJSONState(vr.Ctx, key, vk); err != nil {
		return nil, fmt.Errorf("failed to save verifier '%s': %w", verifierID, err)
	}
	logger.Infof("Verifier key '%s' registered by '%s'", verifierID, actor)
	return vk, nil
}

// Revoke deactivates verifierID. Attestations it signed are rejected from then on.
func (vr *VerifierRegistry) Revoke(actor, verifierID string, now time.Time) (*model.VerifierKey, error) {
	vk, err := vr.Get(verifierID)
	if err != nil {
		return nil, err
	}
	if vk == nil {
		return nil, fmt.Errorf("verifier '%s' does not exist", verifierID)
	}
	if !vk.Active {
		logger.Infof("Verifier key '%s' already revoked. No action needed.", verifierID)
		return vk, nil
	}
	vk.Active = false
	vk.RevokedAt = now

	key, err := createVerifierKeyCompositeKey(vr.Ctx, verifierID)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier key for '%s': %w", verifierID, err)
	}
	if err := putJSONState(vr.Ctx, key, vk); err != nil {
		return nil, fmt.Errorf("failed to save verifier '%s': %w", verifierID, err)
	}
	logger.Infof("Verifier key '%s' revoked by '%s'", verifierID, actor)
	return vk, nil
}
