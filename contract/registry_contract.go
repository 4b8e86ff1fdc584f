package contract

import (
	"fmt"

	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("orgregistry.contract")

// Object types for composite keys, also usable as 'objectType' in CouchDB.
const (
	commitmentsObjectType   = "CommitmentList" // Attribute: principal
	organizationObjectType  = "Organization"   // Attribute: zero-padded org id
	orgCounterObjectType    = "OrgCounter"     // Attribute: "global"
	verificationObjectType  = "Verification"   // Attributes: principal, zero-padded org id
	registryAdminObjectType = "RegistryAdmin"  // Attribute: principal
	verifierKeyObjectType   = "VerifierKey"    // Attribute: verifier id
)

// OrgRegistrySmartContract records identity commitments, organization roots and
// membership verifications.
// @contract:OrgRegistrySmartContract
type OrgRegistrySmartContract struct {
	contractapi.Contract
}

// Instantiate is called during chaincode instantiation.
func (s *OrgRegistrySmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("OrgRegistrySmartContract Instantiated/Upgraded")
}

// --- Registry Administration ---

// BootstrapRegistry makes the caller the registry admin if no admin exists yet.
func (s *OrgRegistrySmartContract) BootstrapRegistry(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: BootstrapRegistry")
	if _, err := NewPrincipalManager(ctx).Bootstrap(); err != nil {
		return fmt.Errorf("BootstrapRegistry: %w", err)
	}
	return nil
}

// RegisterVerifierKey trusts attestations signed by publicKeyPEM under verifierID. Admin only.
func (s *OrgRegistrySmartContract) RegisterVerifierKey(ctx contractapi.TransactionContextInterface, verifierID, publicKeyPEM string) error {
	logger.Infof("Chaincode Call: RegisterVerifierKey '%s'", verifierID)
	admin, err := NewPrincipalManager(ctx).RequireRegistryAdmin()
	if err != nil {
		return fmt.Errorf("RegisterVerifierKey: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RegisterVerifierKey: %w", err)
	}
	if _, err := NewVerifierRegistry(ctx).Register(admin, verifierID, publicKeyPEM, now); err != nil {
		return fmt.Errorf("RegisterVerifierKey: %w", err)
	}
	return emitEvent(ctx, model.EventVerifierKeyRegistered, model.VerifierKeyEvent{
		VerifierID: verifierID,
		Actor:      admin,
		TxID:       ctx.GetStub().GetTxID(),
		Timestamp:  now.UnixMilli(),
	})
}

// RevokeVerifierKey stops trusting verifierID. Admin only.
func (s *OrgRegistrySmartContract) RevokeVerifierKey(ctx contractapi.TransactionContextInterface, verifierID string) error {
	logger.Infof("Chaincode Call: RevokeVerifierKey '%s'", verifierID)
	admin, err := NewPrincipalManager(ctx).RequireRegistryAdmin()
	if err != nil {
		return fmt.Errorf("RevokeVerifierKey: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RevokeVerifierKey: %w", err)
	}
	if _, err := NewVerifierRegistry(ctx).Revoke(admin, verifierID, now); err != nil {
		return fmt.Errorf("RevokeVerifierKey: %w", err)
	}
	return emitEvent(ctx, model.EventVerifierKeyRevoked, model.VerifierKeyEvent{
		VerifierID: verifierID,
		Actor:      admin,
		TxID:       ctx.GetStub().GetTxID(),
		Timestamp:  now.UnixMilli(),
	})
}

// --- Identity Commitments ---

// RegisterIdentity appends commitment (hex, 32 bytes) to the caller's commitments.
func (s *OrgRegistrySmartContract) RegisterIdentity(ctx contractapi.TransactionContextInterface, commitment string) error {
	caller, err := NewPrincipalManager(ctx).CurrentPrincipal()
	if err != nil {
		return fmt.Errorf("RegisterIdentity: %w", err)
	}
	logger.Infof("Chaincode Call: RegisterIdentity by '%s'", caller)

	parsed, err := parseHashArg(commitment, "commitment")
	if err != nil {
		return fmt.Errorf("RegisterIdentity: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RegisterIdentity: %w", err)
	}
	if err := NewCommitmentStore(ctx).Register(caller, parsed, now); err != nil {
		return fmt.Errorf("RegisterIdentity: %w", err)
	}
	return emitEvent(ctx, model.EventIdentityCreated, model.IdentityCreatedEvent{
		Principal:  caller,
		Commitment: parsed.String(),
		TxID:       ctx.GetStub().GetTxID(),
		Timestamp:  now.UnixMilli(),
	})
}

// --- Organizations ---

// CreateOrg allocates the next organization id and makes the caller its admin.
func (s *OrgRegistrySmartContract) CreateOrg(ctx contractapi.TransactionContextInterface) (uint32, error) {
	caller, err := NewPrincipalManager(ctx).CurrentPrincipal()
	if err != nil {
		return 0, fmt.Errorf("CreateOrg: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateOrg: %w", err)
	}
	orgID, err := NewOrgAllocator(ctx).Next()
	if err != nil {
		return 0, fmt.Errorf("CreateOrg: %w", err)
	}
	if _, err := NewRootStore(ctx).CreateOrganization(orgID, caller, now); err != nil {
		return 0, fmt.Errorf("CreateOrg: %w", err)
	}
	logger.Infof("Chaincode Call: CreateOrg allocated organization %d for admin '%s'", orgID, caller)
	return orgID, nil
}

// UpdateOrgRoot replaces the Merkle root of orgID. Only the organization admin may call it.
func (s *OrgRegistrySmartContract) UpdateOrgRoot(ctx contractapi.TransactionContextInterface, orgID uint32, root string) error {
	caller, err := NewPrincipalManager(ctx).CurrentPrincipal()
	if err != nil {
		return fmt.Errorf("UpdateOrgRoot: %w", err)
	}
	logger.Infof("Chaincode Call: UpdateOrgRoot for organization %d by '%s'", orgID, caller)

	parsed, err := parseHashArg(root, "root")
	if err != nil {
		return fmt.Errorf("UpdateOrgRoot: %w", err)
	}
	now, err := getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateOrgRoot: %w", err)
	}
	if _, err := NewRootStore(ctx).SetRoot(caller, orgID, parsed, now); err != nil {
		return fmt.Errorf("UpdateOrgRoot: %w", err)
	}
	return emitEvent(ctx, model.EventOrgRootUpdated, model.OrgRootUpdatedEvent{
		OrgID:     orgID,
		Root:      parsed.String(),
		UpdatedBy: caller,
		TxID:      ctx.GetStub().GetTxID(),
		Timestamp: now.UnixMilli(),
	})
}

// --- Verification ---

// VerifyProof records that the caller proved membership in orgID. proofHash and
// publicSignalsHash are hex; attestation is the verifier's signed statement (base64 JSON).
func (s *OrgRegistrySmartContract) VerifyProof(ctx contractapi.TransactionContextInterface, orgID uint32, fileID uint32, proofHash string, publicSignalsHash string, attestation string) error {
	logger.Infof("Chaincode Call: VerifyProof for organization %d, file %d", orgID, fileID)

	parsedProof, err := parseHashArg(proofHash, "proofHash")
	if err != nil {
		return fmt.Errorf("VerifyProof: %w", err)
	}
	parsedSignals, err := parseHashArg(publicSignalsHash, "publicSignalsHash")
	if err != nil {
		return fmt.Errorf("VerifyProof: %w: %v", ErrMalformedPublicInput, err)
	}

	_, err = NewVerificationProtocol(ctx).Verify(ProofSubmission{
		OrgID:             orgID,
		FileID:            fileID,
		ProofHash:         parsedProof,
		PublicSignalsHash: parsedSignals,
		Attestation:       attestation,
	})
	if err != nil {
		return fmt.Errorf("VerifyProof: %w", err)
	}
	return nil
}
