package contract

import (
	"fmt"
	"time"

	"orgregistry/attest"
	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var protocolLogger = flogging.MustGetLogger("orgregistry.verification")

const maxAttestationLength = 8192

// ProofSubmission carries the arguments of VerifyProof after decoding.
type ProofSubmission struct {
	OrgID             uint32
	FileID            uint32
	ProofHash         attest.Hash
	PublicSignalsHash attest.Hash
	Attestation       string
}

// VerificationProtocol decides whether a submitted membership proof is accepted and records it.
// All checks run before the first write, so a rejected submission leaves no state and no event.
type VerificationProtocol struct {
	Ctx      contractapi.TransactionContextInterface
	Validity time.Duration
}

func NewVerificationProtocol(ctx contractapi.TransactionContextInterface) *VerificationProtocol {
	return &VerificationProtocol{Ctx: ctx, Validity: attest.DefaultValidity}
}

// Verify runs the protocol for the transaction's caller.
func (vp *VerificationProtocol) Verify(sub ProofSubmission) (*model.VerificationRecord, error) {
	caller, err := NewPrincipalManager(vp.Ctx).CurrentPrincipal()
	if err != nil {
		return nil, err
	}
	now, err := getCurrentTxTimestamp(vp.Ctx)
	if err != nil {
		return nil, err
	}

	// Precondition: a published root.
	org, err := NewRootStore(vp.Ctx).GetOrganization(sub.OrgID)
	if err != nil {
		return nil, err
	}
	if org == nil || !org.HasRoot {
		return nil, fmt.Errorf("%w: organization %d has no published root", ErrUnknownOrganization, sub.OrgID)
	}
	root, err := attest.ParseHash(org.Root)
	if err != nil {
		return nil, fmt.Errorf("stored root of organization %d is corrupt: %w", sub.OrgID, err)
	}

	// Public-input binding: the signals must commit to this root, this caller and this org.
	expected := attest.PublicSignalsHash(root, caller, sub.OrgID)
	if sub.PublicSignalsHash != expected {
		return nil, fmt.Errorf("%w: public signals hash %s does not bind caller '%s' to organization %d", ErrMalformedPublicInput, sub.PublicSignalsHash, caller, sub.OrgID)
	}

	verifierID, err := vp.checkAttestation(sub, caller, root, now)
	if err != nil {
		protocolLogger.Warningf("Proof from '%s' for organization %d rejected: %v", caller, sub.OrgID, err)
		return nil, err
	}

	record := &model.VerificationRecord{
		Principal:  caller,
		OrgID:      sub.OrgID,
		FileID:     sub.FileID,
		ProofHash:  sub.ProofHash.String(),
		VerifierID: verifierID,
		VerifiedAt: now,
	}
	first, err := NewVerificationLedger(vp.Ctx).Record(record)
	if err != nil {
		return nil, err
	}
	if first {
		protocolLogger.Infof("'%s' verified membership in organization %d for the first time", caller, sub.OrgID)
	} else {
		protocolLogger.Infof("'%s' refreshed membership verification in organization %d", caller, sub.OrgID)
	}

	if err := emitEvent(vp.Ctx, model.EventProofVerified, model.ProofVerifiedEvent{
		Principal: caller,
		OrgID:     sub.OrgID,
		FileID:    sub.FileID,
		TxID:      vp.Ctx.GetStub().GetTxID(),
		Timestamp: now.UnixMilli(),
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// checkAttestation accepts only a fresh attestation, signed by an active registered verifier,
// whose statement matches the submission exactly. It returns the verifier id.
func (vp *VerificationProtocol) checkAttestation(sub ProofSubmission, caller string, root attest.Hash, now time.Time) (string, error) {
	if len(sub.Attestation) == 0 || len(sub.Attestation) > maxAttestationLength {
		return "", fmt.Errorf("%w: attestation missing or longer than %d", ErrInvalidProof, maxAttestationLength)
	}
	att, err := attest.Decode(sub.Attestation)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	st := att.Statement

	verifier, err := NewVerifierRegistry(vp.Ctx).Get(st.VerifierID)
	if err != nil {
		return "", err
	}
	if verifier == nil || !verifier.Active {
		return "", fmt.Errorf("%w: verifier '%s' is not registered or revoked", ErrInvalidProof, st.VerifierID)
	}
	pub, err := attest.ParsePublicKeyPEM(verifier.PublicKeyPEM)
	if err != nil {
		return "", fmt.Errorf("stored key of verifier '%s' is unusable: %w", st.VerifierID, err)
	}
	if err := att.Verify(pub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	switch {
	case st.OrgID != sub.OrgID:
		return "", fmt.Errorf("%w: attestation is for organization %d", ErrInvalidProof, st.OrgID)
	case st.Principal != caller:
		return "", fmt.Errorf("%w: attestation is for another principal", ErrInvalidProof)
	case st.Root != root:
		return "", fmt.Errorf("%w: attestation was issued against root %s, current root is %s", ErrInvalidProof, st.Root, root)
	case st.ProofHash != sub.ProofHash:
		return "", fmt.Errorf("%w: attestation covers a different proof", ErrInvalidProof)
	case st.PublicSignalsHash != sub.PublicSignalsHash:
		return "", fmt.Errorf("%w: attestation covers different public signals", ErrInvalidProof)
	}
	if err := st.CheckFresh(now, vp.Validity); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return st.VerifierID, nil
}
