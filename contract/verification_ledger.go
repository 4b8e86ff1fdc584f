package contract

import (
	"fmt"
	"strconv"

	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// VerificationLedger stores one VerificationRecord per (principal, organization).
// The membership index is the key space itself: an org id is listed for a principal
// exactly when a record exists, so it can never hold duplicates or drift from the records.
type VerificationLedger struct {
	Ctx contractapi.TransactionContextInterface
}

func NewVerificationLedger(ctx contractapi.TransactionContextInterface) *VerificationLedger {
	return &VerificationLedger{Ctx: ctx}
}

// Record upserts rec, overwriting any earlier success. It reports whether this is the
// principal's first verification in the organization.
func (vl *VerificationLedger) Record(rec *model.VerificationRecord) (bool, error) {
	key, err := createVerificationCompositeKey(vl.Ctx, rec.Principal, rec.OrgID)
	if err != nil {
		return false, fmt.Errorf("failed to create verification key: %w", err)
	}
	existing, err := vl.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read verification of '%s' in %d: %w", rec.Principal, rec.OrgID, err)
	}
	rec.ObjectType = verificationObjectType
	if err := putJSONState(vl.Ctx, key, rec); err != nil {
		return false, fmt.Errorf("failed to save verification of '%s' in %d: %w", rec.Principal, rec.OrgID, err)
	}
	return existing == nil, nil
}

// Latest returns nil when principal never verified in orgID.
func (vl *VerificationLedger) Latest(principal string, orgID uint32) (*model.VerificationRecord, error) {
	key, err := createVerificationCompositeKey(vl.Ctx, principal, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification key: %w", err)
	}
	rec := &model.VerificationRecord{}
	found, err := getJSONState(vl.Ctx, key, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification of '%s' in %d: %w", principal, orgID, err)
	}
	if !found {
		return nil, nil
	}
	return rec, nil
}

// OrgsFor lists, in ascending order, the organizations principal has verified in at least once.
func (vl *VerificationLedger) OrgsFor(principal string) ([]uint32, error) {
	stub := vl.Ctx.GetStub()
	iterator, err := stub.GetStateByPartialCompositeKey(verificationObjectType, []string{principal})
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications of '%s': %w", principal, err)
	}
	defer iterator.Close()

	orgs := []uint32{}
	for iterator.HasNext() {
		entry, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate verifications of '%s': %w", principal, err)
		}
		_, attributes, err := stub.SplitCompositeKey(entry.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to split verification key: %w", err)
		}
		if len(attributes) != 2 || attributes[0] != principal {
			logger.Warningf("OrgsFor: unexpected verification key attributes %v for '%s'. Skipping.", attributes, principal)
			continue
		}
		orgID, err := strconv.ParseUint(attributes[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("corrupt organization id '%s' in verification key: %w", attributes[1], err)
		}
		orgs = append(orgs, uint32(orgID))
	}
	return orgs, nil
}
