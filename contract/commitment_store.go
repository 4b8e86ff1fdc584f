package contract

import (
	"fmt"
	"time"

	"orgregistry/attest"
	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// CommitmentStore keeps, per principal, the identity commitments it has registered.
// Commitments are opaque: their validity is only established by a later membership proof.
type CommitmentStore struct {
	Ctx contractapi.TransactionContextInterface
}

func NewCommitmentStore(ctx contractapi.TransactionContextInterface) *CommitmentStore {
	return &CommitmentStore{Ctx: ctx}
}

func (cs *CommitmentStore) load(principal string) (*model.CommitmentList, string, error) {
	key, err := createCommitmentsCompositeKey(cs.Ctx, principal)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create commitments key for '%s': %w", principal, err)
	}
	list := &model.CommitmentList{}
	found, err := getJSONState(cs.Ctx, key, list)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load commitments of '%s': %w", principal, err)
	}
	if !found {
		list = &model.CommitmentList{
			ObjectType:  commitmentsObjectType,
			Principal:   principal,
			Commitments: []string{},
		}
	}
	return list, key, nil
}

// Register appends commitment to the principal's list. Duplicates are kept.
func (cs *CommitmentStore) Register(principal string, commitment attest.Hash, now time.Time) error {
	list, key, err := cs.load(principal)
	if err != nil {
		return err
	}
	list.Commitments = append(list.Commitments, commitment.String())
	list.LastUpdatedAt = now
	if err := putJSONState(cs.Ctx, key, list); err != nil {
		return fmt.Errorf("failed to save commitments of '%s': %w", principal, err)
	}
	logger.Infof("Identity commitment %s registered for '%s' (%d total)", commitment, principal, len(list.Commitments))
	return nil
}

// List returns every commitment of principal in registration order, empty if none.
func (cs *CommitmentStore) List(principal string) ([]string, error) {
	list, _, err := cs.load(principal)
	if err != nil {
		return nil, err
	}
	return list.Commitments, nil
}
