package contract

import (
	"fmt"
	"math"

	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// OrgAllocator issues organization ids 0, 1, 2, ... and never wraps around.
type OrgAllocator struct {
	Ctx contractapi.TransactionContextInterface
}

func NewOrgAllocator(ctx contractapi.TransactionContextInterface) *OrgAllocator {
	return &OrgAllocator{Ctx: ctx}
}

func (a *OrgAllocator) load() (*model.OrgCounter, string, error) {
	key, err := createOrgCounterCompositeKey(a.Ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create org counter key: %w", err)
	}
	counter := &model.OrgCounter{ObjectType: orgCounterObjectType}
	if _, err := getJSONState(a.Ctx, key, counter); err != nil {
		return nil, "", fmt.Errorf("failed to load org counter: %w", err)
	}
	return counter, key, nil
}

// Allocated returns how many ids have been issued.
func (a *OrgAllocator) Allocated() (uint32, error) {
	counter, _, err := a.load()
	if err != nil {
		return 0, err
	}
	return counter.Next, nil
}

// Next reserves and returns the next id. Once the counter reaches math.MaxUint32
// every call fails with ErrCounterOverflow and nothing is written.
func (a *OrgAllocator) Next() (uint32, error) {
	counter, key, err := a.load()
	if err != nil {
		return 0, err
	}
	if counter.Next == math.MaxUint32 {
		logger.Errorf("Organization id space exhausted at %d; no further organizations can be created", counter.Next)
		return 0, fmt.Errorf("%w: organization id space exhausted", ErrCounterOverflow)
	}
	orgID := counter.Next
	counter.Next++
	if err := putJSONState(a.Ctx, key, counter); err != nil {
		return 0, fmt.Errorf("failed to save org counter: %w", err)
	}
	return orgID, nil
}
