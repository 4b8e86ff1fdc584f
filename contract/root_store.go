package contract

import (
	"fmt"
	"time"

	"orgregistry/attest"
	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// RootStore holds organization records and their current Merkle roots.
// Roots are opaque 32-byte values and are never recomputed here.
type RootStore struct {
	Ctx contractapi.TransactionContextInterface
}

func NewRootStore(ctx contractapi.TransactionContextInterface) *RootStore {
	return &RootStore{Ctx: ctx}
}

// GetOrganization returns nil when orgID was never allocated.
func (rs *RootStore) GetOrganization(orgID uint32) (*model.Organization, error) {
	key, err := createOrganizationCompositeKey(rs.Ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization key for %d: %w", orgID, err)
	}
	org := &model.Organization{}
	found, err := getJSONState(rs.Ctx, key, org)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %d: %w", orgID, err)
	}
	if !found {
		return nil, nil
	}
	return org, nil
}

func (rs *RootStore) putOrganization(org *model.Organization) error {
	key, err := createOrganizationCompositeKey(rs.Ctx, org.OrgID)
	if err != nil {
		return fmt.Errorf("failed to create organization key for %d: %w", org.OrgID, err)
	}
	if err := putJSONState(rs.Ctx, key, org); err != nil {
		return fmt.Errorf("failed to save organization %d: %w", org.OrgID, err)
	}
	return nil
}

// CreateOrganization records a freshly allocated org with admin as its root publisher. No root yet.
func (rs *RootStore) CreateOrganization(orgID uint32, admin string, now time.Time) (*model.Organization, error) {
	org := &model.Organization{
		ObjectType: organizationObjectType,
		OrgID:      orgID,
		Admin:      admin,
		CreatedAt:  now,
	}
	if err := rs.putOrganization(org); err != nil {
		return nil, err
	}
	return org, nil
}

// SetRoot overwrites the root of orgID. Only the organization admin may publish.
func (rs *RootStore) SetRoot(caller string, orgID uint32, root attest.Hash, now time.Time) (*model.Organization, error) {
	org, err := rs.GetOrganization(orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("%w: organization %d was never created", ErrUnknownOrganization, orgID)
	}
	if org.Admin != caller {
		return nil, fmt.Errorf("%w: caller '%s' is not the admin of organization %d", ErrUnauthorized, caller, orgID)
	}

	previous := org.Root
	org.Root = root.String()
	org.HasRoot = true
	org.RootUpdatedAt = now
	if err := rs.putOrganization(org); err != nil {
		return nil, err
	}
	logger.Infof("Organization %d root updated by '%s': '%s' -> '%s'", orgID, caller, previous, org.Root)
	return org, nil
}

// GetRoot returns the current root of orgID; HasRoot is false when none was published.
func (rs *RootStore) GetRoot(orgID uint32) (*model.OrgRootView, error) {
	org, err := rs.GetOrganization(orgID)
	if err != nil {
		return nil, err
	}
	view := &model.OrgRootView{OrgID: orgID}
	if org != nil && org.HasRoot {
		view.HasRoot = true
		view.Root = org.Root
	}
	return view, nil
}
