package contract

import (
	"fmt"
	"strings"

	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Query Functions ---

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func validatePrincipalArg(principal string) error {
	return validateRequiredString(principal, "principal", maxPrincipalLength)
}

// GetIdentityCommitments returns the commitments of principal in registration order.
func (s *OrgRegistrySmartContract) GetIdentityCommitments(ctx contractapi.TransactionContextInterface, principal string) ([]string, error) {
	logger.Debugf("Chaincode Call: GetIdentityCommitments for '%s'", principal)
	if err := validatePrincipalArg(principal); err != nil {
		return nil, fmt.Errorf("GetIdentityCommitments: %w", err)
	}
	commitments, err := NewCommitmentStore(ctx).List(strings.TrimSpace(principal))
	if err != nil {
		return nil, fmt.Errorf("GetIdentityCommitments: %w", err)
	}
	return commitments, nil // Will be [] if empty, not null
}

// GetOrgRoot returns the current root of orgID, if any.
func (s *OrgRegistrySmartContract) GetOrgRoot(ctx contractapi.TransactionContextInterface, orgID uint32) (*model.OrgRootView, error) {
	logger.Debugf("Chaincode Call: GetOrgRoot for organization %d", orgID)
	view, err := NewRootStore(ctx).GetRoot(orgID)
	if err != nil {
		return nil, fmt.Errorf("GetOrgRoot: %w", err)
	}
	return view, nil
}

// GetOrganization returns the organization record, failing with UnknownOrganization if never created.
func (s *OrgRegistrySmartContract) GetOrganization(ctx contractapi.TransactionContextInterface, orgID uint32) (*model.Organization, error) {
	logger.Debugf("Chaincode Call: GetOrganization %d", orgID)
	org, err := NewRootStore(ctx).GetOrganization(orgID)
	if err != nil {
		return nil, fmt.Errorf("GetOrganization: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("GetOrganization: %w: organization %d was never created", ErrUnknownOrganization, orgID)
	}
	return org, nil
}

// ListOrganizations pages through organizations by id, starting at offset.
func (s *OrgRegistrySmartContract) ListOrganizations(ctx contractapi.TransactionContextInterface, offset uint32, pageSize uint32) (*model.PaginatedOrganizationResponse, error) {
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		logger.Warningf("ListOrganizations: Requested pageSize %d exceeds max of %d. Capping.", pageSize, maxPageSize)
		pageSize = maxPageSize
	}

	total, err := NewOrgAllocator(ctx).Allocated()
	if err != nil {
		return nil, fmt.Errorf("ListOrganizations: %w", err)
	}

	store := NewRootStore(ctx)
	orgs := []*model.Organization{}
	next := offset
	for next < total && uint32(len(orgs)) < pageSize {
		org, err := store.GetOrganization(next)
		if err != nil {
			return nil, fmt.Errorf("ListOrganizations: %w", err)
		}
		if org == nil {
			logger.Warningf("ListOrganizations: organization %d allocated but missing. Skipping.", next)
		} else {
			orgs = append(orgs, org)
		}
		next++
	}
	return &model.PaginatedOrganizationResponse{
		Organizations: orgs,
		NextOffset:    next,
		Total:         total,
		FetchedCount:  int32(len(orgs)),
	}, nil
}

// GetUserOrgs returns, ascending, the organizations principal has verified membership in.
func (s *OrgRegistrySmartContract) GetUserOrgs(ctx contractapi.TransactionContextInterface, principal string) ([]uint32, error) {
	logger.Debugf("Chaincode Call: GetUserOrgs for '%s'", principal)
	if err := validatePrincipalArg(principal); err != nil {
		return nil, fmt.Errorf("GetUserOrgs: %w", err)
	}
	orgs, err := NewVerificationLedger(ctx).OrgsFor(strings.TrimSpace(principal))
	if err != nil {
		return nil, fmt.Errorf("GetUserOrgs: %w", err)
	}
	return orgs, nil
}

// GetLatestVerification returns the time of principal's latest successful verification in orgID.
func (s *OrgRegistrySmartContract) GetLatestVerification(ctx contractapi.TransactionContextInterface, principal string, orgID uint32) (*model.LatestVerification, error) {
	logger.Debugf("Chaincode Call: GetLatestVerification for '%s' in organization %d", principal, orgID)
	if err := validatePrincipalArg(principal); err != nil {
		return nil, fmt.Errorf("GetLatestVerification: %w", err)
	}
	principal = strings.TrimSpace(principal)
	rec, err := NewVerificationLedger(ctx).Latest(principal, orgID)
	if err != nil {
		return nil, fmt.Errorf("GetLatestVerification: %w", err)
	}
	latest := &model.LatestVerification{Principal: principal, OrgID: orgID}
	if rec != nil {
		latest.Found = true
		latest.VerifiedAt = rec.VerifiedAt
		latest.UnixMillis = rec.VerifiedAt.UnixMilli()
	}
	return latest, nil
}

// GetVerifierKey returns the registered key of verifierID.
func (s *OrgRegistrySmartContract) GetVerifierKey(ctx contractapi.TransactionContextInterface, verifierID string) (*model.VerifierKey, error) {
	if err := validateRequiredString(verifierID, "verifierID", maxVerifierIDLength); err != nil {
		return nil, fmt.Errorf("GetVerifierKey: %w", err)
	}
	vk, err := NewVerifierRegistry(ctx).Get(verifierID)
	if err != nil {
		return nil, fmt.Errorf("GetVerifierKey: %w", err)
	}
	if vk == nil {
		return nil, fmt.Errorf("GetVerifierKey: verifier '%s' does not exist", verifierID)
	}
	return vk, nil
}
