package contract

import (
	"errors"
	"fmt"
	"strings"

	"orgregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var principalLogger = flogging.MustGetLogger("orgregistry.principals")

const maxPrincipalLength = 1024

// PrincipalManager resolves the transaction's authenticated caller and registry admin status.
type PrincipalManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewPrincipalManager creates a new instance of PrincipalManager.
func NewPrincipalManager(ctx contractapi.TransactionContextInterface) *PrincipalManager {
	return &PrincipalManager{Ctx: ctx}
}

func isValidX509ID(id string) bool {
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // "eDUwOTo6" is "x509::" base64 encoded
}

// CurrentPrincipal returns the client identity ID of the transactor.
// It is the only source of the acting principal; operations never accept it as an argument.
func (pm *PrincipalManager) CurrentPrincipal() (string, error) {
	clientIdentity := pm.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	if len(id) > maxPrincipalLength {
		return "", fmt.Errorf("client identity ID exceeds max length %d", maxPrincipalLength)
	}
	if !isValidX509ID(id) {
		principalLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

// CurrentMSPID returns the MSP of the transactor, or an empty string when unavailable.
func (pm *PrincipalManager) CurrentMSPID() string {
	clientIdentity := pm.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return ""
	}
	mspID, err := clientIdentity.GetMSPID()
	if err != nil {
		principalLogger.Warningf("Could not determine MSPID for current caller: %v", err)
		return ""
	}
	return mspID
}

// IsRegistryAdmin checks the admin flag of principal.
func (pm *PrincipalManager) IsRegistryAdmin(principal string) (bool, error) {
	adminKey, err := createRegistryAdminCompositeKey(pm.Ctx, principal)
	if err != nil {
		return false, fmt.Errorf("failed to create admin key for '%s': %w", principal, err)
	}
	adminBytes, err := pm.Ctx.GetStub().GetState(adminKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking admin flag for '%s': %w", principal, err)
	}
	return adminBytes != nil, nil
}

// AnyAdminExists checks if any registry admin record is set on the ledger.
func (pm *PrincipalManager) AnyAdminExists() (bool, error) {
	iterator, err := pm.Ctx.GetStub().GetStateByPartialCompositeKey(registryAdminObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to query admin records: %w", err)
	}
	defer iterator.Close()
	return iterator.HasNext(), nil
}

// RequireRegistryAdmin returns the caller when it is a registry admin and ErrUnauthorized otherwise.
func (pm *PrincipalManager) RequireRegistryAdmin() (string, error) {
	caller, err := pm.CurrentPrincipal()
	if err != nil {
		return "", err
	}
	isAdmin, err := pm.IsRegistryAdmin(caller)
	if err != nil {
		return "", fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isAdmin {
		return "", fmt.Errorf("%w: caller '%s' is not a registry admin", ErrUnauthorized, caller)
	}
	return caller, nil
}

// Bootstrap makes the caller the first registry admin. It fails once any admin exists.
func (pm *PrincipalManager) Bootstrap() (*model.RegistryAdmin, error) {
	anyAdmin, err := pm.AnyAdminExists()
	if err != nil {
		return nil, err
	}
	if anyAdmin {
		return nil, fmt.Errorf("%w: registry is already bootstrapped", ErrUnauthorized)
	}

	caller, err := pm.CurrentPrincipal()
	if err != nil {
		return nil, err
	}
	now, err := getCurrentTxTimestamp(pm.Ctx)
	if err != nil {
		return nil, err
	}

	admin := &model.RegistryAdmin{
		ObjectType:   registryAdminObjectType,
		Principal:    caller,
		MSPID:        pm.CurrentMSPID(),
		RegisteredAt: now,
	}
	adminKey, err := createRegistryAdminCompositeKey(pm.Ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin key for '%s': %w", caller, err)
	}
	if err := putJSONState(pm.Ctx, adminKey, admin); err != nil {
		return nil, fmt.Errorf("failed to save registry admin '%s': %w", caller, err)
	}
	principalLogger.Infof("Registry bootstrapped: '%s' (MSP %s) is now the registry admin.", caller, admin.MSPID)
	return admin, nil
}
