package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"orgregistry/attest"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
// Every endorser sees the same value, so it is safe to record on the ledger.
func getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// orgIDAttribute zero-pads organization ids so composite key scans return them in numeric order.
func orgIDAttribute(orgID uint32) string {
	return fmt.Sprintf("%010d", orgID)
}

// --- Key Creation Helpers (using Composite Keys) ---

func createCommitmentsCompositeKey(ctx contractapi.TransactionContextInterface, principal string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(commitmentsObjectType, []string{principal})
}

func createOrganizationCompositeKey(ctx contractapi.TransactionContextInterface, orgID uint32) (string, error) {
	return ctx.GetStub().CreateCompositeKey(organizationObjectType, []string{orgIDAttribute(orgID)})
}

func createOrgCounterCompositeKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return ctx.GetStub().CreateCompositeKey(orgCounterObjectType, []string{"global"})
}

func createVerificationCompositeKey(ctx contractapi.TransactionContextInterface, principal string, orgID uint32) (string, error) {
	return ctx.GetStub().CreateCompositeKey(verificationObjectType, []string{principal, orgIDAttribute(orgID)})
}

func createRegistryAdminCompositeKey(ctx contractapi.TransactionContextInterface, principal string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(registryAdminObjectType, []string{principal})
}

func createVerifierKeyCompositeKey(ctx contractapi.TransactionContextInterface, verifierID string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(verifierKeyObjectType, []string{verifierID})
}

// --- State Helpers ---

// getJSONState loads key into out. It reports false when the key is absent.
func getJSONState(ctx contractapi.TransactionContextInterface, key string, out interface{}) (bool, error) {
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read state: %w", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return true, nil
}

func putJSONState(ctx contractapi.TransactionContextInterface, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// --- Validation Helper Functions ---

func validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

// parseHashArg decodes a 32-byte hex argument.
func parseHashArg(input, field string) (attest.Hash, error) {
	h, err := attest.ParseHash(input)
	if err != nil {
		return h, fmt.Errorf("%s must be 32 bytes of hex: %w", field, err)
	}
	return h, nil
}

// emitEvent sends a chaincode event. The event is part of the transaction result,
// so a failure here fails the transaction.
func emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload interface{}) error {
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for event '%s': %w", eventName, err)
	}
	if err := ctx.GetStub().SetEvent(eventName, eventBytes); err != nil {
		return fmt.Errorf("failed to set event '%s': %w", eventName, err)
	}
	logger.Debugf("Event '%s' emitted in tx '%s'", eventName, ctx.GetStub().GetTxID())
	return nil
}
