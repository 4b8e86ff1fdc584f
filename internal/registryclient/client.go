// Package registryclient invokes the registry chaincode through the Fabric gateway.
package registryclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"orgregistry/attest"
	"orgregistry/contract"
	"orgregistry/internal/platform/config"
	"orgregistry/model"

	fabconfig "github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
	"github.com/hyperledger/fabric-sdk-go/pkg/gateway"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("orgregistry.registryclient")

// Contract is the part of *gateway.Contract the services use.
type Contract interface {
	EvaluateTransaction(name string, args ...string) ([]byte, error)
	SubmitTransaction(name string, args ...string) ([]byte, error)
	RegisterEvent(eventFilter string) (fab.Registration, <-chan *fab.CCEvent, error)
	Unregister(registration fab.Registration)
}

// Client is a typed view of the registry chaincode.
type Client struct {
	contract Contract
	closeFn  func()
}

// New wraps an already connected contract.
func New(c Contract) *Client {
	return &Client{contract: c, closeFn: func() {}}
}

// Connect opens a gateway connection described by cfg.
func Connect(cfg config.Fabric) (*Client, error) {
	wallet, err := gateway.NewFileSystemWallet(cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("open wallet %s: %w", cfg.WalletPath, err)
	}
	if !wallet.Exists(cfg.Identity) {
		return nil, fmt.Errorf("identity %q not found in wallet %s", cfg.Identity, cfg.WalletPath)
	}
	gw, err := gateway.Connect(
		gateway.WithConfig(fabconfig.FromFile(filepath.Clean(cfg.ConnectionProfile))),
		gateway.WithIdentity(wallet, cfg.Identity),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to gateway: %w", err)
	}
	network, err := gw.GetNetwork(cfg.Channel)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("get network %s: %w", cfg.Channel, err)
	}
	logger.Infof("connected to chaincode %s on channel %s as %s", cfg.Chaincode, cfg.Channel, cfg.Identity)
	return &Client{contract: network.GetContract(cfg.Chaincode), closeFn: gw.Close}, nil
}

func (c *Client) Close() { c.closeFn() }

// registryErrors are matched against the chaincode's error text, which carries the code.
var registryErrors = []error{
	contract.ErrUnknownOrganization,
	contract.ErrInvalidProof,
	contract.ErrCounterOverflow,
	contract.ErrUnauthorized,
	contract.ErrMalformedPublicInput,
}

// classify makes errors.Is(err, contract.ErrX) work on gateway errors.
func classify(fn string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, code := range registryErrors {
		if strings.Contains(msg, code.Error()) {
			return fmt.Errorf("%s: %w: %v", fn, code, err)
		}
	}
	return fmt.Errorf("%s: %w", fn, err)
}

func (c *Client) submit(fn string, args ...string) ([]byte, error) {
	out, err := c.contract.SubmitTransaction(fn, args...)
	return out, classify(fn, err)
}

func (c *Client) evaluate(fn string, out interface{}, args ...string) error {
	raw, err := c.contract.EvaluateTransaction(fn, args...)
	if err != nil {
		return classify(fn, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", fn, err)
	}
	return nil
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

// --- Transactions ---

func (c *Client) BootstrapRegistry() error {
	_, err := c.submit("BootstrapRegistry")
	return err
}

func (c *Client) RegisterVerifierKey(verifierID, publicKeyPEM string) error {
	_, err := c.submit("RegisterVerifierKey", verifierID, publicKeyPEM)
	return err
}

func (c *Client) RevokeVerifierKey(verifierID string) error {
	_, err := c.submit("RevokeVerifierKey", verifierID)
	return err
}

func (c *Client) RegisterIdentity(commitment attest.Hash) error {
	_, err := c.submit("RegisterIdentity", commitment.String())
	return err
}

func (c *Client) CreateOrg() (uint32, error) {
	out, err := c.submit("CreateOrg")
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("CreateOrg: unexpected response %q: %w", out, err)
	}
	return uint32(id), nil
}

func (c *Client) UpdateOrgRoot(orgID uint32, root attest.Hash) error {
	_, err := c.submit("UpdateOrgRoot", u32(orgID), root.String())
	return err
}

// VerifyProof submits the arguments a verifier service returned.
func (c *Client) VerifyProof(orgID, fileID uint32, proofHash, publicSignalsHash attest.Hash, attestation string) error {
	_, err := c.submit("VerifyProof", u32(orgID), u32(fileID), proofHash.String(), publicSignalsHash.String(), attestation)
	return err
}

// --- Queries ---

func (c *Client) GetIdentityCommitments(principal string) ([]string, error) {
	var out []string
	err := c.evaluate("GetIdentityCommitments", &out, principal)
	return out, err
}

func (c *Client) GetOrgRoot(orgID uint32) (*model.OrgRootView, error) {
	out := &model.OrgRootView{}
	if err := c.evaluate("GetOrgRoot", out, u32(orgID)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetOrganization(orgID uint32) (*model.Organization, error) {
	out := &model.Organization{}
	if err := c.evaluate("GetOrganization", out, u32(orgID)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListOrganizations(offset, pageSize uint32) (*model.PaginatedOrganizationResponse, error) {
	out := &model.PaginatedOrganizationResponse{}
	if err := c.evaluate("ListOrganizations", out, u32(offset), u32(pageSize)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUserOrgs(principal string) ([]uint32, error) {
	var out []uint32
	err := c.evaluate("GetUserOrgs", &out, principal)
	return out, err
}

func (c *Client) GetLatestVerification(principal string, orgID uint32) (*model.LatestVerification, error) {
	out := &model.LatestVerification{}
	if err := c.evaluate("GetLatestVerification", out, principal, u32(orgID)); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestVerification reads the ledger directly; it lets the access service run without an index.
func (c *Client) LatestVerification(ctx context.Context, principal string, orgID uint32) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	latest, err := c.GetLatestVerification(principal, orgID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Found {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(latest.UnixMillis).UTC(), true, nil
}

// OrgAdmin reports the principal recorded as admin of orgID; found is false for ids never allocated.
func (c *Client) OrgAdmin(ctx context.Context, orgID uint32) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	org, err := c.GetOrganization(orgID)
	if errors.Is(err, contract.ErrUnknownOrganization) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return org.Admin, true, nil
}

// --- Events ---

// RegisterEvent subscribes to chaincode events whose name matches filter (a regular expression).
func (c *Client) RegisterEvent(filter string) (fab.Registration, <-chan *fab.CCEvent, error) {
	reg, ch, err := c.contract.RegisterEvent(filter)
	if err != nil {
		return nil, nil, fmt.Errorf("register event filter %q: %w", filter, err)
	}
	return reg, ch, nil
}

func (c *Client) Unregister(reg fab.Registration) {
	c.contract.Unregister(reg)
}

// IsRegistryError reports whether err carries one of the registry error codes.
func IsRegistryError(err error) bool {
	for _, code := range registryErrors {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}
