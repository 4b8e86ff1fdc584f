package contract

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"orgregistry/attest"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	alice = "x509::CN=alice,OU=client::CN=ca.org1.example.com"
	bob   = "x509::CN=bob,OU=client::CN=ca.org1.example.com"
	carol = "x509::CN=carol,OU=admin::CN=ca.org1.example.com"

	testVerifierID = "verifier-1"
)

// fakeIdentity satisfies cid.ClientIdentity for a fixed principal.
type fakeIdentity struct {
	id    string
	mspID string
}

func (f *fakeIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeIdentity) GetMSPID() (string, error) { return f.mspID, nil }
func (f *fakeIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeIdentity) AssertAttributeValue(name, value string) error {
	return errors.New("attribute not found")
}
func (f *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

// testLedger drives the contract against a MockStub, one mock transaction per call.
type testLedger struct {
	t        *testing.T
	stub     *shimtest.MockStub
	cc       *OrgRegistrySmartContract
	now      time.Time
	txSeq    int
	events   []*peer.ChaincodeEvent
	verifier *ecdsa.PrivateKey
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &testLedger{
		t:        t,
		stub:     shimtest.NewMockStub("orgregistry", nil),
		cc:       new(OrgRegistrySmartContract),
		now:      time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC),
		verifier: key,
	}
}

func (l *testLedger) advance(d time.Duration) { l.now = l.now.Add(d) }

// invoke runs fn inside a fresh mock transaction submitted by principal.
func (l *testLedger) invoke(principal string, fn func(ctx contractapi.TransactionContextInterface) error) error {
	l.txSeq++
	txID := fmt.Sprintf("tx-%04d", l.txSeq)
	l.stub.MockTransactionStart(txID)
	l.stub.TxTimestamp = timestamppb.New(l.now)
	defer l.stub.MockTransactionEnd(txID)

	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(l.stub)
	ctx.SetClientIdentity(&fakeIdentity{id: principal, mspID: "Org1MSP"})

	err := fn(ctx)
	l.drainEvents()
	return err
}

func (l *testLedger) drainEvents() {
	for {
		select {
		case ev := <-l.stub.ChaincodeEventsChannel:
			l.events = append(l.events, ev)
		default:
			return
		}
	}
}

// takeEvents returns and clears the events emitted since the last call.
func (l *testLedger) takeEvents() []*peer.ChaincodeEvent {
	out := l.events
	l.events = nil
	return out
}

// snapshot copies the world state so tests can assert a failed call changed nothing.
func (l *testLedger) snapshot() map[string]string {
	out := make(map[string]string, len(l.stub.State))
	for k, v := range l.stub.State {
		out[k] = string(v)
	}
	return out
}

func (l *testLedger) bootstrap(admin string) {
	l.t.Helper()
	require.NoError(l.t, l.invoke(admin, func(ctx contractapi.TransactionContextInterface) error {
		return l.cc.BootstrapRegistry(ctx)
	}))
	pemKey, err := attest.MarshalPublicKeyPEM(&l.verifier.PublicKey)
	require.NoError(l.t, err)
	require.NoError(l.t, l.invoke(admin, func(ctx contractapi.TransactionContextInterface) error {
		return l.cc.RegisterVerifierKey(ctx, testVerifierID, pemKey)
	}))
	l.takeEvents()
}

func (l *testLedger) createOrg(admin string) uint32 {
	l.t.Helper()
	var orgID uint32
	require.NoError(l.t, l.invoke(admin, func(ctx contractapi.TransactionContextInterface) error {
		var err error
		orgID, err = l.cc.CreateOrg(ctx)
		return err
	}))
	return orgID
}

func (l *testLedger) setRoot(admin string, orgID uint32, root attest.Hash) {
	l.t.Helper()
	require.NoError(l.t, l.invoke(admin, func(ctx contractapi.TransactionContextInterface) error {
		return l.cc.UpdateOrgRoot(ctx, orgID, root.String())
	}))
}

// proofFor builds the arguments a verifier service would hand to principal for orgID.
type proofArgs struct {
	proofHash   attest.Hash
	signals     attest.Hash
	attestation string
}

func (l *testLedger) proofFor(principal string, orgID uint32, root attest.Hash, proofHash attest.Hash) proofArgs {
	l.t.Helper()
	signals := attest.PublicSignalsHash(root, principal, orgID)
	st := attest.Statement{
		VerifierID:        testVerifierID,
		OrgID:             orgID,
		Principal:         principal,
		Root:              root,
		ProofHash:         proofHash,
		PublicSignalsHash: signals,
		IssuedAt:          l.now.Unix(),
	}
	return proofArgs{proofHash: proofHash, signals: signals, attestation: l.sign(st)}
}

func (l *testLedger) sign(st attest.Statement) string {
	l.t.Helper()
	att, err := attest.Sign(st, l.verifier)
	require.NoError(l.t, err)
	encoded, err := att.Encode()
	require.NoError(l.t, err)
	return encoded
}

func (l *testLedger) verify(principal string, orgID, fileID uint32, args proofArgs) error {
	return l.invoke(principal, func(ctx contractapi.TransactionContextInterface) error {
		return l.cc.VerifyProof(ctx, orgID, fileID, args.proofHash.String(), args.signals.String(), args.attestation)
	})
}

func fill(b byte) attest.Hash {
	var h attest.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func decodeEvent(t *testing.T, ev *peer.ChaincodeEvent, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Payload, out))
}
