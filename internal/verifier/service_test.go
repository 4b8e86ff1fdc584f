package verifier

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"orgregistry/attest"
	"orgregistry/internal/circuit"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	testDepth = 4
	testOrg   = uint32(3)
	alice     = "x509::CN=alice,OU=client::CN=ca.org1.example.com"
	bob       = "x509::CN=bob,OU=client::CN=ca.org1.example.com"
)

var (
	keysOnce sync.Once
	keys     *circuit.Keys
	keysErr  error
)

// member is a tree participant with a ready proof.
type member struct {
	principal string
	proof     *circuit.Proof
}

type ServiceSuite struct {
	suite.Suite
	svc     *Service
	signer  *ecdsa.PrivateKey
	clock   *clock.Mock
	metrics *Metrics
	root    attest.Hash
	alice   member
	bob     member
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func principalElement(principal string) fr.Element {
	return circuit.FieldElement(attest.PrincipalDigest(principal))
}

func (s *ServiceSuite) SetupSuite() {
	keysOnce.Do(func() { keys, keysErr = circuit.Setup(testDepth) })
	s.Require().NoError(keysErr)

	var secretA, secretB fr.Element
	secretA.SetUint64(4242)
	secretB.SetUint64(777)
	pa, pb := principalElement(alice), principalElement(bob)
	tree, err := circuit.NewTree(testDepth, []fr.Element{circuit.Commitment(secretA, pa), circuit.Commitment(secretB, pb)})
	s.Require().NoError(err)
	rootElem := tree.Root()
	s.root = attest.Hash(rootElem.Bytes())

	prove := func(index int, secret, principal fr.Element) *circuit.Proof {
		w, err := circuit.WitnessFor(tree, index, secret, principal, testOrg)
		s.Require().NoError(err)
		p, err := keys.Prove(w)
		s.Require().NoError(err)
		return p
	}
	s.alice = member{principal: alice, proof: prove(0, secretA, pa)}
	s.bob = member{principal: bob, proof: prove(1, secretB, pb)}
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	s.Require().NoError(err)
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.svc, err = New("verifier-test", keys.VerifyingKey, s.signer, 2, 16, s.metrics, WithClock(s.clock))
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.svc.Close()
}

func (s *ServiceSuite) request(m member) *Request {
	return &Request{
		OrgID:         testOrg,
		Principal:     m.principal,
		Root:          s.root,
		Proof:         append([]byte(nil), m.proof.Proof...),
		PublicWitness: append([]byte(nil), m.proof.PublicWitness...),
	}
}

func (s *ServiceSuite) TestAttestIssuesVerifiableStatement() {
	resp, err := s.svc.Attest(context.Background(), s.request(s.alice))
	s.Require().NoError(err)

	s.Equal(attest.PublicSignalsHash(s.root, alice, testOrg), resp.PublicSignalsHash)
	s.Equal(s.clock.Now().Unix(), resp.IssuedAt)
	s.Equal("verifier-test", resp.VerifierID)

	att, err := attest.Decode(resp.Attestation)
	s.Require().NoError(err)
	s.NoError(att.Verify(&s.signer.PublicKey))
	s.Equal(attest.Statement{
		VerifierID:        "verifier-test",
		OrgID:             testOrg,
		Principal:         alice,
		Root:              s.root,
		ProofHash:         resp.ProofHash,
		PublicSignalsHash: resp.PublicSignalsHash,
		IssuedAt:          resp.IssuedAt,
	}, att.Statement)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Attestations.WithLabelValues("issued")))
}

func (s *ServiceSuite) TestAttestCachesVerifiedProofs() {
	_, err := s.svc.Attest(context.Background(), s.request(s.alice))
	s.Require().NoError(err)
	s.clock.Add(time.Minute)
	resp, err := s.svc.Attest(context.Background(), s.request(s.alice))
	s.Require().NoError(err)

	s.Equal(s.clock.Now().Unix(), resp.IssuedAt)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheHits))
}

func (s *ServiceSuite) TestAttestRejectsMismatchedPublicInputs() {
	cases := map[string]func(r *Request){
		"other principal": func(r *Request) { r.Principal = bob },
		"other org":       func(r *Request) { r.OrgID = testOrg + 1 },
		"other root":      func(r *Request) { r.Root[0] ^= 0xff },
	}
	for name, mutate := range cases {
		req := s.request(s.alice)
		mutate(req)
		_, err := s.svc.Attest(context.Background(), req)
		s.ErrorIs(err, ErrProofRejected, name)
	}
	s.Equal(3.0, testutil.ToFloat64(s.metrics.Attestations.WithLabelValues("rejected")))
}

func (s *ServiceSuite) TestAttestRejectsProofForAnotherWitness() {
	// Bob's public inputs with Alice's proof: the witness matches the request, the proof does not.
	req := s.request(s.bob)
	req.Proof = append([]byte(nil), s.alice.proof.Proof...)

	_, err := s.svc.Attest(context.Background(), req)
	s.ErrorIs(err, ErrProofRejected)
}

func (s *ServiceSuite) TestAttestRejectsMalformedRequests() {
	cases := map[string]func(r *Request){
		"no principal":    func(r *Request) { r.Principal = "" },
		"no proof":        func(r *Request) { r.Proof = nil },
		"garbage proof":   func(r *Request) { r.Proof = []byte{1, 2, 3} },
		"no witness":      func(r *Request) { r.PublicWitness = nil },
		"garbage witness": func(r *Request) { r.PublicWitness = []byte{0, 0, 0} },
		"oversized proof": func(r *Request) { r.Proof = make([]byte, maxProofLength+1) },
	}
	for name, mutate := range cases {
		req := s.request(s.alice)
		mutate(req)
		_, err := s.svc.Attest(context.Background(), req)
		s.ErrorIs(err, ErrMalformedRequest, name)
	}
}

func (s *ServiceSuite) TestAttestHonoursCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.svc.Attest(ctx, s.request(s.bob))
	s.ErrorIs(err, context.Canceled)
}

func TestNewRequiresKeys(t *testing.T) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	m := NewMetrics(prometheus.NewRegistry())

	_, err = New("v", nil, signer, 1, 1, m)
	assert.Error(t, err)

	keysOnce.Do(func() { keys, keysErr = circuit.Setup(testDepth) })
	require.NoError(t, keysErr)
	_, err = New("v", keys.VerifyingKey, nil, 1, 1, m)
	assert.Error(t, err)
}

func TestExpectedPublicInputsOrder(t *testing.T) {
	root := attest.Hash{1}
	v := ExpectedPublicInputs(root, alice, 9)
	require.Len(t, v, 3)
	want := principalElement(alice)
	assert.True(t, v[1].Equal(&want))
	assert.Equal(t, uint64(9), v[2].Uint64())
}
