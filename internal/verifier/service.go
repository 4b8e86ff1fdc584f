// Package verifier checks Groth16 membership proofs and signs attestations the registry
// chaincode accepts in VerifyProof.
package verifier

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"orgregistry/attest"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru"
	"github.com/hyperledger/fabric/common/flogging"
	"github.com/raulk/clock"
)

var logger = flogging.MustGetLogger("orgregistry.verifier")

const (
	maxPrincipalLength     = 1024
	maxProofLength         = 16 << 10
	maxPublicWitnessLength = 4 << 10
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrProofRejected    = errors.New("proof rejected")
)

// Request asks for an attestation that Proof shows Principal is a member of OrgID under Root.
type Request struct {
	OrgID         uint32      `json:"orgId"`
	Principal     string      `json:"principal"`
	Root          attest.Hash `json:"root"`
	Proof         []byte      `json:"proof"`         // gnark binary Groth16 proof, base64 in JSON
	PublicWitness []byte      `json:"publicWitness"` // gnark binary public witness, base64 in JSON
}

// Response carries the VerifyProof arguments for the caller to submit.
type Response struct {
	ProofHash         attest.Hash `json:"proofHash"`
	PublicSignalsHash attest.Hash `json:"publicSignalsHash"`
	Attestation       string      `json:"attestation"`
	IssuedAt          int64       `json:"issuedAt"`
	VerifierID        string      `json:"verifierId"`
}

// Service verifies proofs against one verifying key and signs with one attestation key.
type Service struct {
	verifierID string
	vk         groth16.VerifyingKey
	signer     *ecdsa.PrivateKey
	pool       *workerpool.WorkerPool
	verified   *lru.ARCCache
	clock      clock.Clock
	metrics    *Metrics
}

type Option func(*Service)

// WithClock replaces the wall clock used for IssuedAt.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New builds a Service. workers bounds concurrent Groth16 verifications; cacheSize bounds the
// set of remembered verified proofs.
func New(verifierID string, vk groth16.VerifyingKey, signer *ecdsa.PrivateKey, workers, cacheSize int, metrics *Metrics, opts ...Option) (*Service, error) {
	if vk == nil {
		return nil, errors.New("a verifying key is required")
	}
	if signer == nil {
		return nil, errors.New("an attestation signing key is required")
	}
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create verified-proof cache: %w", err)
	}
	s := &Service{
		verifierID: verifierID,
		vk:         vk,
		signer:     signer,
		pool:       workerpool.New(workers),
		verified:   cache,
		clock:      clock.New(),
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close waits for in-flight verifications and stops the worker pool.
func (s *Service) Close() {
	s.pool.StopWait()
}

func (s *Service) VerifierID() string { return s.verifierID }

func validate(req *Request) error {
	switch {
	case req.Principal == "" || len(req.Principal) > maxPrincipalLength:
		return fmt.Errorf("%w: principal must be 1..%d bytes", ErrMalformedRequest, maxPrincipalLength)
	case len(req.Proof) == 0 || len(req.Proof) > maxProofLength:
		return fmt.Errorf("%w: proof must be 1..%d bytes", ErrMalformedRequest, maxProofLength)
	case len(req.PublicWitness) == 0 || len(req.PublicWitness) > maxPublicWitnessLength:
		return fmt.Errorf("%w: public witness must be 1..%d bytes", ErrMalformedRequest, maxPublicWitnessLength)
	}
	return nil
}

// cacheKey identifies a verified (proof, public inputs) pair.
func cacheKey(proofHash, signals attest.Hash) string {
	return proofHash.String() + "/" + signals.String()
}

// Attest verifies req and, on success, returns a signed attestation.
// It fails with ErrMalformedRequest or ErrProofRejected; any other error is internal.
func (s *Service) Attest(ctx context.Context, req *Request) (*Response, error) {
	resp, err := s.attest(ctx, req)
	switch {
	case err == nil:
		s.metrics.observe("issued")
	case errors.Is(err, ErrMalformedRequest):
		s.metrics.observe("malformed")
	case errors.Is(err, ErrProofRejected):
		s.metrics.observe("rejected")
	default:
		s.metrics.observe("error")
	}
	return resp, err
}

func (s *Service) attest(ctx context.Context, req *Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(req.Proof)); err != nil {
		return nil, fmt.Errorf("%w: decode proof: %v", ErrMalformedRequest, err)
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("create witness: %w", err)
	}
	if err := public.UnmarshalBinary(req.PublicWitness); err != nil {
		return nil, fmt.Errorf("%w: decode public witness: %v", ErrMalformedRequest, err)
	}
	if err := checkPublicWitness(public, ExpectedPublicInputs(req.Root, req.Principal, req.OrgID)); err != nil {
		return nil, err
	}

	proofHash := attest.Hash(sha256.Sum256(req.Proof))
	signals := attest.PublicSignalsHash(req.Root, req.Principal, req.OrgID)
	key := cacheKey(proofHash, signals)

	if s.verified.Contains(key) {
		s.metrics.CacheHits.Inc()
		logger.Debugf("proof %s for organization %d already verified", proofHash, req.OrgID)
	} else {
		if err := s.verify(ctx, proof, public); err != nil {
			return nil, err
		}
		s.verified.Add(key, struct{}{})
	}

	st := attest.Statement{
		VerifierID:        s.verifierID,
		OrgID:             req.OrgID,
		Principal:         req.Principal,
		Root:              req.Root,
		ProofHash:         proofHash,
		PublicSignalsHash: signals,
		IssuedAt:          s.clock.Now().Unix(),
	}
	att, err := attest.Sign(st, s.signer)
	if err != nil {
		return nil, err
	}
	encoded, err := att.Encode()
	if err != nil {
		return nil, err
	}
	logger.Infof("attested membership of principal in organization %d (proof %s)", req.OrgID, proofHash)
	return &Response{
		ProofHash:         proofHash,
		PublicSignalsHash: signals,
		Attestation:       encoded,
		IssuedAt:          st.IssuedAt,
		VerifierID:        s.verifierID,
	}, nil
}

// verify runs groth16.Verify on the worker pool, giving up when ctx ends.
func (s *Service) verify(ctx context.Context, proof groth16.Proof, public witness.Witness) error {
	done := make(chan error, 1)
	s.pool.Submit(func() {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		start := time.Now()
		err := groth16.Verify(proof, s.vk, public)
		s.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
		done <- err
	})

	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if err != nil {
			logger.Warningf("groth16 verification failed: %v", err)
			return fmt.Errorf("%w: %v", ErrProofRejected, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
