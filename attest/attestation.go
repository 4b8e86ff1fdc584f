// Package attest defines the statement a proof verifier signs after checking a membership proof,
// and the checks the registry applies before trusting it.
package attest

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const statementDomain = "orgregistry/attestation/v1"

// DefaultValidity bounds how long after issuance an attestation may be recorded.
const DefaultValidity = 10 * time.Minute

// MaxClockSkew is how far IssuedAt may lie ahead of the transaction time. The two come from
// different hosts' clocks.
const MaxClockSkew = 30 * time.Second

var (
	ErrMalformed    = errors.New("malformed attestation")
	ErrBadSignature = errors.New("attestation signature does not verify")
	ErrExpired      = errors.New("attestation expired")
	ErrNotYetValid  = errors.New("attestation issued in the future")
)

// Statement is what a verifier asserts: the proof with ProofHash was checked against Root
// with public signals bound to Principal and OrgID.
type Statement struct {
	VerifierID        string `json:"verifierId"`
	OrgID             uint32 `json:"orgId"`
	Principal         string `json:"principal"`
	Root              Hash   `json:"root"`
	ProofHash         Hash   `json:"proofHash"`
	PublicSignalsHash Hash   `json:"publicSignalsHash"`
	IssuedAt          int64  `json:"issuedAt"` // Unix seconds
}

// Attestation is a signed Statement.
type Attestation struct {
	Statement Statement `json:"statement"`
	Signature []byte    `json:"signature"` // ASN.1 DER ECDSA signature over Digest()
}

// Digest is the canonical SHA-256 over the statement fields, each string length-prefixed.
func (s Statement) Digest() [32]byte {
	h := sha256.New()
	writeString := func(v string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(v)))
		h.Write(n[:])
		h.Write([]byte(v))
	}
	writeString(statementDomain)
	writeString(s.VerifierID)
	var org [4]byte
	binary.BigEndian.PutUint32(org[:], s.OrgID)
	h.Write(org[:])
	writeString(s.Principal)
	h.Write(s.Root[:])
	h.Write(s.ProofHash[:])
	h.Write(s.PublicSignalsHash[:])
	var issued [8]byte
	binary.BigEndian.PutUint64(issued[:], uint64(s.IssuedAt))
	h.Write(issued[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CheckFresh reports whether the statement may be accepted at now, tolerating MaxClockSkew.
func (s Statement) CheckFresh(now time.Time, validity time.Duration) error {
	issued := time.Unix(s.IssuedAt, 0)
	if issued.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: issued %s, now %s", ErrNotYetValid, issued.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if now.Sub(issued) > validity {
		return fmt.Errorf("%w: issued %s, validity %s", ErrExpired, issued.UTC().Format(time.RFC3339), validity)
	}
	return nil
}

// Sign produces an attestation over st with key.
func Sign(st Statement, key *ecdsa.PrivateKey) (*Attestation, error) {
	digest := st.Digest()
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation: %w", err)
	}
	return &Attestation{Statement: st, Signature: sig}, nil
}

// Verify checks the signature against pub.
func (a *Attestation) Verify(pub *ecdsa.PublicKey) error {
	if pub == nil {
		return fmt.Errorf("%w: no public key", ErrBadSignature)
	}
	digest := a.Statement.Digest()
	if !ecdsa.VerifyASN1(pub, digest[:], a.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Encode returns the base64 (standard, padded) JSON form passed to the chaincode.
func (a *Attestation) Encode() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attestation: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses the output of Encode.
func Decode(encoded string) (*Attestation, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var a Attestation
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if a.Statement.VerifierID == "" || len(a.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing verifier id or signature", ErrMalformed)
	}
	return &a, nil
}
