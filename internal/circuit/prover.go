package circuit

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Compile builds the constraint system for a tree of the given depth.
func Compile(depth int) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewMembership(depth))
	if err != nil {
		return nil, fmt.Errorf("compile membership circuit: %w", err)
	}
	return ccs, nil
}

// Keys holds a Groth16 key pair for one compiled circuit.
type Keys struct {
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
}

// Setup runs a single-party trusted setup. Suitable for development and tests only.
func Setup(depth int) (*Keys, error) {
	ccs, err := Compile(depth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return &Keys{CCS: ccs, ProvingKey: pk, VerifyingKey: vk}, nil
}

// Witness is everything a member needs to prove membership.
type Witness struct {
	Root      fr.Element
	Principal fr.Element
	OrgID     uint32
	Secret    fr.Element
	Siblings  []fr.Element
	PathBits  []uint
}

// WitnessFor assembles the witness for the leaf at index of tree.
func WitnessFor(tree *Tree, index int, secret, principal fr.Element, orgID uint32) (*Witness, error) {
	siblings, bits, err := tree.Path(index)
	if err != nil {
		return nil, err
	}
	return &Witness{
		Root:      tree.Root(),
		Principal: principal,
		OrgID:     orgID,
		Secret:    secret,
		Siblings:  siblings,
		PathBits:  bits,
	}, nil
}

func bigInt(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func (w *Witness) assignment() *Membership {
	c := NewMembership(len(w.Siblings))
	c.Root = bigInt(w.Root)
	c.Principal = bigInt(w.Principal)
	c.OrgID = w.OrgID
	c.Secret = bigInt(w.Secret)
	for i := range w.Siblings {
		c.Siblings[i] = bigInt(w.Siblings[i])
		c.PathBits[i] = w.PathBits[i]
	}
	return c
}

// Proof is the binary form handed to the verifier service.
type Proof struct {
	Proof         []byte
	PublicWitness []byte
}

// Prove produces a proof and its public witness, both in gnark binary encoding.
func (k *Keys) Prove(w *Witness) (*Proof, error) {
	full, err := frontend.NewWitness(w.assignment(), ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(k.CCS, k.ProvingKey, full)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}
	public, err := full.Public()
	if err != nil {
		return nil, fmt.Errorf("extract public witness: %w", err)
	}

	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	publicBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode public witness: %w", err)
	}
	return &Proof{Proof: proofBuf.Bytes(), PublicWitness: publicBytes}, nil
}
