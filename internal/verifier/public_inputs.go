package verifier

import (
	"fmt"

	"orgregistry/attest"
	"orgregistry/internal/circuit"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/witness"
)

// ExpectedPublicInputs is the public witness a membership proof must carry:
// root, SHA-256(principal) and the organization id, each reduced into the scalar field.
func ExpectedPublicInputs(root attest.Hash, principal string, orgID uint32) fr.Vector {
	var org fr.Element
	org.SetUint64(uint64(orgID))
	return fr.Vector{
		circuit.FieldElement(root),
		circuit.FieldElement(attest.PrincipalDigest(principal)),
		org,
	}
}

// checkPublicWitness fails with ErrProofRejected unless w is exactly expected.
func checkPublicWitness(w witness.Witness, expected fr.Vector) error {
	got, ok := w.Vector().(fr.Vector)
	if !ok {
		return fmt.Errorf("%w: public witness is not over BN254", ErrMalformedRequest)
	}
	if len(got) != len(expected) {
		return fmt.Errorf("%w: public witness has %d values, want %d", ErrProofRejected, len(got), len(expected))
	}
	names := [...]string{"root", "principal", "orgId"}
	for i := range expected {
		if !got[i].Equal(&expected[i]) {
			return fmt.Errorf("%w: public input %s does not match the request", ErrProofRejected, names[i])
		}
	}
	return nil
}
