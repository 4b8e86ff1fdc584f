// Package circuit defines the Groth16 membership circuit over BN254 and the matching
// off-circuit Merkle tree.
//
// A member's identity commitment is MiMC(secret, principal), where principal is the SHA-256
// digest of the member's ledger identity reduced into the scalar field. The organization root
// is the MiMC Merkle root over those commitments. The public inputs are, in order,
// Root, Principal and OrgID.
package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// DefaultDepth supports organizations of up to 2^16 members.
const DefaultDepth = 16

// Membership proves knowledge of a secret whose commitment is a leaf under Root.
type Membership struct {
	Root      frontend.Variable `gnark:",public"`
	Principal frontend.Variable `gnark:",public"`
	OrgID     frontend.Variable `gnark:",public"`

	Secret   frontend.Variable
	Siblings []frontend.Variable
	PathBits []frontend.Variable // bit i set when the node at level i is a right child
}

// NewMembership returns an empty circuit shaped for a tree of the given depth.
func NewMembership(depth int) *Membership {
	return &Membership{
		Siblings: make([]frontend.Variable, depth),
		PathBits: make([]frontend.Variable, depth),
	}
}

func (c *Membership) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.Secret, c.Principal)
	node := h.Sum()

	for i := range c.Siblings {
		api.AssertIsBoolean(c.PathBits[i])
		left := api.Select(c.PathBits[i], c.Siblings[i], node)
		right := api.Select(c.PathBits[i], node, c.Siblings[i])
		h.Reset()
		h.Write(left, right)
		node = h.Sum()
	}
	api.AssertIsEqual(node, c.Root)

	// OrgID takes part in no other constraint; squaring it keeps it bound to the proof.
	api.Mul(c.OrgID, c.OrgID)
	return nil
}
