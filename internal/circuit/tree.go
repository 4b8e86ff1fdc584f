package circuit

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

var ErrLeafIndex = errors.New("leaf index out of range")

// FieldElement reduces a 32-byte big-endian value into the scalar field.
func FieldElement(b [32]byte) fr.Element {
	var e fr.Element
	e.SetBytes(b[:])
	return e
}

func hashPair(a, b fr.Element) fr.Element {
	h := mimc.NewMiMC()
	ab, bb := a.Bytes(), b.Bytes()
	// Inputs are canonical field elements, so Write cannot fail.
	_, _ = h.Write(ab[:])
	_, _ = h.Write(bb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Commitment is the leaf a member publishes: MiMC(secret, principal).
func Commitment(secret, principal fr.Element) fr.Element {
	return hashPair(secret, principal)
}

// Tree is a fixed-depth MiMC Merkle tree. Empty positions hold zero.
type Tree struct {
	depth  int
	levels [][]fr.Element // levels[0] are the leaves
}

// NewTree builds a tree of the given depth over leaves.
func NewTree(depth int, leaves []fr.Element) (*Tree, error) {
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("unsupported tree depth %d", depth)
	}
	if len(leaves) > 1<<depth {
		return nil, fmt.Errorf("%d leaves do not fit a tree of depth %d", len(leaves), depth)
	}

	t := &Tree{depth: depth, levels: make([][]fr.Element, depth+1)}
	t.levels[0] = append([]fr.Element(nil), leaves...)

	// Zero subtrees stand in for the unpopulated right-hand side of every level.
	zero := fr.Element{}
	for lvl := 0; lvl < depth; lvl++ {
		cur := t.levels[lvl]
		next := make([]fr.Element, (len(cur)+1)/2)
		for i := range next {
			left := cur[2*i]
			right := zero
			if 2*i+1 < len(cur) {
				right = cur[2*i+1]
			}
			next[i] = hashPair(left, right)
		}
		if len(next) == 0 {
			next = []fr.Element{hashPair(zero, zero)}
		}
		t.levels[lvl+1] = next
		zero = hashPair(zero, zero)
	}
	return t, nil
}

func (t *Tree) Depth() int { return t.depth }

// Root returns the tree root.
func (t *Tree) Root() fr.Element {
	return t.levels[t.depth][0]
}

// Path returns the siblings and direction bits from leaf index up to the root.
func (t *Tree) Path(index int) ([]fr.Element, []uint, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, nil, fmt.Errorf("%w: %d of %d", ErrLeafIndex, index, len(t.levels[0]))
	}
	siblings := make([]fr.Element, t.depth)
	bits := make([]uint, t.depth)

	zero := fr.Element{}
	pos := index
	for lvl := 0; lvl < t.depth; lvl++ {
		sib := pos ^ 1
		if sib < len(t.levels[lvl]) {
			siblings[lvl] = t.levels[lvl][sib]
		} else {
			siblings[lvl] = zero
		}
		bits[lvl] = uint(pos & 1)
		pos >>= 1
		zero = hashPair(zero, zero)
	}
	return siblings, bits, nil
}
