package circuit

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

var (
	keysOnce sync.Once
	keys     *Keys
	keysErr  error
)

func testKeys(t *testing.T) *Keys {
	t.Helper()
	keysOnce.Do(func() { keys, keysErr = Setup(testDepth) })
	require.NoError(t, keysErr)
	return keys
}

func element(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func memberTree(t *testing.T, secrets []fr.Element, principals []fr.Element) *Tree {
	t.Helper()
	leaves := make([]fr.Element, len(secrets))
	for i := range secrets {
		leaves[i] = Commitment(secrets[i], principals[i])
	}
	tree, err := NewTree(testDepth, leaves)
	require.NoError(t, err)
	return tree
}

func verify(t *testing.T, k *Keys, p *Proof) error {
	t.Helper()
	proof := groth16.NewProof(ecc.BN254)
	_, err := proof.ReadFrom(bytes.NewReader(p.Proof))
	require.NoError(t, err)
	public, err := witness.New(ecc.BN254.ScalarField())
	require.NoError(t, err)
	require.NoError(t, public.UnmarshalBinary(p.PublicWitness))
	return groth16.Verify(proof, k.VerifyingKey, public)
}

func TestTreePathsRecomputeRoot(t *testing.T) {
	leaves := []fr.Element{element(11), element(12), element(13)}
	tree, err := NewTree(testDepth, leaves)
	require.NoError(t, err)

	for i := range leaves {
		siblings, bits, err := tree.Path(i)
		require.NoError(t, err)
		node := leaves[i]
		for lvl := range siblings {
			if bits[lvl] == 1 {
				node = hashPair(siblings[lvl], node)
			} else {
				node = hashPair(node, siblings[lvl])
			}
		}
		root := tree.Root()
		assert.True(t, node.Equal(&root), "leaf %d", i)
	}

	_, _, err = tree.Path(3)
	assert.ErrorIs(t, err, ErrLeafIndex)
}

func TestNewTreeRejectsOverflow(t *testing.T) {
	_, err := NewTree(1, []fr.Element{element(1), element(2), element(3)})
	assert.Error(t, err)
	_, err = NewTree(0, nil)
	assert.Error(t, err)
}

func TestEmptyTreeRootIsStable(t *testing.T) {
	a, err := NewTree(testDepth, nil)
	require.NoError(t, err)
	b, err := NewTree(testDepth, []fr.Element{{}})
	require.NoError(t, err)
	ra, rb := a.Root(), b.Root()
	assert.True(t, ra.Equal(&rb))
}

func TestMembershipProofVerifies(t *testing.T) {
	k := testKeys(t)
	secrets := []fr.Element{element(101), element(202), element(303)}
	principals := []fr.Element{element(1), element(2), element(3)}
	tree := memberTree(t, secrets, principals)

	w, err := WitnessFor(tree, 1, secrets[1], principals[1], 7)
	require.NoError(t, err)
	proof, err := k.Prove(w)
	require.NoError(t, err)

	assert.NoError(t, verify(t, k, proof))
}

func TestMembershipProofRequiresKnownSecret(t *testing.T) {
	k := testKeys(t)
	secrets := []fr.Element{element(101), element(202)}
	principals := []fr.Element{element(1), element(2)}
	tree := memberTree(t, secrets, principals)

	// Right path, wrong principal: the leaf recomputed in the circuit is not in the tree.
	w, err := WitnessFor(tree, 0, secrets[0], principals[1], 7)
	require.NoError(t, err)
	_, err = k.Prove(w)
	assert.Error(t, err)
}

func TestKeysRoundTripThroughFiles(t *testing.T) {
	k := testKeys(t)
	dir := t.TempDir()
	files := KeyFiles{
		ConstraintSystem: filepath.Join(dir, "membership.ccs"),
		ProvingKey:       filepath.Join(dir, "membership.pk"),
		VerifyingKey:     filepath.Join(dir, "membership.vk"),
	}
	require.NoError(t, k.Save(files))

	loaded, err := LoadKeys(files)
	require.NoError(t, err)

	secrets := []fr.Element{element(5)}
	principals := []fr.Element{element(6)}
	tree := memberTree(t, secrets, principals)
	w, err := WitnessFor(tree, 0, secrets[0], principals[0], 1)
	require.NoError(t, err)
	proof, err := loaded.Prove(w)
	require.NoError(t, err)

	vk, err := LoadVerifyingKey(files.VerifyingKey)
	require.NoError(t, err)
	assert.NoError(t, verify(t, &Keys{VerifyingKey: vk}, proof))
}
