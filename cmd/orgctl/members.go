package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"orgregistry/attest"
	"orgregistry/internal/circuit"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var errNotAMember = errors.New("principal is not in the member list")

type commitmentReader interface {
	GetIdentityCommitments(principal string) ([]string, error)
}

// readMembers parses one principal per line; blank lines and #-comments are skipped.
func readMembers(r io.Reader) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			return nil, fmt.Errorf("duplicate member %q", line)
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("member list is empty")
	}
	return out, nil
}

func readMembersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readMembers(f)
}

// memberTree builds the organization tree from each member's most recent commitment, in list order.
func memberTree(reg commitmentReader, members []string, depth int) (*circuit.Tree, []attest.Hash, error) {
	commitments := make([]attest.Hash, 0, len(members))
	leaves := make([]fr.Element, 0, len(members))
	for _, m := range members {
		history, err := reg.GetIdentityCommitments(m)
		if err != nil {
			return nil, nil, fmt.Errorf("commitments of %s: %w", m, err)
		}
		if len(history) == 0 {
			return nil, nil, fmt.Errorf("member %s has not registered an identity commitment", m)
		}
		h, err := attest.ParseHash(history[len(history)-1])
		if err != nil {
			return nil, nil, fmt.Errorf("commitment of %s: %w", m, err)
		}
		commitments = append(commitments, h)
		leaves = append(leaves, circuit.FieldElement(h))
	}
	tree, err := circuit.NewTree(depth, leaves)
	if err != nil {
		return nil, nil, err
	}
	return tree, commitments, nil
}

func principalElement(principal string) fr.Element {
	return circuit.FieldElement(attest.PrincipalDigest(principal))
}

func commitmentOf(secret attest.Hash, principal string) attest.Hash {
	c := circuit.Commitment(circuit.FieldElement(secret), principalElement(principal))
	return attest.Hash(c.Bytes())
}

// leafIndex finds principal's leaf and checks it holds the commitment derived from the caller's secret.
func leafIndex(members []string, commitments []attest.Hash, principal string, own attest.Hash) (int, error) {
	for i, m := range members {
		if m != principal {
			continue
		}
		if commitments[i] != own {
			return 0, errors.New("the latest registered commitment was not derived from this secret")
		}
		return i, nil
	}
	return 0, errNotAMember
}

func rootHash(t *circuit.Tree) attest.Hash {
	root := t.Root()
	return attest.Hash(root.Bytes())
}
