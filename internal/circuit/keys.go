package circuit

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
)

// KeyFiles names the on-disk artifacts of a setup.
type KeyFiles struct {
	ConstraintSystem string
	ProvingKey       string
	VerifyingKey     string
}

func writeFile(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(f)
	if _, err := w.WriteTo(buf); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readFile(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := r.ReadFrom(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Save writes the constraint system and both keys.
func (k *Keys) Save(files KeyFiles) error {
	if err := writeFile(files.ConstraintSystem, k.CCS); err != nil {
		return err
	}
	if err := writeFile(files.ProvingKey, k.ProvingKey); err != nil {
		return err
	}
	return writeFile(files.VerifyingKey, k.VerifyingKey)
}

// LoadKeys reads what Save wrote.
func LoadKeys(files KeyFiles) (*Keys, error) {
	k := &Keys{
		CCS:          groth16.NewCS(ecc.BN254),
		ProvingKey:   groth16.NewProvingKey(ecc.BN254),
		VerifyingKey: groth16.NewVerifyingKey(ecc.BN254),
	}
	if err := readFile(files.ConstraintSystem, k.CCS); err != nil {
		return nil, err
	}
	if err := readFile(files.ProvingKey, k.ProvingKey); err != nil {
		return nil, err
	}
	if err := readFile(files.VerifyingKey, k.VerifyingKey); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadVerifyingKey reads a verifying key written by Save.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFile(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}
