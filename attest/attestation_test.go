package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func sampleStatement(now time.Time) Statement {
	root := Hash{2, 2, 2}
	return Statement{
		VerifierID:        "verifier-1",
		OrgID:             0,
		Principal:         "x509::CN=alice",
		Root:              root,
		ProofHash:         Hash{9},
		PublicSignalsHash: PublicSignalsHash(root, "x509::CN=alice", 0),
		IssuedAt:          now.Unix(),
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := newKey(t)
	att, err := Sign(sampleStatement(time.Now()), key)
	require.NoError(t, err)

	encoded, err := att.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, att.Statement, decoded.Statement)
	assert.NoError(t, decoded.Verify(&key.PublicKey))
}

func TestVerifyRejectsTamperedStatement(t *testing.T) {
	key := newKey(t)
	att, err := Sign(sampleStatement(time.Now()), key)
	require.NoError(t, err)

	att.Statement.OrgID = 1
	assert.ErrorIs(t, att.Verify(&key.PublicKey), ErrBadSignature)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	att, err := Sign(sampleStatement(time.Now()), newKey(t))
	require.NoError(t, err)
	assert.ErrorIs(t, att.Verify(&newKey(t).PublicKey), ErrBadSignature)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not base64!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode("e30=") // "{}"
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCheckFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := sampleStatement(now)

	assert.NoError(t, st.CheckFresh(now, DefaultValidity))
	assert.NoError(t, st.CheckFresh(now.Add(DefaultValidity), DefaultValidity))
	assert.ErrorIs(t, st.CheckFresh(now.Add(DefaultValidity+time.Second), DefaultValidity), ErrExpired)
	assert.ErrorIs(t, st.CheckFresh(now.Add(-MaxClockSkew-time.Second), DefaultValidity), ErrNotYetValid)
}

func TestCheckFreshToleratesClockSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := sampleStatement(now)

	// The submitting client's clock runs behind the verifier's.
	assert.NoError(t, st.CheckFresh(now.Add(-time.Second), DefaultValidity))
	assert.NoError(t, st.CheckFresh(now.Add(-MaxClockSkew), DefaultValidity))
	assert.ErrorIs(t, st.CheckFresh(now.Add(-MaxClockSkew-time.Second), DefaultValidity), ErrNotYetValid)
}

func TestPublicSignalsHashBindsEveryInput(t *testing.T) {
	root := Hash{1}
	base := PublicSignalsHash(root, "alice", 3)

	assert.Equal(t, base, PublicSignalsHash(root, "alice", 3))
	assert.NotEqual(t, base, PublicSignalsHash(Hash{2}, "alice", 3))
	assert.NotEqual(t, base, PublicSignalsHash(root, "bob", 3))
	assert.NotEqual(t, base, PublicSignalsHash(root, "alice", 4))
}

func TestParseHash(t *testing.T) {
	want := Hash{0xab, 0xcd}
	got, err := ParseHash("0x" + want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseHash("abcd")
	assert.Error(t, err)
	_, err = ParseHash("zz" + want.String()[2:])
	assert.Error(t, err)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	key := newKey(t)
	pemStr, err := MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePublicKeyPEM(pemStr)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParsePublicKeyPEM("-----BEGIN NOTHING-----")
	assert.Error(t, err)
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	key := newKey(t)
	encoded, err := MarshalPrivateKeyPEM(key)
	require.NoError(t, err)

	parsed, err := ParsePrivateKeyPEM(encoded)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(key))
}
