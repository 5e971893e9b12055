package storage_test

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/storage"
)

func soloPackages(t *testing.T, tag curve.Tag) (curve.KeyPackage, curve.PublicKeyPackage) {
	t.Helper()
	id, err := curve.NewIdentifier(tag, 0)
	require.NoError(t, err)
	poly, r1pkg, err := curve.DKGPart1(id, 1, 1, rand.Reader)
	require.NoError(t, err)
	kp, pkp, err := curve.DKGPart3(id, poly, map[uint16]curve.Round1Package{0: r1pkg}, nil)
	require.NoError(t, err)
	return kp, pkp
}

func openStore(t *testing.T, enc storage.Encryptor) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shares.db")
	s, err := storage.Open(path, enc, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndGetKeyPackage(t *testing.T) {
	s := openStore(t, nil)
	kp, pkp := soloPackages(t, curve.Secp256k1Taproot)

	require.NoError(t, s.StoreKeyPackage(curve.Secp256k1Taproot, "alice", kp))
	require.NoError(t, s.StorePubkeyPackage(curve.Secp256k1Taproot, "alice", pkp))

	got, ok, err := s.GetKeyPackage(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.VerifyingKey.Equal(kp.VerifyingKey))

	_, ok, err = s.GetKeyPackage(curve.Secp256k1Taproot, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassphrasesAreIsolatedAcrossCurves(t *testing.T) {
	s := openStore(t, nil)
	kpBTC, pkpBTC := soloPackages(t, curve.Secp256k1Taproot)
	kpEd, pkpEd := soloPackages(t, curve.Ed25519)
	require.NoError(t, s.FinalizeDKG(curve.Secp256k1Taproot, "alice", kpBTC, pkpBTC))
	require.NoError(t, s.FinalizeDKG(curve.Ed25519, "alice", kpEd, pkpEd))

	gotBTC, ok, err := s.GetKeyPackage(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	gotEd, ok, err := s.GetKeyPackage(curve.Ed25519, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, gotBTC.VerifyingKey.Equal(gotEd.VerifyingKey))
}

func TestFinalizeDKGAndPartialDetection(t *testing.T) {
	s := openStore(t, nil)
	kp, pkp := soloPackages(t, curve.Secp256k1Taproot)

	partial, err := s.PartialDKG(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.False(t, partial, "no records yet is not a partial DKG")

	// simulate a crash between the two writes FinalizeDKG performs
	require.NoError(t, s.StorePubkeyPackage(curve.Secp256k1Taproot, "alice", pkp))
	partial, err = s.PartialDKG(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.True(t, partial)

	require.NoError(t, s.StoreKeyPackage(curve.Secp256k1Taproot, "alice", kp))
	partial, err = s.PartialDKG(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.False(t, partial)
}

func TestHasPassphrase(t *testing.T) {
	s := openStore(t, nil)
	assert.False(t, s.HasPassphrase(curve.Secp256k1Taproot, "alice"))
	kp, pkp := soloPackages(t, curve.Secp256k1Taproot)
	require.NoError(t, s.FinalizeDKG(curve.Secp256k1Taproot, "alice", kp, pkp))
	assert.True(t, s.HasPassphrase(curve.Secp256k1Taproot, "alice"))
}

func TestListPassphrases(t *testing.T) {
	s := openStore(t, nil)
	kp1, pkp1 := soloPackages(t, curve.Secp256k1Taproot)
	kp2, pkp2 := soloPackages(t, curve.Secp256k1Taproot)
	require.NoError(t, s.FinalizeDKG(curve.Secp256k1Taproot, "alice", kp1, pkp1))
	require.NoError(t, s.FinalizeDKG(curve.Secp256k1Taproot, "bob", kp2, pkp2))

	names, err := s.ListPassphrases(curve.Secp256k1Taproot)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

type stubEncryptor struct{}

func (stubEncryptor) Seal(passphrase string, plaintext []byte) ([]byte, error) {
	out := append([]byte{}, plaintext...)
	for i := range out {
		out[i] ^= 0x42
	}
	return out, nil
}

func (stubEncryptor) Open(passphrase string, ciphertext []byte) ([]byte, error) {
	return stubEncryptor{}.Seal(passphrase, ciphertext)
}

func TestAtRestEncryptionRoundTrip(t *testing.T) {
	s := openStore(t, stubEncryptor{})
	kp, pkp := soloPackages(t, curve.Secp256k1Taproot)
	require.NoError(t, s.FinalizeDKG(curve.Secp256k1Taproot, "alice", kp, pkp))

	got, ok, err := s.GetKeyPackage(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.VerifyingKey.Equal(kp.VerifyingKey))
}
