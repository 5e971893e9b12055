package noncecrypt_test

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/noncecrypt"
)

// soloKeyPackage runs a trivial 1-of-1 DKG, enough to exercise
// SignRound1's real nonce derivation without needing a multi-party setup.
func soloKeyPackage(t *testing.T) curve.KeyPackage {
	t.Helper()
	id, err := curve.NewIdentifier(curve.Secp256k1Taproot, 0)
	require.NoError(t, err)
	poly, r1pkg, err := curve.DKGPart1(id, 1, 1, rand.Reader)
	require.NoError(t, err)
	kp, _, err := curve.DKGPart3(id, poly, map[uint16]curve.Round1Package{0: r1pkg}, nil)
	require.NoError(t, err)
	return kp
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	kp := soloKeyPackage(t)
	_, nonces, err := signRound1(t, kp)
	require.NoError(t, err)

	message := sha256.Sum256([]byte("withdraw 1 ETH"))
	blob, err := noncecrypt.Encrypt(key, message[:], nonces)
	require.NoError(t, err)

	decoded, err := noncecrypt.Decrypt(key, message[:], blob)
	require.NoError(t, err)
	assert.True(t, decoded.Hiding.Equal(nonces.Hiding))
	assert.True(t, decoded.Binding.Equal(nonces.Binding))
}

func TestDecryptRejectsWrongMessage(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	kp := soloKeyPackage(t)
	_, nonces, err := signRound1(t, kp)
	require.NoError(t, err)

	messageA := sha256.Sum256([]byte("withdraw 1 ETH"))
	messageB := sha256.Sum256([]byte("withdraw 100 ETH"))
	blob, err := noncecrypt.Encrypt(key, messageA[:], nonces)
	require.NoError(t, err)

	_, err = noncecrypt.Decrypt(key, messageB[:], blob)
	assert.ErrorIs(t, err, noncecrypt.ErrMessageMismatch)
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	kp := soloKeyPackage(t)
	_, nonces, err := signRound1(t, kp)
	require.NoError(t, err)

	message := sha256.Sum256([]byte("msg"))
	blob, err := noncecrypt.Encrypt(key, message[:], nonces)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = noncecrypt.Decrypt(key, message[:], blob)
	assert.Error(t, err)
}

func signRound1(t *testing.T, kp curve.KeyPackage) (curve.SigningCommitments, curve.SigningNonces, error) {
	t.Helper()
	nonces, commitments, err := curve.SignRound1(kp, rand.Reader)
	return commitments, nonces, err
}
