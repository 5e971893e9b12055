package curve_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmatching/frost-custody/internal/curve"
)

// runDKG drives a full 2-of-3 DKG ceremony in-process for tag and returns
// every participant's KeyPackage plus the shared PublicKeyPackage.
func runDKG(t *testing.T, tag curve.Tag) (map[uint16]curve.KeyPackage, curve.PublicKeyPackage) {
	t.Helper()
	const n, thresh = 3, 2

	ids := make([]curve.Identifier, n)
	polys := make(map[uint16]*curve.Polynomial, n)
	round1 := make(map[uint16]curve.Round1Package, n)
	for i := 0; i < n; i++ {
		id, err := curve.NewIdentifier(tag, uint16(i))
		require.NoError(t, err)
		ids[i] = id
		poly, pkg, err := curve.DKGPart1(id, thresh, n, rand.Reader)
		require.NoError(t, err)
		polys[uint16(i)] = poly
		round1[uint16(i)] = pkg
	}

	round2 := make(map[uint16]map[uint16]curve.Round2Package, n) // sender -> recipient -> package
	for i := 0; i < n; i++ {
		out, err := curve.DKGPart2(ids[i], polys[uint16(i)], round1)
		require.NoError(t, err)
		round2[uint16(i)] = out
	}

	keyPackages := make(map[uint16]curve.KeyPackage, n)
	var pubkeyPackage curve.PublicKeyPackage
	for i := 0; i < n; i++ {
		incoming := make(map[uint16]curve.Round2Package, n-1)
		for sender := 0; sender < n; sender++ {
			if sender == i {
				continue
			}
			incoming[uint16(sender)] = round2[uint16(sender)][uint16(i)]
		}
		kp, pkp, err := curve.DKGPart3(ids[i], polys[uint16(i)], round1, incoming)
		require.NoError(t, err)
		keyPackages[uint16(i)] = kp
		if i == 0 {
			pubkeyPackage = pkp
		} else {
			assert.True(t, pubkeyPackage.VerifyingKey.Equal(pkp.VerifyingKey), "all participants must agree on the group verifying key")
		}
	}
	return keyPackages, pubkeyPackage
}

func signWith(t *testing.T, tag curve.Tag, keyPackages map[uint16]curve.KeyPackage, pkp curve.PublicKeyPackage, signers []uint16, message []byte) curve.Signature {
	t.Helper()
	nonces := make(map[uint16]curve.SigningNonces, len(signers))
	commitments := make(map[uint16]curve.SigningCommitments, len(signers))
	for _, idx := range signers {
		n, c, err := curve.SignRound1(keyPackages[idx], rand.Reader)
		require.NoError(t, err)
		nonces[idx] = n
		commitments[idx] = c
	}

	sp := curve.SigningPackage{Tag: tag, Message: message, Commitments: commitments}
	shares := make(map[uint16]curve.SignatureShare, len(signers))
	for _, idx := range signers {
		share, err := curve.SignRound2(sp, nonces[idx], keyPackages[idx])
		require.NoError(t, err)
		shares[idx] = share
	}

	sig, err := curve.Aggregate(sp, shares, pkp)
	require.NoError(t, err)
	return sig
}

func TestDKGAndSignRoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("pay alice 1 BTC"))
	for _, tag := range []curve.Tag{curve.Secp256k1Taproot, curve.Secp256k1Ecdsa, curve.Ed25519} {
		tag := tag
		t.Run(string(tag), func(t *testing.T) {
			keyPackages, pkp := runDKG(t, tag)
			sig := signWith(t, tag, keyPackages, pkp, []uint16{0, 2}, digest[:])
			assert.NotEmpty(t, sig.Bytes)
			assert.Equal(t, tag, sig.Tag)
		})
	}
}

// The aggregate taproot signature must be indistinguishable from a
// single-key BIP-340 signature: verify it with an independent
// implementation rather than this package's own equation.
func TestTaprootSignatureVerifiesUnderBIP340(t *testing.T) {
	digest := sha256.Sum256([]byte("pay alice 1 BTC"))
	keyPackages, pkp := runDKG(t, curve.Secp256k1Taproot)
	sig := signWith(t, curve.Secp256k1Taproot, keyPackages, pkp, []uint16{0, 1}, digest[:])
	require.Len(t, sig.Bytes, 64)

	parsed, err := schnorr.ParseSignature(sig.Bytes)
	require.NoError(t, err)
	groupKey := pkp.VerifyingKey.Bytes() // compressed; x-only drops the parity byte
	pub, err := schnorr.ParsePubKey(groupKey[1:])
	require.NoError(t, err)
	assert.True(t, parsed.Verify(digest[:], pub))
}

// Likewise for Ed25519: the standard library's verifier must accept the
// aggregate signature under the group verifying key.
func TestEd25519SignatureVerifiesUnderRFC8032(t *testing.T) {
	digest := sha256.Sum256([]byte("pay bob 1 SOL"))
	keyPackages, pkp := runDKG(t, curve.Ed25519)
	sig := signWith(t, curve.Ed25519, keyPackages, pkp, []uint16{1, 2}, digest[:])
	require.Len(t, sig.Bytes, 64)

	pub := ed25519.PublicKey(pkp.VerifyingKey.Bytes())
	assert.True(t, ed25519.Verify(pub, digest[:], sig.Bytes))
}

func TestAggregateMissingShareFails(t *testing.T) {
	digest := sha256.Sum256([]byte("msg"))
	keyPackages, pkp := runDKG(t, curve.Secp256k1Taproot)

	n0, c0, err := curve.SignRound1(keyPackages[0], rand.Reader)
	require.NoError(t, err)
	n2, c2, err := curve.SignRound1(keyPackages[2], rand.Reader)
	require.NoError(t, err)
	sp := curve.SigningPackage{Tag: curve.Secp256k1Taproot, Message: digest[:], Commitments: map[uint16]curve.SigningCommitments{0: c0, 2: c2}}
	share0, err := curve.SignRound2(sp, n0, keyPackages[0])
	require.NoError(t, err)
	_, err = curve.SignRound2(sp, n2, keyPackages[2])
	require.NoError(t, err)

	_, err = curve.Aggregate(sp, map[uint16]curve.SignatureShare{0: share0}, pkp)
	assert.ErrorIs(t, err, curve.ErrMissingShare)
}

func TestAggregateWrongShareFailsVerification(t *testing.T) {
	digest := sha256.Sum256([]byte("msg"))
	keyPackagesA, pkpA := runDKG(t, curve.Ed25519)
	keyPackagesB, _ := runDKG(t, curve.Ed25519) // a second, unrelated ceremony

	n0, c0, err := curve.SignRound1(keyPackagesA[0], rand.Reader)
	require.NoError(t, err)
	n2, c2, err := curve.SignRound1(keyPackagesA[2], rand.Reader)
	require.NoError(t, err)
	sp := curve.SigningPackage{Tag: curve.Ed25519, Message: digest[:], Commitments: map[uint16]curve.SigningCommitments{0: c0, 2: c2}}
	share0, err := curve.SignRound2(sp, n0, keyPackagesA[0])
	require.NoError(t, err)

	// substitute a share from a completely different key package: same
	// identifier index, wrong secret, must fail the group verification.
	badShare, err := curve.SignRound2(sp, n2, keyPackagesB[2])
	require.NoError(t, err)

	_, err = curve.Aggregate(sp, map[uint16]curve.SignatureShare{0: share0, 2: badShare}, pkpA)
	assert.ErrorIs(t, err, curve.ErrVerificationFailed)
}

func TestIdentifierIndexRoundTrip(t *testing.T) {
	for _, tag := range []curve.Tag{curve.Secp256k1Taproot, curve.Secp256k1Ecdsa, curve.Ed25519} {
		for idx := uint16(0); idx < 5; idx++ {
			id, err := curve.NewIdentifier(tag, idx)
			require.NoError(t, err)
			got, err := curve.IdentifierIndexFromBytes(tag, id.Bytes())
			require.NoError(t, err)
			assert.Equal(t, idx, got)
		}
	}
}

func TestKeyPackageCBORRoundTrip(t *testing.T) {
	keyPackages, pkp := runDKG(t, curve.Secp256k1Taproot)
	raw, err := keyPackages[0].MarshalCBOR()
	require.NoError(t, err)
	decoded, err := curve.UnmarshalKeyPackage(raw)
	require.NoError(t, err)
	assert.True(t, decoded.VerifyingKey.Equal(keyPackages[0].VerifyingKey))
	assert.True(t, decoded.SigningShare.Equal(keyPackages[0].SigningShare))

	praw, err := pkp.MarshalCBOR()
	require.NoError(t, err)
	pdecoded, err := curve.UnmarshalPublicKeyPackage(praw)
	require.NoError(t, err)
	assert.True(t, pdecoded.VerifyingKey.Equal(pkp.VerifyingKey))
}
