package curve

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// ErrMissingShare and ErrVerificationFailed let callers (internal/node)
// translate Aggregate failures to the right error kind (ThresholdNotMet
// vs. VerificationFailed) without string-matching.
var (
	ErrMissingShare       = errors.New("curve: missing signature share")
	ErrVerificationFailed = errors.New("curve: signature failed verification")
)

// SigningPackage bundles the message digest being signed with every
// participating node's round-1 commitments, the deterministic input both
// SignRound2 and Aggregate fold into the group commitment and challenge.
type SigningPackage struct {
	Tag         Tag
	Message     []byte // 32-byte digest, never the raw payload
	Commitments map[uint16]SigningCommitments
}

func signingNonceContext(tag Tag) string {
	return "github.com/openmatching/frost-custody frost-nonce/" + string(tag) + " 2026"
}

// SignRound1 samples hiding and binding nonces with a hedged
// construction: a key derived from the signing share (so a bad RNG alone
// cannot leak the share) mixed with fresh randomness (so a faulty hash
// cannot make nonces predictable), then used to key a blake3 XOF that
// feeds two scalar draws.
func SignRound1(kp KeyPackage, rng interface {
	Read([]byte) (int, error)
}) (SigningNonces, SigningCommitments, error) {
	g, err := groupFor(kp.Tag)
	if err != nil {
		return SigningNonces{}, SigningCommitments{}, err
	}
	hashKey := make([]byte, 32)
	blake3.DeriveKey(signingNonceContext(kp.Tag), kp.SigningShare.Bytes(), hashKey)
	h, err := blake3.NewKeyed(hashKey)
	if err != nil {
		return SigningNonces{}, SigningCommitments{}, fmt.Errorf("curve: nonce hasher: %w", err)
	}
	_, _ = h.Write(kp.Identifier.Bytes())
	salt := make([]byte, 32)
	if _, err := rng.Read(salt); err != nil {
		return SigningNonces{}, SigningCommitments{}, err
	}
	_, _ = h.Write(salt)
	xof := h.Digest()

	hiding, err := g.RandomScalar(xof)
	if err != nil {
		return SigningNonces{}, SigningCommitments{}, err
	}
	binding, err := g.RandomScalar(xof)
	if err != nil {
		return SigningNonces{}, SigningCommitments{}, err
	}

	nonces := SigningNonces{Tag: kp.Tag, Hiding: hiding, Binding: binding}
	commitments := SigningCommitments{Tag: kp.Tag, Hiding: g.ScalarBaseMul(hiding), Binding: g.ScalarBaseMul(binding)}
	return nonces, commitments, nil
}

// bindingFactor computes rho_i, FROST's per-participant binding factor,
// over the full commitment list so that every participant's nonce is bound
// to every other participant's — the usual defense against Wagner-style
// forgery in multi-nonce Schnorr signing.
func bindingFactor(tag Tag, message []byte, ordered []uint16, commitments map[uint16]SigningCommitments, id uint16) (Scalar, error) {
	g, err := groupFor(tag)
	if err != nil {
		return nil, err
	}
	buf := append([]byte{}, message...)
	for _, idx := range ordered {
		c := commitments[idx]
		var idBytes [2]byte
		idBytes[0] = byte(idx >> 8)
		idBytes[1] = byte(idx)
		buf = append(buf, idBytes[:]...)
		buf = append(buf, c.Hiding.Bytes()...)
		buf = append(buf, c.Binding.Bytes()...)
	}
	var target [2]byte
	target[0] = byte(id >> 8)
	target[1] = byte(id)
	buf = append(buf, target[:]...)
	return g.HashToScalar(append([]byte("frost-binding-factor:"+string(tag)+":"), buf...)), nil
}

func orderedIndices(commitments map[uint16]SigningCommitments) []uint16 {
	out := make([]uint16, 0, len(commitments))
	for idx := range commitments {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// groupCommitmentAndChallenge computes R = sum_i (D_i + rho_i*E_i), applies
// the curve-specific parity normalization, and derives the Fiat-Shamir
// challenge c. It returns the (possibly negated, for the taproot
// even-Y convention) effective sign to apply to nonce and share
// contributions respectively, so SignRound2 and Aggregate compute
// identical values independently.
func groupCommitmentAndChallenge(sp SigningPackage, verifyingKey Point) (r Point, challenge Scalar, nonceSign, shareSign Scalar, err error) {
	g, err := groupFor(sp.Tag)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ordered := orderedIndices(sp.Commitments)
	if len(ordered) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("curve: signing package has no commitments")
	}

	var groupCommitment Point
	for _, idx := range ordered {
		c := sp.Commitments[idx]
		rho, err := bindingFactor(sp.Tag, sp.Message, ordered, sp.Commitments, idx)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		term := c.Hiding.Add(c.Binding.Mul(rho))
		if groupCommitment == nil {
			groupCommitment = term
		} else {
			groupCommitment = groupCommitment.Add(term)
		}
	}

	one := g.ScalarFromUint64(1)
	negOne := one.Negate()
	nonceSign = one
	shareSign = one

	switch sp.Tag {
	case Secp256k1Taproot:
		rp := groupCommitment.(secp256k1Point)
		if rp.yIsOdd() {
			groupCommitment = groupCommitment.Mul(negOne)
			nonceSign = negOne
		}
		yp := verifyingKey.(secp256k1Point)
		effectiveY := verifyingKey
		if yp.yIsOdd() {
			effectiveY = verifyingKey.Mul(negOne)
			shareSign = negOne
		}
		rxb := groupCommitment.(secp256k1Point).xBytes()
		yxb := effectiveY.(secp256k1Point).xBytes()
		c := bip340Challenge(rxb, yxb, sp.Message)
		challenge = c
	case Secp256k1Ecdsa:
		buf := append([]byte{}, groupCommitment.Bytes()...)
		buf = append(buf, verifyingKey.Bytes()...)
		buf = append(buf, sp.Message...)
		challenge = g.HashToScalar(append([]byte("frost-ecdsa-challenge:"), buf...))
	case Ed25519:
		buf := append([]byte{}, groupCommitment.Bytes()...)
		buf = append(buf, verifyingKey.Bytes()...)
		buf = append(buf, sp.Message...)
		challenge = g.HashToScalar(buf) // SHA-512 wide reduction, RFC 8032 style
	default:
		return nil, nil, nil, nil, fmt.Errorf("curve: unknown tag %q", sp.Tag)
	}
	return groupCommitment, challenge, nonceSign, shareSign, nil
}

// bip340Challenge is the BIP-340 tagged hash e = H(R_x || P_x || m) mod n.
func bip340Challenge(rx, px, msg []byte) Scalar {
	tagHash := sha256.Sum256([]byte("BIP0340/challenge"))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	h.Write(rx)
	h.Write(px)
	h.Write(msg)
	sum := h.Sum(nil)
	s, _ := secp256k1Group{}.ScalarFromBytes(sum)
	return s
}

// SignRound2 produces this participant's signature share z_i = nonceSign *
// (d_i + rho_i*e_i) + challenge * shareSign * lambda_i * s_i. The
// nonces are consumed here and MUST NOT be reused: the caller owns
// ensuring this function runs at most once per (passphrase, message).
func SignRound2(sp SigningPackage, nonces SigningNonces, kp KeyPackage) (SignatureShare, error) {
	if sp.Tag != kp.Tag || sp.Tag != nonces.Tag {
		return SignatureShare{}, fmt.Errorf("curve: sign round2: curve tag mismatch")
	}
	_, challenge, nonceSign, shareSign, err := groupCommitmentAndChallenge(sp, kp.VerifyingKey)
	if err != nil {
		return SignatureShare{}, err
	}
	ordered := orderedIndices(sp.Commitments)
	rho, err := bindingFactor(sp.Tag, sp.Message, ordered, sp.Commitments, kp.Identifier.Index)
	if err != nil {
		return SignatureShare{}, err
	}
	all := make([]Identifier, 0, len(ordered))
	for _, idx := range ordered {
		id, err := NewIdentifier(sp.Tag, idx)
		if err != nil {
			return SignatureShare{}, err
		}
		all = append(all, id)
	}
	lambda, err := LagrangeCoefficient(sp.Tag, kp.Identifier, all)
	if err != nil {
		return SignatureShare{}, err
	}

	noncePart := nonces.Hiding.Add(nonces.Binding.Mul(rho)).Mul(nonceSign)
	sharePart := challenge.Mul(shareSign).Mul(lambda).Mul(kp.SigningShare)
	z := noncePart.Add(sharePart)

	return SignatureShare{Tag: sp.Tag, Identifier: kp.Identifier, Share: z}, nil
}

// Aggregate combines per-participant signature shares into the final
// signature and verifies it before returning: an aggregator never
// returns an unverified signature as valid.
func Aggregate(sp SigningPackage, shares map[uint16]SignatureShare, pkp PublicKeyPackage) (Signature, error) {
	_, err := groupFor(sp.Tag)
	if err != nil {
		return Signature{}, err
	}
	r, challenge, _, _, err := groupCommitmentAndChallenge(sp, pkp.VerifyingKey)
	if err != nil {
		return Signature{}, err
	}

	var z Scalar
	for _, idx := range orderedIndices(sp.Commitments) {
		share, ok := shares[idx]
		if !ok {
			return Signature{}, fmt.Errorf("%w: from participant %d", ErrMissingShare, idx)
		}
		if z == nil {
			z = share.Share
		} else {
			z = z.Add(share.Share)
		}
	}
	if z == nil {
		return Signature{}, fmt.Errorf("curve: aggregate: no signature shares")
	}

	switch sp.Tag {
	case Secp256k1Taproot:
		sigBytes := append(append([]byte{}, r.(secp256k1Point).xBytes()...), z.Bytes()...)
		if !verifyBIP340(sp, pkp.VerifyingKey, sigBytes) {
			return Signature{}, ErrVerificationFailed
		}
		return Signature{Tag: sp.Tag, Bytes: sigBytes}, nil
	case Secp256k1Ecdsa:
		full := r.Bytes() // compressed, 33 bytes: prefix {0x02,0x03} + x
		sigBytes := append(append([]byte{}, full[1:]...), z.Bytes()...)
		sigBytes = append(sigBytes, 0x00) // recovery id placeholder, not ecrecover-usable
		if !verifyGeneric(sp, pkp.VerifyingKey, r, challenge, z) {
			return Signature{}, ErrVerificationFailed
		}
		return Signature{Tag: sp.Tag, Bytes: sigBytes}, nil
	case Ed25519:
		sigBytes := append(append([]byte{}, r.Bytes()...), z.Bytes()...)
		if !verifyGeneric(sp, pkp.VerifyingKey, r, challenge, z) {
			return Signature{}, ErrVerificationFailed
		}
		return Signature{Tag: sp.Tag, Bytes: sigBytes}, nil
	default:
		return Signature{}, fmt.Errorf("curve: unknown tag %q", sp.Tag)
	}
}

// verifyBIP340 re-derives the challenge from (r,z) and checks z*G == R +
// c*Y' with Y' the even-Y-normalized verifying key, the BIP-340
// verification equation.
func verifyBIP340(sp SigningPackage, verifyingKey Point, sig []byte) bool {
	g := secp256k1Group{}
	rx := sig[0:32]
	zb := sig[32:64]
	z, err := g.ScalarFromBytes(zb)
	if err != nil {
		return false
	}
	yp := verifyingKey.(secp256k1Point)
	effectiveY := verifyingKey
	if yp.yIsOdd() {
		effectiveY = verifyingKey.Mul(g.ScalarFromUint64(1).Negate())
	}
	c := bip340Challenge(rx, effectiveY.(secp256k1Point).xBytes(), sp.Message)
	lhs := g.ScalarBaseMul(z)
	rPoint, err := g.PointFromBytes(append([]byte{0x02}, rx...))
	if err != nil {
		return false
	}
	expected := rPoint.Add(effectiveY.Mul(c))
	return lhs.Equal(expected)
}

// verifyGeneric checks z*G == R + c*Y for the non-taproot curves, where
// the signature carries a full (non-x-only) commitment.
func verifyGeneric(sp SigningPackage, verifyingKey, r Point, challenge, z Scalar) bool {
	g, err := groupFor(sp.Tag)
	if err != nil {
		return false
	}
	lhs := g.ScalarBaseMul(z)
	rhs := r.Add(verifyingKey.Mul(challenge))
	return lhs.Equal(rhs)
}
