package curve

import (
	"fmt"
)

// DKGPart1 runs round 1 of Pedersen-style verifiable secret sharing: sample
// a degree-(T-1) polynomial whose constant term is this participant's
// contribution to the group secret, commit to every coefficient (Feldman
// commitments), and attach a Schnorr proof of knowledge of the constant
// term bound to the participant's identifier (preventing a participant
// from copying another's commitment and biasing the group key).
func DKGPart1(id Identifier, t, n int, rng interface {
	Read([]byte) (int, error)
}) (*Polynomial, Round1Package, error) {
	if t < 1 || n < t {
		return nil, Round1Package{}, fmt.Errorf("curve: invalid threshold t=%d n=%d", t, n)
	}
	g, err := groupFor(id.Tag)
	if err != nil {
		return nil, Round1Package{}, err
	}
	constant, err := g.RandomScalar(rng)
	if err != nil {
		return nil, Round1Package{}, err
	}
	poly, err := NewPolynomial(id.Tag, t-1, constant, rng)
	if err != nil {
		return nil, Round1Package{}, err
	}
	commitments, err := poly.CommitmentPoints()
	if err != nil {
		return nil, Round1Package{}, err
	}

	// Schnorr proof of knowledge of `constant`: k random, R = k*G,
	// c = H(id || commitments[0] || R), z = k + constant*c.
	k, err := g.RandomScalar(rng)
	if err != nil {
		return nil, Round1Package{}, err
	}
	r := g.ScalarBaseMul(k)
	c := dkgProofChallenge(id, commitments[0], r)
	z := k.Add(constant.Mul(c))

	return poly, Round1Package{
		Tag:         id.Tag,
		Sender:      id,
		Commitments: commitments,
		ProofR:      r,
		ProofZ:      z,
	}, nil
}

// dkgProofChallenge derives the Fiat-Shamir challenge for the round-1 proof
// of knowledge, domain-separated per curve via HashToScalar (SHA-256 for
// the secp256k1 tags, SHA-512 wide-reduction for Ed25519).
func dkgProofChallenge(id Identifier, commitment0, r Point) Scalar {
	g, _ := groupFor(id.Tag)
	buf := append([]byte("frost-dkg-pok:"+string(id.Tag)+":"), id.Bytes()...)
	buf = append(buf, commitment0.Bytes()...)
	buf = append(buf, r.Bytes()...)
	return g.HashToScalar(buf)
}

// DKGPart2 consumes the round-1 secret (this participant's polynomial) and
// every peer's round-1 package, and evaluates this participant's
// polynomial at every other participant's identifier to produce the
// private shares distributed in round 2.
func DKGPart2(self Identifier, poly *Polynomial, peerR1 map[uint16]Round1Package) (map[uint16]Round2Package, error) {
	out := make(map[uint16]Round2Package, len(peerR1))
	for idx := range peerR1 {
		if idx == self.Index {
			continue
		}
		recipient, err := NewIdentifier(self.Tag, idx)
		if err != nil {
			return nil, err
		}
		out[idx] = Round2Package{
			Tag:       self.Tag,
			Sender:    self,
			Recipient: recipient,
			Share:     poly.Evaluate(recipient.Scalar()),
		}
	}
	return out, nil
}

// DKGPart3 verifies every peer's round-1 proof of knowledge and round-2
// share (Feldman verification: g^share == sum_k peerCommitments[k] *
// self_id^k), sums the shares (plus this participant's own evaluation of
// its own polynomial at its own identifier) into the final signing share,
// and combines every participant's constant-term commitment into the
// group verifying key.
func DKGPart3(self Identifier, ownPoly *Polynomial, peerR1 map[uint16]Round1Package, incomingR2 map[uint16]Round2Package) (KeyPackage, PublicKeyPackage, error) {
	g, err := groupFor(self.Tag)
	if err != nil {
		return KeyPackage{}, PublicKeyPackage{}, err
	}

	for idx, pkg := range peerR1 {
		if idx == self.Index {
			continue
		}
		c := dkgProofChallenge(pkg.Sender, pkg.Commitments[0], pkg.ProofR)
		lhs := g.ScalarBaseMul(pkg.ProofZ)
		rhs := pkg.ProofR.Add(pkg.Commitments[0].Mul(c))
		if !lhs.Equal(rhs) {
			return KeyPackage{}, PublicKeyPackage{}, fmt.Errorf("curve: dkg: invalid proof of knowledge from participant %d", idx)
		}
	}

	signingShare := ownPoly.Evaluate(self.Scalar())
	for idx, r2 := range incomingR2 {
		peerPkg, ok := peerR1[idx]
		if !ok {
			return KeyPackage{}, PublicKeyPackage{}, fmt.Errorf("curve: dkg: round2 share from %d has no matching round1 package", idx)
		}
		expected, err := EvaluateCommitment(self.Tag, peerPkg.Commitments, self.Scalar())
		if err != nil {
			return KeyPackage{}, PublicKeyPackage{}, err
		}
		if !g.ScalarBaseMul(r2.Share).Equal(expected) {
			return KeyPackage{}, PublicKeyPackage{}, fmt.Errorf("curve: dkg: share from participant %d fails Feldman verification", idx)
		}
		signingShare = signingShare.Add(r2.Share)
	}

	groupKey := ownPoly.CommitmentPoints0()
	for idx, pkg := range peerR1 {
		if idx == self.Index {
			continue
		}
		groupKey = groupKey.Add(pkg.Commitments[0])
	}

	verifyingShares := make(map[uint16]Point, len(peerR1)+1)
	allIdentifiers := make([]Identifier, 0, len(peerR1)+1)
	allIdentifiers = append(allIdentifiers, self)
	for idx := range peerR1 {
		if idx == self.Index {
			continue
		}
		other, err := NewIdentifier(self.Tag, idx)
		if err != nil {
			return KeyPackage{}, PublicKeyPackage{}, err
		}
		allIdentifiers = append(allIdentifiers, other)
	}

	allCommitments := make(map[uint16][]Point, len(peerR1)+1)
	allCommitments[self.Index] = ownPoly.mustCommitments()
	for idx, pkg := range peerR1 {
		if idx == self.Index {
			continue
		}
		allCommitments[idx] = pkg.Commitments
	}

	for _, id := range allIdentifiers {
		var share Point
		for _, commitments := range allCommitments {
			c, err := EvaluateCommitment(self.Tag, commitments, id.Scalar())
			if err != nil {
				return KeyPackage{}, PublicKeyPackage{}, err
			}
			if share == nil {
				share = c
			} else {
				share = share.Add(c)
			}
		}
		verifyingShares[id.Index] = share
	}

	if !g.ScalarBaseMul(signingShare).Equal(verifyingShares[self.Index]) {
		return KeyPackage{}, PublicKeyPackage{}, fmt.Errorf("curve: dkg: own signing share does not match computed verifying share")
	}

	kp := KeyPackage{
		Tag:             self.Tag,
		Identifier:      self,
		SigningShare:    signingShare,
		VerifyingKey:    groupKey,
		VerifyingShares: verifyingShares,
	}
	pkp := PublicKeyPackage{
		Tag:             self.Tag,
		VerifyingKey:    groupKey,
		VerifyingShares: verifyingShares,
	}
	return kp, pkp, nil
}

// mustCommitments exposes a polynomial's commitment points, recomputing
// them (cheap: a handful of scalar multiplications) since round 1 does not
// keep them attached to the secret.
func (p *Polynomial) mustCommitments() []Point {
	pts, err := p.CommitmentPoints()
	if err != nil {
		panic(err)
	}
	return pts
}

// CommitmentPoints0 returns g^constant, this participant's contribution to
// the group verifying key.
func (p *Polynomial) CommitmentPoints0() Point {
	return p.mustCommitments()[0]
}
