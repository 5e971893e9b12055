package curve

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// KeyPackage is the output of a successful DKG Finalize at one node: its
// own signing share plus enough of the group's public material to verify
// other participants' signature shares without a second round trip.
type KeyPackage struct {
	Tag             Tag
	Identifier      Identifier
	SigningShare    Scalar
	VerifyingKey    Point
	VerifyingShares map[uint16]Point // by participant index
}

// PublicKeyPackage is the cluster-identical public output of DKG: the
// group verifying key plus every participant's verifying share. It is what
// an aggregator needs to combine signature shares and verify the result.
type PublicKeyPackage struct {
	Tag             Tag
	VerifyingKey    Point
	VerifyingShares map[uint16]Point
}

// wire encodings. CBOR is used for the curve-package payloads embedded as
// hex inside the JSON HTTP envelopes and for values written to storage;
// scalars and points are encoded as their native fixed-size byte strings.

type wireKeyPackage struct {
	Tag             string
	Index           uint16
	SigningShare    []byte
	VerifyingKey    []byte
	VerifyingShares map[uint16][]byte
}

func (kp KeyPackage) MarshalCBOR() ([]byte, error) {
	w := wireKeyPackage{
		Tag:             string(kp.Tag),
		Index:           kp.Identifier.Index,
		SigningShare:    kp.SigningShare.Bytes(),
		VerifyingKey:    kp.VerifyingKey.Bytes(),
		VerifyingShares: make(map[uint16][]byte, len(kp.VerifyingShares)),
	}
	for idx, p := range kp.VerifyingShares {
		w.VerifyingShares[idx] = p.Bytes()
	}
	return cbor.Marshal(w)
}

func UnmarshalKeyPackage(b []byte) (KeyPackage, error) {
	var w wireKeyPackage
	if err := cbor.Unmarshal(b, &w); err != nil {
		return KeyPackage{}, fmt.Errorf("curve: decode key package: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return KeyPackage{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return KeyPackage{}, err
	}
	id, err := NewIdentifier(tag, w.Index)
	if err != nil {
		return KeyPackage{}, err
	}
	share, err := g.ScalarFromBytes(w.SigningShare)
	if err != nil {
		return KeyPackage{}, fmt.Errorf("curve: signing share: %w", err)
	}
	vk, err := g.PointFromBytes(w.VerifyingKey)
	if err != nil {
		return KeyPackage{}, fmt.Errorf("curve: verifying key: %w", err)
	}
	shares := make(map[uint16]Point, len(w.VerifyingShares))
	for idx, raw := range w.VerifyingShares {
		p, err := g.PointFromBytes(raw)
		if err != nil {
			return KeyPackage{}, fmt.Errorf("curve: verifying share %d: %w", idx, err)
		}
		shares[idx] = p
	}
	return KeyPackage{Tag: tag, Identifier: id, SigningShare: share, VerifyingKey: vk, VerifyingShares: shares}, nil
}

type wirePublicKeyPackage struct {
	Tag             string
	VerifyingKey    []byte
	VerifyingShares map[uint16][]byte
}

func (pkp PublicKeyPackage) MarshalCBOR() ([]byte, error) {
	w := wirePublicKeyPackage{
		Tag:             string(pkp.Tag),
		VerifyingKey:    pkp.VerifyingKey.Bytes(),
		VerifyingShares: make(map[uint16][]byte, len(pkp.VerifyingShares)),
	}
	for idx, p := range pkp.VerifyingShares {
		w.VerifyingShares[idx] = p.Bytes()
	}
	return cbor.Marshal(w)
}

func UnmarshalPublicKeyPackage(b []byte) (PublicKeyPackage, error) {
	var w wirePublicKeyPackage
	if err := cbor.Unmarshal(b, &w); err != nil {
		return PublicKeyPackage{}, fmt.Errorf("curve: decode pubkey package: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return PublicKeyPackage{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return PublicKeyPackage{}, err
	}
	vk, err := g.PointFromBytes(w.VerifyingKey)
	if err != nil {
		return PublicKeyPackage{}, fmt.Errorf("curve: verifying key: %w", err)
	}
	shares := make(map[uint16]Point, len(w.VerifyingShares))
	for idx, raw := range w.VerifyingShares {
		p, err := g.PointFromBytes(raw)
		if err != nil {
			return PublicKeyPackage{}, fmt.Errorf("curve: verifying share %d: %w", idx, err)
		}
		shares[idx] = p
	}
	return PublicKeyPackage{Tag: tag, VerifyingKey: vk, VerifyingShares: shares}, nil
}

// Round1Package is what dkg_part1 broadcasts to every other participant:
// the sender's identifier and its Feldman commitment to its polynomial,
// plus a proof-of-knowledge of the constant term (Schnorr proof binding
// the package to the sender's identifier, preventing rogue-key attacks).
type Round1Package struct {
	Tag         Tag
	Sender      Identifier
	Commitments []Point
	ProofR      Point
	ProofZ      Scalar
}

type wireRound1Package struct {
	Tag         string
	SenderBytes []byte
	Commitments [][]byte
	ProofR      []byte
	ProofZ      []byte
}

func (p Round1Package) MarshalCBOR() ([]byte, error) {
	w := wireRound1Package{
		Tag:         string(p.Tag),
		SenderBytes: p.Sender.Bytes(),
		Commitments: make([][]byte, len(p.Commitments)),
		ProofR:      p.ProofR.Bytes(),
		ProofZ:      p.ProofZ.Bytes(),
	}
	for i, c := range p.Commitments {
		w.Commitments[i] = c.Bytes()
	}
	return cbor.Marshal(w)
}

func UnmarshalRound1Package(b []byte) (Round1Package, error) {
	var w wireRound1Package
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Round1Package{}, fmt.Errorf("curve: decode round1 package: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return Round1Package{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return Round1Package{}, err
	}
	senderIdx, err := IdentifierIndexFromBytes(tag, w.SenderBytes)
	if err != nil {
		return Round1Package{}, fmt.Errorf("curve: round1 package sender: %w", err)
	}
	sender, err := NewIdentifier(tag, senderIdx)
	if err != nil {
		return Round1Package{}, err
	}
	commitments := make([]Point, len(w.Commitments))
	for i, raw := range w.Commitments {
		p, err := g.PointFromBytes(raw)
		if err != nil {
			return Round1Package{}, fmt.Errorf("curve: round1 package commitment %d: %w", i, err)
		}
		commitments[i] = p
	}
	proofR, err := g.PointFromBytes(w.ProofR)
	if err != nil {
		return Round1Package{}, fmt.Errorf("curve: round1 package proof R: %w", err)
	}
	proofZ, err := g.ScalarFromBytes(w.ProofZ)
	if err != nil {
		return Round1Package{}, fmt.Errorf("curve: round1 package proof z: %w", err)
	}
	return Round1Package{Tag: tag, Sender: sender, Commitments: commitments, ProofR: proofR, ProofZ: proofZ}, nil
}

// Round2Package is the secret share dkg_part2 sends privately from
// Sender to Recipient: f_sender(recipient_id). The aggregator relays it
// opaquely; confidentiality between nodes rides on the deployment's
// transport security.
type Round2Package struct {
	Tag       Tag
	Sender    Identifier
	Recipient Identifier
	Share     Scalar
}

type wireRound2Package struct {
	Tag         string
	SenderBytes []byte
	RecipBytes  []byte
	ShareBytes  []byte
}

func (p Round2Package) MarshalCBOR() ([]byte, error) {
	w := wireRound2Package{
		Tag:         string(p.Tag),
		SenderBytes: p.Sender.Bytes(),
		RecipBytes:  p.Recipient.Bytes(),
		ShareBytes:  p.Share.Bytes(),
	}
	return cbor.Marshal(w)
}

func UnmarshalRound2Package(b []byte) (Round2Package, error) {
	var w wireRound2Package
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Round2Package{}, fmt.Errorf("curve: decode round2 package: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return Round2Package{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return Round2Package{}, err
	}
	senderIdx, err := IdentifierIndexFromBytes(tag, w.SenderBytes)
	if err != nil {
		return Round2Package{}, fmt.Errorf("curve: round2 package sender: %w", err)
	}
	sender, err := NewIdentifier(tag, senderIdx)
	if err != nil {
		return Round2Package{}, err
	}
	recipIdx, err := IdentifierIndexFromBytes(tag, w.RecipBytes)
	if err != nil {
		return Round2Package{}, fmt.Errorf("curve: round2 package recipient: %w", err)
	}
	recipient, err := NewIdentifier(tag, recipIdx)
	if err != nil {
		return Round2Package{}, err
	}
	share, err := g.ScalarFromBytes(w.ShareBytes)
	if err != nil {
		return Round2Package{}, fmt.Errorf("curve: round2 package share: %w", err)
	}
	return Round2Package{Tag: tag, Sender: sender, Recipient: recipient, Share: share}, nil
}

// SigningCommitments are the public, one-time values published in signing
// round 1: hiding and binding commitments for one participant.
type SigningCommitments struct {
	Tag     Tag
	Hiding  Point
	Binding Point
}

type wireCommitments struct {
	Tag     string
	Hiding  []byte
	Binding []byte
}

func (c SigningCommitments) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(wireCommitments{Tag: string(c.Tag), Hiding: c.Hiding.Bytes(), Binding: c.Binding.Bytes()})
}

func UnmarshalSigningCommitments(b []byte) (SigningCommitments, error) {
	var w wireCommitments
	if err := cbor.Unmarshal(b, &w); err != nil {
		return SigningCommitments{}, fmt.Errorf("curve: decode commitments: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return SigningCommitments{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return SigningCommitments{}, err
	}
	hiding, err := g.PointFromBytes(w.Hiding)
	if err != nil {
		return SigningCommitments{}, fmt.Errorf("curve: hiding commitment: %w", err)
	}
	binding, err := g.PointFromBytes(w.Binding)
	if err != nil {
		return SigningCommitments{}, fmt.Errorf("curve: binding commitment: %w", err)
	}
	return SigningCommitments{Tag: tag, Hiding: hiding, Binding: binding}, nil
}

// SigningNonces are the secret scalars paired with SigningCommitments.
// They must never be persisted or leave the originating node in the
// clear; see internal/noncecrypt for the wire encryption of this type.
type SigningNonces struct {
	Tag     Tag
	Hiding  Scalar
	Binding Scalar
}

type wireNonces struct {
	Tag     string
	Hiding  []byte
	Binding []byte
}

func (n SigningNonces) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(wireNonces{Tag: string(n.Tag), Hiding: n.Hiding.Bytes(), Binding: n.Binding.Bytes()})
}

func UnmarshalSigningNonces(b []byte) (SigningNonces, error) {
	var w wireNonces
	if err := cbor.Unmarshal(b, &w); err != nil {
		return SigningNonces{}, fmt.Errorf("curve: decode nonces: %w", err)
	}
	tag, err := ParseTag(w.Tag)
	if err != nil {
		return SigningNonces{}, err
	}
	g, err := groupFor(tag)
	if err != nil {
		return SigningNonces{}, err
	}
	hiding, err := g.ScalarFromBytes(w.Hiding)
	if err != nil {
		return SigningNonces{}, fmt.Errorf("curve: hiding nonce: %w", err)
	}
	binding, err := g.ScalarFromBytes(w.Binding)
	if err != nil {
		return SigningNonces{}, fmt.Errorf("curve: binding nonce: %w", err)
	}
	return SigningNonces{Tag: tag, Hiding: hiding, Binding: binding}, nil
}

// SignatureShare is one participant's contribution to the final signature.
type SignatureShare struct {
	Tag        Tag
	Identifier Identifier
	Share      Scalar
}

// NewSignatureShare reconstructs a SignatureShare from its wire form, used
// by an aggregator that receives shares over HTTP rather than computing
// them locally.
func NewSignatureShare(tag Tag, index uint16, shareBytes []byte) (SignatureShare, error) {
	g, err := groupFor(tag)
	if err != nil {
		return SignatureShare{}, err
	}
	id, err := NewIdentifier(tag, index)
	if err != nil {
		return SignatureShare{}, err
	}
	s, err := g.ScalarFromBytes(shareBytes)
	if err != nil {
		return SignatureShare{}, fmt.Errorf("curve: signature share: %w", err)
	}
	return SignatureShare{Tag: tag, Identifier: id, Share: s}, nil
}

// Signature is the curve's raw wire signature, before the HTTP layer
// hex-encodes it. Layout differs per tag: see sign.go.
type Signature struct {
	Tag   Tag
	Bytes []byte
}
