package curve

import "fmt"

// Identifier is the curve-specific scalar form of a node's cluster index.
// The wire rule is `id = index + 1`: scalar.Bytes() on the two secp256k1
// tags is already big-endian (small values land in the last byte) and on
// Ed25519 is already little-endian (small values land in the first byte),
// so no extra byte-swapping is needed once the underlying scalar type's
// native Bytes() encoding is used consistently end to end.
type Identifier struct {
	Tag   Tag
	Index uint16
	s     Scalar
}

// NewIdentifier builds the identifier for a node's cluster index on tag.
func NewIdentifier(tag Tag, index uint16) (Identifier, error) {
	g, err := groupFor(tag)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Tag: tag, Index: index, s: g.ScalarFromUint64(uint64(index) + 1)}, nil
}

func (id Identifier) Scalar() Scalar { return id.s }

// Bytes is the wire encoding exchanged between nodes and aggregators.
func (id Identifier) Bytes() []byte { return id.s.Bytes() }

// IdentifierIndexFromBytes recovers the 0-based node index that produced an
// identifier's wire bytes, honoring the curve's native byte order: the
// small value `index+1` sits in the last byte for the secp256k1 tags and in
// the first byte for Ed25519.
func IdentifierIndexFromBytes(tag Tag, b []byte) (uint16, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("curve: empty identifier bytes")
	}
	var small byte
	switch tag {
	case Secp256k1Taproot, Secp256k1Ecdsa:
		small = b[len(b)-1]
	case Ed25519:
		small = b[0]
	default:
		return 0, fmt.Errorf("curve: unknown curve tag %q", tag)
	}
	if small == 0 {
		return 0, fmt.Errorf("curve: identifier decodes to index -1")
	}
	return uint16(small) - 1, nil
}

func (id Identifier) Equal(other Identifier) bool {
	return id.Tag == other.Tag && id.s.Equal(other.s)
}
