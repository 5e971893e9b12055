// Package curve implements the tagged-variant curve abstraction described
// in the design: one concrete group implementation per supported curve,
// dispatched through the Tag type rather than through generic trait bounds.
// Secp256k1Taproot and Secp256k1Ecdsa share the same point group (decred's
// secp256k1) and differ only in RNG prefix, challenge construction and wire
// signature shape; Ed25519 is a distinct group with little-endian identifier
// encoding.
package curve

import "fmt"

// Tag identifies one of the three supported curves. It is the dispatch key
// for every operation in this package — never a type parameter.
type Tag string

const (
	Secp256k1Taproot Tag = "secp256k1-tr"
	Secp256k1Ecdsa   Tag = "secp256k1"
	Ed25519          Tag = "ed25519"
)

// Prefix returns the curve_prefix used to disambiguate deterministic DKG RNG
// streams between curves sharing the same passphrase.
func (t Tag) Prefix() string {
	switch t {
	case Secp256k1Taproot:
		return ""
	case Secp256k1Ecdsa:
		return "ecdsa"
	case Ed25519:
		return "ed25519"
	default:
		return string(t)
	}
}

func (t Tag) Valid() bool {
	switch t {
	case Secp256k1Taproot, Secp256k1Ecdsa, Ed25519:
		return true
	default:
		return false
	}
}

func ParseTag(s string) (Tag, error) {
	t := Tag(s)
	if !t.Valid() {
		return "", fmt.Errorf("curve: unknown curve tag %q", s)
	}
	return t, nil
}

// Scalar is an element of a curve's scalar field. Implementations are not
// required to be constant-time beyond what the underlying library provides.
type Scalar interface {
	Add(Scalar) Scalar
	Mul(Scalar) Scalar
	Negate() Scalar
	Invert() Scalar
	IsZero() bool
	Equal(Scalar) bool
	Bytes() []byte // fixed-size, curve-native byte order
}

// Point is an element of a curve's group.
type Point interface {
	Add(Point) Point
	Mul(Scalar) Point
	Equal(Point) bool
	IsIdentity() bool
	Bytes() []byte // compressed / canonical encoding
}

// Group collects the field and group operations one curve provides. Every
// Tag has exactly one Group implementation; Secp256k1Taproot and
// Secp256k1Ecdsa share the same one.
type Group interface {
	Name() string
	ScalarFromBytes([]byte) (Scalar, error)
	ScalarFromUint64(uint64) Scalar
	RandomScalar(rand interface {
		Read([]byte) (int, error)
	}) (Scalar, error)
	ScalarBaseMul(Scalar) Point
	PointFromBytes([]byte) (Point, error)
	ScalarSize() int
	PointSize() int
	// HashToScalar maps arbitrary bytes to a scalar using the curve's own
	// hash reduced mod the group order (a 32-byte SHA-256 digest for the
	// secp256k1 tags, a 64-byte SHA-512 wide reduction for Ed25519, whose
	// canonical scalar decoder rejects unreduced input).
	HashToScalar([]byte) Scalar
}

func groupFor(t Tag) (Group, error) {
	switch t {
	case Secp256k1Taproot, Secp256k1Ecdsa:
		return secp256k1Group{}, nil
	case Ed25519:
		return ed25519Group{}, nil
	default:
		return nil, fmt.Errorf("curve: unknown curve tag %q", t)
	}
}
