package curve

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// ed25519Group implements Group for the Ed25519 curve tag. Identifiers and
// scalars on this curve are little-endian, the opposite convention from the
// two secp256k1 tags — see identifier.go.
type ed25519Group struct{}

func (ed25519Group) Name() string    { return "ed25519" }
func (ed25519Group) ScalarSize() int { return 32 }
func (ed25519Group) PointSize() int  { return 32 }

func (ed25519Group) ScalarFromBytes(b []byte) (Scalar, error) {
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("ed25519: scalar: %w", err)
	}
	return ed25519Scalar{s}, nil
}

func (ed25519Group) ScalarFromUint64(v uint64) Scalar {
	var wide [64]byte
	for i := 0; i < 8; i++ {
		wide[i] = byte(v >> (8 * i))
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		panic(err) // SetUniformBytes only fails on wrong input length
	}
	return ed25519Scalar{s}
}

func (ed25519Group) RandomScalar(r interface {
	Read([]byte) (int, error)
}) (Scalar, error) {
	var buf [64]byte
	if _, err := r.Read(buf[:]); err != nil {
		return nil, err
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		return nil, err
	}
	return ed25519Scalar{s}, nil
}

// HashToScalar maps data to a scalar via SHA-512 wide reduction, matching
// Ed25519's own canonical scalar-decoding convention (SetUniformBytes takes
// a 64-byte wide value and reduces mod L).
func (ed25519Group) HashToScalar(data []byte) Scalar {
	h := sha512.Sum512(data)
	s, err := edwards25519.NewScalar().SetUniformBytes(h[:])
	if err != nil {
		panic(err) // sha512.Sum512 always returns exactly 64 bytes
	}
	return ed25519Scalar{s}
}

func (ed25519Group) ScalarBaseMul(s Scalar) Point {
	ss := s.(ed25519Scalar)
	p := new(edwards25519.Point).ScalarBaseMult(ss.s)
	return ed25519Point{p}
}

func (ed25519Group) PointFromBytes(b []byte) (Point, error) {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("ed25519: parse point: %w", err)
	}
	return ed25519Point{p}, nil
}

type ed25519Scalar struct {
	s *edwards25519.Scalar
}

func (a ed25519Scalar) Add(b Scalar) Scalar {
	bb := b.(ed25519Scalar)
	return ed25519Scalar{new(edwards25519.Scalar).Add(a.s, bb.s)}
}

func (a ed25519Scalar) Mul(b Scalar) Scalar {
	bb := b.(ed25519Scalar)
	return ed25519Scalar{new(edwards25519.Scalar).Multiply(a.s, bb.s)}
}

func (a ed25519Scalar) Negate() Scalar {
	return ed25519Scalar{new(edwards25519.Scalar).Negate(a.s)}
}

func (a ed25519Scalar) Invert() Scalar {
	return ed25519Scalar{new(edwards25519.Scalar).Invert(a.s)}
}

func (a ed25519Scalar) IsZero() bool {
	return a.s.Equal(edwards25519.NewScalar()) == 1
}

func (a ed25519Scalar) Equal(b Scalar) bool {
	bb, ok := b.(ed25519Scalar)
	return ok && a.s.Equal(bb.s) == 1
}

func (a ed25519Scalar) Bytes() []byte {
	return a.s.Bytes()
}

type ed25519Point struct {
	p *edwards25519.Point
}

func (a ed25519Point) Add(b Point) Point {
	bb := b.(ed25519Point)
	return ed25519Point{new(edwards25519.Point).Add(a.p, bb.p)}
}

func (a ed25519Point) Mul(s Scalar) Point {
	ss := s.(ed25519Scalar)
	return ed25519Point{new(edwards25519.Point).ScalarMult(ss.s, a.p)}
}

func (a ed25519Point) Equal(b Point) bool {
	bb, ok := b.(ed25519Point)
	return ok && a.p.Equal(bb.p) == 1
}

func (a ed25519Point) IsIdentity() bool {
	return a.p.Equal(edwards25519.NewIdentityPoint()) == 1
}

func (a ed25519Point) Bytes() []byte {
	return a.p.Bytes()
}
