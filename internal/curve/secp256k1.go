package curve

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// secp256k1Group backs both Secp256k1Taproot and Secp256k1Ecdsa: the two
// tags share point-group arithmetic and differ only in RNG prefix,
// challenge construction and final wire encoding (handled in sign.go and
// package.go), matching the "tagged variant, not generic trait" design
// decided for this curve layer.
type secp256k1Group struct{}

func (secp256k1Group) Name() string { return "secp256k1" }

func (secp256k1Group) ScalarSize() int { return 32 }
func (secp256k1Group) PointSize() int  { return 33 }

func (secp256k1Group) ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("secp256k1: scalar must be 32 bytes, got %d", len(b))
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(b)
	return secp256k1Scalar{s}, nil
}

func (secp256k1Group) ScalarFromUint64(v uint64) Scalar {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[24:], v)
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf[:])
	return secp256k1Scalar{s}
}

func (secp256k1Group) RandomScalar(r interface {
	Read([]byte) (int, error)
}) (Scalar, error) {
	var buf [32]byte
	if _, err := r.Read(buf[:]); err != nil {
		return nil, err
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf[:])
	if s.IsZero() {
		return secp256k1Group{}.RandomScalar(r)
	}
	return secp256k1Scalar{s}, nil
}

func (secp256k1Group) ScalarBaseMul(s Scalar) Point {
	ss := s.(secp256k1Scalar)
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&ss.s, &p)
	p.ToAffine()
	return secp256k1Point{p}
}

func (secp256k1Group) HashToScalar(data []byte) Scalar {
	h := sha256.Sum256(data)
	var s secp256k1.ModNScalar
	s.SetByteSlice(h[:])
	return secp256k1Scalar{s}
}

func (secp256k1Group) PointFromBytes(b []byte) (Point, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("secp256k1: parse point: %w", err)
	}
	var p secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	p.ToAffine()
	return secp256k1Point{p}, nil
}

type secp256k1Scalar struct {
	s secp256k1.ModNScalar
}

func (a secp256k1Scalar) Add(b Scalar) Scalar {
	bb := b.(secp256k1Scalar)
	var r secp256k1.ModNScalar
	r.Set(&a.s)
	r.Add(&bb.s)
	return secp256k1Scalar{r}
}

func (a secp256k1Scalar) Mul(b Scalar) Scalar {
	bb := b.(secp256k1Scalar)
	var r secp256k1.ModNScalar
	r.Set(&a.s)
	r.Mul(&bb.s)
	return secp256k1Scalar{r}
}

func (a secp256k1Scalar) Negate() Scalar {
	var r secp256k1.ModNScalar
	r.Set(&a.s)
	r.Negate()
	return secp256k1Scalar{r}
}

func (a secp256k1Scalar) Invert() Scalar {
	var r secp256k1.ModNScalar
	r.Set(&a.s)
	r.InverseNonConst()
	return secp256k1Scalar{r}
}

func (a secp256k1Scalar) IsZero() bool { return a.s.IsZero() }

func (a secp256k1Scalar) Equal(b Scalar) bool {
	bb, ok := b.(secp256k1Scalar)
	return ok && a.s.Equals(&bb.s)
}

func (a secp256k1Scalar) Bytes() []byte {
	b := a.s.Bytes()
	return b[:]
}

type secp256k1Point struct {
	p secp256k1.JacobianPoint
}

func (a secp256k1Point) Add(b Point) Point {
	bb := b.(secp256k1Point)
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a.p, &bb.p, &r)
	r.ToAffine()
	return secp256k1Point{r}
}

func (a secp256k1Point) Mul(s Scalar) Point {
	ss := s.(secp256k1Scalar)
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&ss.s, &a.p, &r)
	r.ToAffine()
	return secp256k1Point{r}
}

func (a secp256k1Point) Equal(b Point) bool {
	bb, ok := b.(secp256k1Point)
	if !ok {
		return false
	}
	return a.p.X.Equals(&bb.p.X) && a.p.Y.Equals(&bb.p.Y) && a.p.Z.Equals(&bb.p.Z)
}

func (a secp256k1Point) IsIdentity() bool {
	return a.p.X.IsZero() && a.p.Y.IsZero()
}

func (a secp256k1Point) Bytes() []byte {
	pub := secp256k1.NewPublicKey(&a.p.X, &a.p.Y)
	return pub.SerializeCompressed()
}

// yIsOdd reports whether the affine point's Y coordinate is odd, needed for
// BIP-340 even-Y normalization on the Taproot curve.
func (a secp256k1Point) yIsOdd() bool {
	return a.p.Y.IsOdd()
}

// xBytes returns the 32-byte x-only encoding used by BIP-340.
func (a secp256k1Point) xBytes() []byte {
	b := a.p.X.Bytes()
	return b[:]
}
