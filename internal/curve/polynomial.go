package curve

// Polynomial is a secret-sharing polynomial over a curve's scalar field,
// stored lowest coefficient first (coefficient 0 is the shared secret).
type Polynomial struct {
	tag   Tag
	coefs []Scalar
}

// NewPolynomial builds a degree-`degree` polynomial with the given constant
// term and freshly sampled higher coefficients from rng.
func NewPolynomial(tag Tag, degree int, constant Scalar, rng interface {
	Read([]byte) (int, error)
}) (*Polynomial, error) {
	g, err := groupFor(tag)
	if err != nil {
		return nil, err
	}
	coefs := make([]Scalar, degree+1)
	coefs[0] = constant
	for i := 1; i <= degree; i++ {
		s, err := g.RandomScalar(rng)
		if err != nil {
			return nil, err
		}
		coefs[i] = s
	}
	return &Polynomial{tag: tag, coefs: coefs}, nil
}

func (p *Polynomial) Degree() int { return len(p.coefs) - 1 }

// Coefficients returns the polynomial's coefficients (index 0 = constant
// term), for broadcasting as Pedersen/Feldman commitments.
func (p *Polynomial) Coefficients() []Scalar { return p.coefs }

// Evaluate computes f(x) via Horner's method.
func (p *Polynomial) Evaluate(x Scalar) Scalar {
	acc := p.coefs[len(p.coefs)-1]
	for i := len(p.coefs) - 2; i >= 0; i-- {
		acc = acc.Mul(x).Add(p.coefs[i])
	}
	return acc
}

// CommitmentPoints returns g^coef for every coefficient, the values
// broadcast in DKG round 1 for Feldman verification of shares.
func (p *Polynomial) CommitmentPoints() ([]Point, error) {
	g, err := groupFor(p.tag)
	if err != nil {
		return nil, err
	}
	pts := make([]Point, len(p.coefs))
	for i, c := range p.coefs {
		pts[i] = g.ScalarBaseMul(c)
	}
	return pts, nil
}

// EvaluateCommitment computes g^f(x) from the public commitment points
// alone, i.e. sum_k commitments[k] * x^k, without knowing the polynomial.
// Used both to Feldman-verify an incoming share and to derive a
// participant's verifying share from every sender's commitments.
func EvaluateCommitment(tag Tag, commitments []Point, x Scalar) (Point, error) {
	if _, err := groupFor(tag); err != nil {
		return nil, err
	}
	if len(commitments) == 0 {
		return nil, errEmptyCommitments
	}
	acc := commitments[len(commitments)-1]
	for i := len(commitments) - 2; i >= 0; i-- {
		acc = acc.Mul(x).Add(commitments[i])
	}
	return acc, nil
}

// LagrangeCoefficient computes the Lagrange basis coefficient for
// participant `id` interpolating at x=0, over the participant set `all`.
func LagrangeCoefficient(tag Tag, id Identifier, all []Identifier) (Scalar, error) {
	g, err := groupFor(tag)
	if err != nil {
		return nil, err
	}
	num := g.ScalarFromUint64(1)
	den := g.ScalarFromUint64(1)
	xi := id.Scalar()
	for _, other := range all {
		if other.Equal(id) {
			continue
		}
		xj := other.Scalar()
		num = num.Mul(xj.Negate())
		den = den.Mul(xi.Add(xj.Negate()))
	}
	return num.Mul(den.Invert()), nil
}

type polyError string

func (e polyError) Error() string { return string(e) }

const errEmptyCommitments = polyError("curve: empty commitment list")
