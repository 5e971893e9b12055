package dkgstate_test

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/dkgstate"
)

func testPoly(t *testing.T) *curve.Polynomial {
	t.Helper()
	id, err := curve.NewIdentifier(curve.Secp256k1Taproot, 0)
	require.NoError(t, err)
	poly, _, err := curve.DKGPart1(id, 2, 3, rand.Reader)
	require.NoError(t, err)
	return poly
}

func TestRound2RequiresRound1First(t *testing.T) {
	m := dkgstate.NewManager()
	_, err := m.Round1Secret(curve.Secp256k1Taproot, "alice")
	assert.Error(t, err)
}

func TestFinalizeRequiresRound2First(t *testing.T) {
	m := dkgstate.NewManager()
	poly := testPoly(t)
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", poly))

	_, err := m.Round2Secret(curve.Secp256k1Taproot, "alice")
	assert.Error(t, err, "must call round 2 (AdvanceToFinalize) before Round2Secret succeeds")
}

func TestHappyPathTransitions(t *testing.T) {
	m := dkgstate.NewManager()
	poly := testPoly(t)
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", poly))

	got, err := m.Round1Secret(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.Same(t, poly, got)

	require.NoError(t, m.AdvanceToFinalize(curve.Secp256k1Taproot, "alice"))
	got2, err := m.Round2Secret(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.Same(t, poly, got2)

	m.Drop(curve.Secp256k1Taproot, "alice")
	_, err = m.Round1Secret(curve.Secp256k1Taproot, "alice")
	assert.Error(t, err)
}

func TestNewDKGAttemptSupersedesOld(t *testing.T) {
	m := dkgstate.NewManager()
	polyA := testPoly(t)
	polyB := testPoly(t)
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", polyA))
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", polyB))

	got, err := m.Round1Secret(curve.Secp256k1Taproot, "alice")
	require.NoError(t, err)
	assert.Same(t, polyB, got)
}

func TestKeysAreIsolatedByCurveAndPassphrase(t *testing.T) {
	m := dkgstate.NewManager()
	poly := testPoly(t)
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", poly))

	_, err := m.Round1Secret(curve.Ed25519, "alice")
	assert.Error(t, err)
	_, err = m.Round1Secret(curve.Secp256k1Taproot, "bob")
	assert.Error(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestFreshInstanceSurvivesEvictionPass(t *testing.T) {
	m := dkgstate.NewManager()
	poly := testPoly(t)
	require.NoError(t, m.BeginRound1(curve.Secp256k1Taproot, "alice", poly))
	assert.Equal(t, 1, m.Len())

	// BeginRound1's eviction pass only triggers on subsequent calls; this
	// test documents the Len() bookkeeping rather than sleeping past the
	// real 10-minute default.
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, m.Len())
}
