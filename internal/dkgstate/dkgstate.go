// Package dkgstate holds the per-node, per-(curve, passphrase) ephemeral
// DKG round state: the round-1 polynomial that round 2 and Finalize
// consume, tracked as one state-machine value per key (awaiting round2
// -> awaiting finalize, removed once finalized) rather than as two
// parallel hash maps.
package dkgstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/openmatching/frost-custody/internal/curve"
)

// Phase is the state a (curve, passphrase) DKG instance is in at this node.
type Phase int

const (
	AwaitingRound2 Phase = iota
	AwaitingFinalize
)

type instanceKey struct {
	Tag        curve.Tag
	Passphrase string
}

// instance is the single value tracked per key, in place of two
// parallel round-1/round-2 maps.
type instance struct {
	phase     Phase
	poly      *curve.Polynomial
	createdAt time.Time
}

// DefaultMaxAge is the GC eviction age for abandoned DKG instances: an
// aggregator that dies mid-ceremony leaves state behind that nothing
// else will ever clean up.
const DefaultMaxAge = 10 * time.Minute

// DefaultMaxInFlight bounds the number of concurrently in-flight DKG
// instances a node will hold; each one pins round-1 secret material in
// memory.
const DefaultMaxInFlight = 1000

// Manager is the mutex-protected ephemeral DKG state for one node.
// Critical sections contain only insert/lookup/remove.
type Manager struct {
	mu          sync.Mutex
	instances   map[instanceKey]*instance
	maxAge      time.Duration
	maxInFlight int
}

func NewManager() *Manager {
	return &Manager{
		instances:   make(map[instanceKey]*instance),
		maxAge:      DefaultMaxAge,
		maxInFlight: DefaultMaxInFlight,
	}
}

// BeginRound1 stores the round-1 secret (the sampled polynomial) for
// (tag, passphrase), overwriting any prior attempt: a new DKG attempt
// supersedes. Returns an error if the node is already at
// capacity and this key is not already tracked.
func (m *Manager) BeginRound1(tag curve.Tag, passphrase string, poly *curve.Polynomial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	key := instanceKey{Tag: tag, Passphrase: passphrase}
	if _, exists := m.instances[key]; !exists && len(m.instances) >= m.maxInFlight {
		return fmt.Errorf("dkgstate: too many in-flight DKG instances (max %d)", m.maxInFlight)
	}
	m.instances[key] = &instance{phase: AwaitingRound2, poly: poly, createdAt: time.Now()}
	return nil
}

// Round1Secret returns the stored polynomial for round 2, failing with
// "must call round 1 first" if absent.
func (m *Manager) Round1Secret(tag curve.Tag, passphrase string) (*curve.Polynomial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceKey{Tag: tag, Passphrase: passphrase}]
	if !ok {
		return nil, fmt.Errorf("dkgstate: must call round 1 first")
	}
	return inst.poly, nil
}

// AdvanceToFinalize transitions (tag, passphrase) from awaiting-round2 to
// awaiting-finalize. Round 2 in this protocol produces no additional
// secret beyond the round-1 polynomial (FROST's round-2 secret package is
// the same coefficients), so this is a pure phase transition.
func (m *Manager) AdvanceToFinalize(tag curve.Tag, passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instanceKey{Tag: tag, Passphrase: passphrase}
	inst, ok := m.instances[key]
	if !ok {
		return fmt.Errorf("dkgstate: must call round 1 first")
	}
	inst.phase = AwaitingFinalize
	return nil
}

// Round2Secret returns the polynomial for Finalize, failing if round 2
// has not yet run for this key.
func (m *Manager) Round2Secret(tag curve.Tag, passphrase string) (*curve.Polynomial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceKey{Tag: tag, Passphrase: passphrase}]
	if !ok || inst.phase != AwaitingFinalize {
		return nil, fmt.Errorf("dkgstate: must call round 2 first")
	}
	return inst.poly, nil
}

// Drop removes (tag, passphrase)'s ephemeral state, called on Finalize
// success. A failed Finalize leaves the state in place; abandoned
// instances are removed by the maxAge eviction pass.
func (m *Manager) Drop(tag curve.Tag, passphrase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceKey{Tag: tag, Passphrase: passphrase})
}

// evictLocked drops instances older than maxAge. Must be called with mu
// held.
func (m *Manager) evictLocked() {
	cutoff := time.Now().Add(-m.maxAge)
	for key, inst := range m.instances {
		if inst.createdAt.Before(cutoff) {
			delete(m.instances, key)
		}
	}
}

// Len reports the number of in-flight instances, for tests and metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
