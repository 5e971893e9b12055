// Package seed derives every secret stream a node needs — DKG randomness,
// nonce-encryption keys, at-rest storage keys — from the one piece of
// long-lived secret material a node holds: its master seed. Every derived
// stream is a pure function of (master seed, domain label, passphrase),
// which is what makes DKG round 1 bit-identical across restarts
// and a node's entire share set recoverable from the seed alone.
package seed

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/openmatching/frost-custody/internal/curve"
)

// MinLength is the minimum accepted length, in bytes, of a master seed
// loaded from configuration.
const MinLength = 32

// Master wraps a node's master seed. It is loaded once at startup and
// held only in memory: it is never written to storage or logged.
type Master struct {
	raw []byte
}

// NewMaster validates and wraps raw seed bytes.
func NewMaster(raw []byte) (Master, error) {
	if len(raw) < MinLength {
		return Master{}, fmt.Errorf("seed: master seed must be at least %d bytes, got %d", MinLength, len(raw))
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Master{raw: cp}, nil
}

// DKGRand returns the deterministic RNG for DKG round 1 at (curve,
// passphrase): H(master_seed || curve_prefix || passphrase) seeds a
// ChaCha20 keystream. The curve_prefix disambiguates curves
// sharing a passphrase so that, e.g., a Bitcoin and an Ethereum key for
// the same passphrase are independent.
func (m Master) DKGRand(tag curve.Tag, passphrase string) (io.Reader, error) {
	h := sha256.New()
	h.Write(m.raw)
	h.Write([]byte(tag.Prefix()))
	h.Write([]byte(passphrase))
	key := h.Sum(nil)

	var nonce [chacha20.NonceSize]byte // all-zero: the key is already unique per (curve, passphrase)
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return nil, fmt.Errorf("seed: chacha20 init: %w", err)
	}
	return &keystreamReader{cipher: cipher}, nil
}

// keystreamReader turns a chacha20.Cipher into an io.Reader of pure
// keystream by XOR-ing against an all-zero buffer.
type keystreamReader struct {
	cipher *chacha20.Cipher
}

func (k *keystreamReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	k.cipher.XORKeyStream(p, p)
	return len(p), nil
}

// NonceEncryptionKey derives the deterministic key used to encrypt signing
// nonces in flight to the aggregator, via HKDF-SHA256.
func (m Master) NonceEncryptionKey() ([]byte, error) {
	return m.hkdf("nonce-encryption", "")
}

// StorageEncryptionKey derives the per-passphrase at-rest encryption key
// for the share store.
func (m Master) StorageEncryptionKey(passphrase string) ([]byte, error) {
	return m.hkdf("storage-encryption", passphrase)
}

func (m Master) hkdf(label, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, m.raw, nil, []byte(label+":"+info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("seed: hkdf %s: %w", label, err)
	}
	return key, nil
}
