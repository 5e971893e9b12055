package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// SeedEncryptor implements Encryptor using AES-256-GCM with a key derived
// from the node's master seed via HKDF and a *deterministic* nonce:
// `HKDF(master_seed, "storage-encryption", passphrase)` for the key,
// `SHA-256("nonce:" || passphrase)[:12]` for the nonce. The nonce is
// deterministic rather than random because the same passphrase must
// decrypt correctly on every startup without storing the nonce separately.
// Key and nonce depend on the passphrase alone, so every value stored
// under one passphrase (its key package and its pubkey package, on every
// curve) is sealed with the same (key, nonce) pair.
type SeedEncryptor struct {
	masterSeed []byte
}

func NewSeedEncryptor(masterSeed []byte) *SeedEncryptor {
	return &SeedEncryptor{masterSeed: masterSeed}
}

func (e *SeedEncryptor) aead(passphrase string) (cipher.AEAD, []byte, error) {
	r := hkdf.New(sha256.New, e.masterSeed, nil, []byte("storage-encryption:"+passphrase))
	key := make([]byte, 32)
	if _, err := r.Read(key); err != nil {
		return nil, nil, fmt.Errorf("storage: hkdf: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: gcm: %w", err)
	}
	nonceSeed := sha256.Sum256([]byte("nonce:" + passphrase))
	return aead, nonceSeed[:aead.NonceSize()], nil
}

func (e *SeedEncryptor) Seal(passphrase string, plaintext []byte) ([]byte, error) {
	aead, nonce, err := e.aead(passphrase)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *SeedEncryptor) Open(passphrase string, ciphertext []byte) ([]byte, error) {
	aead, nonce, err := e.aead(passphrase)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
