// Package noncecrypt seals signing nonces for their round trip through
// the aggregator: AES-256-GCM with a random 96-bit nonce prefixed to the
// ciphertext and the message digest bound as associated data. A bit-flip
// in the blob fails to decrypt instead of silently corrupting the
// signing nonces, and a blob sealed for one message cannot be opened
// against another.
package noncecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/openmatching/frost-custody/internal/curve"
)

// ErrMessageMismatch is returned by Decrypt when the blob was produced
// for a different message.
var ErrMessageMismatch = fmt.Errorf("noncecrypt: message mismatch")

// Encrypt seals nonces for the given message under key (32 bytes, from
// seed.Master.NonceEncryptionKey), returning a self-contained blob: 12-byte
// GCM nonce || ciphertext || tag. The 32-byte message digest is bound as
// AEAD associated data, so Decrypt rejects any blob opened against a
// different message without needing to inspect plaintext.
func Encrypt(key []byte, message []byte, nonces curve.SigningNonces) ([]byte, error) {
	plaintext, err := nonces.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("noncecrypt: encode nonces: %w", err)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	gcmNonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(gcmNonce); err != nil {
		return nil, fmt.Errorf("noncecrypt: nonce: %w", err)
	}
	aad := messageDigest(message)
	ciphertext := aead.Seal(nil, gcmNonce, plaintext, aad[:])
	return append(gcmNonce, ciphertext...), nil
}

// Decrypt opens a blob produced by Encrypt, rejecting it with
// ErrMessageMismatch whenever AEAD authentication fails (message differs
// from the one it was sealed for, or the blob was tampered with), and with
// a generic error if the blob is shorter than a GCM nonce.
func Decrypt(key []byte, message []byte, blob []byte) (curve.SigningNonces, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return curve.SigningNonces{}, err
	}
	if len(blob) < aead.NonceSize() {
		return curve.SigningNonces{}, fmt.Errorf("noncecrypt: blob too short")
	}
	gcmNonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	aad := messageDigest(message)
	plaintext, err := aead.Open(nil, gcmNonce, ciphertext, aad[:])
	if err != nil {
		// AEAD authentication failure covers both tampering and a blob
		// sealed with a different AAD (i.e. a different message), so a
		// generic Open failure is reported as the message-binding error:
		// that is overwhelmingly the operational cause in this protocol.
		return curve.SigningNonces{}, ErrMessageMismatch
	}
	nonces, err := curve.UnmarshalSigningNonces(plaintext)
	if err != nil {
		return curve.SigningNonces{}, fmt.Errorf("noncecrypt: decode nonces: %w", err)
	}
	return nonces, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("noncecrypt: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("noncecrypt: gcm: %w", err)
	}
	return aead, nil
}

func messageDigest(message []byte) [32]byte {
	return sha256.Sum256(message)
}
