// Package chainaddr derives chain-specific address strings from a raw
// group public key. Signer nodes never see chain identity — this is
// exclusively an address aggregator concern, keeping nodes
// chain-agnostic.
package chainaddr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"

	"github.com/openmatching/frost-custody/internal/curve"
)

// Chain is one of the three supported chain families.
type Chain string

const (
	Bitcoin  Chain = "bitcoin"
	Ethereum Chain = "ethereum"
	Solana   Chain = "solana"
)

func ParseChain(s string) (Chain, error) {
	switch s {
	case "bitcoin", "btc":
		return Bitcoin, nil
	case "ethereum", "eth":
		return Ethereum, nil
	case "solana", "sol":
		return Solana, nil
	default:
		return "", fmt.Errorf("chainaddr: unsupported chain %q", s)
	}
}

// CurveTag maps a chain family to the curve its threshold keys live on:
// Bitcoin signs Taproot/Schnorr, Ethereum ECDSA, Solana Ed25519.
func (c Chain) CurveTag() (curve.Tag, error) {
	switch c {
	case Bitcoin:
		return curve.Secp256k1Taproot, nil
	case Ethereum:
		return curve.Secp256k1Ecdsa, nil
	case Solana:
		return curve.Ed25519, nil
	default:
		return "", fmt.Errorf("chainaddr: unsupported chain %q", c)
	}
}

// Derive produces the chain's address string for a raw group public
// key. It is a pure function of its inputs.
func Derive(chain Chain, groupPubkey []byte, network string) (string, error) {
	switch chain {
	case Bitcoin:
		return TaprootAddress(groupPubkey, network)
	case Ethereum:
		return EthereumAddress(groupPubkey)
	case Solana:
		return SolanaAddress(groupPubkey)
	default:
		return "", fmt.Errorf("chainaddr: unsupported chain %q", chain)
	}
}

func bitcoinHRP(network string) string {
	switch network {
	case "testnet", "signet":
		return "tb"
	case "regtest":
		return "bcrt"
	default:
		return "bc"
	}
}

// TaprootAddress derives a P2TR bech32m address from a compressed
// secp256k1 group public key, using the *untweaked* group key as the
// Taproot output. Valid per BIP-341, but externally identifiable as a
// "raw key" output; applying the BIP-341 tweak would require every
// signer to incorporate it during the signing ceremony.
func TaprootAddress(groupPubkey []byte, network string) (string, error) {
	if len(groupPubkey) != 33 {
		return "", fmt.Errorf("chainaddr: bitcoin: expected 33-byte compressed pubkey, got %d", len(groupPubkey))
	}
	xOnly := groupPubkey[1:]
	program, err := bech32.ConvertBits(xOnly, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("chainaddr: bitcoin: convert bits: %w", err)
	}
	data := append([]byte{1}, program...) // witness version 1 (Taproot)
	addr, err := bech32.EncodeM(bitcoinHRP(network), data)
	if err != nil {
		return "", fmt.Errorf("chainaddr: bitcoin: encode bech32m: %w", err)
	}
	return addr, nil
}

// EthereumAddress derives the last-20-bytes-of-Keccak256 address from a
// compressed secp256k1 group public key.
func EthereumAddress(groupPubkey []byte) (string, error) {
	pub, err := secp256k1.ParsePubKey(groupPubkey)
	if err != nil {
		return "", fmt.Errorf("chainaddr: ethereum: parse pubkey: %w", err)
	}
	uncompressed := pub.SerializeUncompressed() // 0x04 || X || Y
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	digest := h.Sum(nil)
	return fmt.Sprintf("0x%x", digest[12:]), nil
}

// SolanaAddress derives a base58 address directly from a 32-byte Ed25519
// group public key.
func SolanaAddress(groupPubkey []byte) (string, error) {
	if len(groupPubkey) != 32 {
		return "", fmt.Errorf("chainaddr: solana: expected 32-byte ed25519 pubkey, got %d", len(groupPubkey))
	}
	return base58.Encode(groupPubkey), nil
}
