package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/openmatching/frost-custody/internal/curve"
)

// PSBTResult is the outcome of a PSBT signing request: the updated PSBT
// and how many inputs received a key-spend signature.
type PSBTResult struct {
	SignedPSBT      string `json:"signed_psbt"`
	SignaturesAdded int    `json:"signatures_added"`
}

// SignPSBT signs every Taproot key-spend input of a base64 PSBT with the
// FROST message-signing flow: compute the BIP-341
// key-spend sighash per input, run the two signing rounds for that
// input's passphrase, and embed the 64-byte Schnorr signature in the
// input's tap_key_sig slot. Passphrases map to inputs by position, one
// per input. An input whose ceremony fails is skipped and logged; the
// caller sees how many signatures landed via SignaturesAdded.
func (a *Aggregator) SignPSBT(ctx context.Context, psbtB64 string, passphrases []string) (*PSBTResult, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(psbtB64), true)
	if err != nil {
		return nil, fmt.Errorf("signing: invalid psbt: %w", err)
	}
	if len(passphrases) != len(packet.Inputs) {
		return nil, fmt.Errorf("signing: passphrase count mismatch: %d inputs, %d passphrases", len(packet.Inputs), len(passphrases))
	}

	// BIP-341 sighashes commit to every spent output, so all inputs need a
	// witness utxo before any one can be signed.
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(packet.Inputs))
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("signing: psbt input %d is missing its witness utxo", i)
		}
		prevOuts[packet.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	added := 0
	for i := range packet.Inputs {
		digest, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, packet.UnsignedTx, i, fetcher)
		if err != nil {
			return nil, fmt.Errorf("signing: psbt input %d sighash: %w", i, err)
		}
		result, err := a.SignDigest(ctx, curve.Secp256k1Taproot, passphrases[i], digest)
		if err != nil {
			a.Log.Errorw("psbt input signing failed", "input", i, "error", err)
			continue
		}
		sig, err := hex.DecodeString(result.SignatureHex)
		if err != nil || len(sig) != 64 {
			a.Log.Errorw("psbt input produced malformed signature", "input", i, "len", len(sig))
			continue
		}
		packet.Inputs[i].TaprootKeySpendSig = sig
		added++
	}

	out, err := packet.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("signing: encode psbt: %w", err)
	}
	a.Log.Infow("psbt signing complete", "inputs", len(packet.Inputs), "signatures_added", added)
	return &PSBTResult{SignedPSBT: out, SignaturesAdded: added}, nil
}
