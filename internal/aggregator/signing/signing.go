// Package signing implements the signing aggregator: select
// any t of the n signer nodes, run the two FROST signing rounds against
// that subset in parallel, and aggregate their shares into the final
// signature. Like the address aggregator, it never sees a signing share
// in the clear — only commitments and the final share scalars, which by
// themselves reveal nothing about the underlying secret.
package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/aggregator/fanout"
	"github.com/openmatching/frost-custody/internal/curve"
)

// ErrThresholdNotMet is returned when fewer than Threshold signer nodes
// answer the health probe; surfaced as 503 so the client retries.
var ErrThresholdNotMet = errors.New("signing: cannot reach threshold healthy signer nodes")

// Aggregator drives signing ceremonies against a fixed node set.
type Aggregator struct {
	Client    *fanout.Client
	Threshold int
	Log       *zap.SugaredLogger
}

func New(client *fanout.Client, threshold int, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{Client: client, Threshold: threshold, Log: log}
}

// Result is the outcome of a successful signing ceremony.
type Result struct {
	SignatureHex string `json:"signature"`
}

// selectSubset picks the first Threshold healthy nodes in configured
// order. Keeping the order deterministic keeps a failed
// ceremony's retry reproducible; the probe only skips nodes that are
// outright down.
func (a *Aggregator) selectSubset(ctx context.Context) ([]fanout.Node, error) {
	if a.Threshold <= 0 || a.Threshold > len(a.Client.Nodes) {
		return nil, fmt.Errorf("signing: invalid threshold %d for %d configured nodes", a.Threshold, len(a.Client.Nodes))
	}
	subset := make([]fanout.Node, 0, a.Threshold)
	for _, node := range a.Client.Nodes {
		if !a.Client.Healthy(ctx, node) {
			a.Log.Warnw("signer node failed health probe", "node_index", node.Index, "url", node.URL)
			continue
		}
		subset = append(subset, node)
		if len(subset) == a.Threshold {
			return subset, nil
		}
	}
	return nil, fmt.Errorf("%w: %d healthy of %d configured, need %d", ErrThresholdNotMet, len(subset), len(a.Client.Nodes), a.Threshold)
}

type signRound1Response struct {
	Identifier      string `json:"identifier"`
	Commitments     string `json:"commitments"`
	EncryptedNonces string `json:"encrypted_nonces"`
	NodeIndex       uint16 `json:"node_index"`
}

type wireCommitmentEntry struct {
	Identifier  string `json:"identifier"`
	Commitments string `json:"commitments"`
}

type signRound2Response struct {
	Identifier     string `json:"identifier"`
	SignatureShare string `json:"signature_share"`
}

type wireShareEntry struct {
	Identifier     string `json:"identifier"`
	SignatureShare string `json:"signature_share"`
}

type aggregateResponse struct {
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
}

// SignMessage hashes rawMessage to its 32-byte digest (signing operates
// on a digest, never the raw payload) and runs the full signing
// ceremony, returning the aggregated, verified signature.
func (a *Aggregator) SignMessage(ctx context.Context, tag curve.Tag, passphrase string, rawMessage []byte) (*Result, error) {
	digest := sha256.Sum256(rawMessage)
	return a.SignDigest(ctx, tag, passphrase, digest[:])
}

// SignDigest runs the ceremony against an already-computed digest,
// allowing callers (e.g. a PSBT signer presenting a sighash) to bypass
// the SHA-256 wrapper in SignMessage.
func (a *Aggregator) SignDigest(ctx context.Context, tag curve.Tag, passphrase string, digest []byte) (*Result, error) {
	subset, err := a.selectSubset(ctx)
	if err != nil {
		return nil, err
	}
	path := "/api/frost/" + string(tag)
	messageHex := hex.EncodeToString(digest)

	round1Raw, err := fanout.BroadcastSubset(ctx, a.Client, subset, fanout.Call{
		Path: path + "/round1",
		Body: map[string]string{"passphrase": passphrase, "message": messageHex},
	}, func() any { return &signRound1Response{} })
	if err != nil {
		return nil, fmt.Errorf("signing: round1: %w", err)
	}

	allCommitments := make([]wireCommitmentEntry, 0, len(round1Raw))
	encryptedNonces := make(map[uint16]string, len(round1Raw))
	for idx, v := range round1Raw {
		r := v.(*signRound1Response)
		allCommitments = append(allCommitments, wireCommitmentEntry{Identifier: r.Identifier, Commitments: r.Commitments})
		encryptedNonces[idx] = r.EncryptedNonces
	}

	round2Raw, err := fanout.BroadcastPerNode(ctx, a.Client, subset, path+"/round2", func(node fanout.Node) any {
		return map[string]any{
			"passphrase":       passphrase,
			"message":          messageHex,
			"encrypted_nonces": encryptedNonces[node.Index],
			"all_commitments":  allCommitments,
		}
	}, func() any { return &signRound2Response{} })
	if err != nil {
		return nil, fmt.Errorf("signing: round2: %w", err)
	}

	shares := make([]wireShareEntry, 0, len(round2Raw))
	for _, v := range round2Raw {
		r := v.(*signRound2Response)
		shares = append(shares, wireShareEntry{Identifier: r.Identifier, SignatureShare: r.SignatureShare})
	}

	// Aggregation and final verification happen at a node, which holds the
	// public key package; any node in the subset can perform it.
	var aggResp aggregateResponse
	node := subset[0]
	if err := a.postAggregate(ctx, node, path+"/aggregate", passphrase, messageHex, allCommitments, shares, &aggResp); err != nil {
		return nil, fmt.Errorf("signing: aggregate: %w", err)
	}
	if !aggResp.Verified {
		return nil, fmt.Errorf("signing: aggregated signature failed verification")
	}
	a.Log.Infow("signing complete", "curve", tag)
	return &Result{SignatureHex: aggResp.Signature}, nil
}

func (a *Aggregator) postAggregate(ctx context.Context, node fanout.Node, path, passphrase, messageHex string, commitments []wireCommitmentEntry, shares []wireShareEntry, dst *aggregateResponse) error {
	raw, err := fanout.BroadcastSubset(ctx, a.Client, []fanout.Node{node}, fanout.Call{
		Path: path,
		Body: map[string]any{
			"passphrase":       passphrase,
			"message":          messageHex,
			"all_commitments":  commitments,
			"signature_shares": shares,
		},
	}, func() any { return &aggregateResponse{} })
	if err != nil {
		return err
	}
	*dst = *raw[node.Index].(*aggregateResponse)
	return nil
}
