// Package address implements the address-generation aggregator: it
// drives a fresh DKG across the configured signer nodes for a
// (curve, passphrase) pair it has never seen before, then derives the
// chain-specific deposit address from the resulting group public key.
// It never touches a signing share — only the public verifying key ever
// reaches this process.
package address

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/aggregator/fanout"
	"github.com/openmatching/frost-custody/internal/chainaddr"
	"github.com/openmatching/frost-custody/internal/curve"
)

// Aggregator drives DKG ceremonies and address derivation across a fixed
// set of signer nodes.
type Aggregator struct {
	Client *fanout.Client
	Log    *zap.SugaredLogger
}

func New(client *fanout.Client, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{Client: client, Log: log}
}

// Result is what a caller receives for a (chain, passphrase) request.
type Result struct {
	Address       string `json:"address"`
	Chain         string `json:"chain"`
	Passphrase    string `json:"passphrase"`
	PubkeyHex     string `json:"pubkey_hex"`
	HasPassphrase bool   `json:"has_passphrase"` // true if an existing key was reused rather than a fresh DKG run
}

func curvePath(tag curve.Tag) string { return string(tag) }

// GenerateAddress returns the deposit address for (chain, passphrase),
// running a new DKG ceremony the first time this passphrase is seen and
// reusing the existing group key on every subsequent call. The lookup
// keeps the endpoint idempotent: a repeat request must never re-key an
// address that may already hold funds.
func (a *Aggregator) GenerateAddress(ctx context.Context, chain chainaddr.Chain, passphrase, network string) (*Result, error) {
	tag, err := chain.CurveTag()
	if err != nil {
		return nil, err
	}
	if existing, err := a.lookupExisting(ctx, tag, passphrase); err != nil {
		return nil, err
	} else if existing != "" {
		addr, err := deriveAddress(chain, existing, network)
		if err != nil {
			return nil, err
		}
		return &Result{Address: addr, Chain: string(chain), Passphrase: passphrase, PubkeyHex: existing, HasPassphrase: true}, nil
	}

	pubkeyHex, err := a.runDKG(ctx, tag, passphrase)
	if err != nil {
		return nil, err
	}
	addr, err := deriveAddress(chain, pubkeyHex, network)
	if err != nil {
		return nil, err
	}
	return &Result{Address: addr, Chain: string(chain), Passphrase: passphrase, PubkeyHex: pubkeyHex, HasPassphrase: false}, nil
}

// lookupExisting asks the first configured node whether a pubkey package
// already exists for (tag, passphrase); an absent key returns ("", nil).
func (a *Aggregator) lookupExisting(ctx context.Context, tag curve.Tag, passphrase string) (string, error) {
	if len(a.Client.Nodes) == 0 {
		return "", fmt.Errorf("address: no signer nodes configured")
	}
	var resp struct {
		PubkeyHex string `json:"pubkey_hex"`
	}
	status, err := a.Client.Get(ctx, a.Client.Nodes[0], "/api/curve/"+curvePath(tag)+"/pubkey?passphrase="+passphrase, &resp)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", nil
	}
	return resp.PubkeyHex, nil
}

func deriveAddress(chain chainaddr.Chain, pubkeyHex, network string) (string, error) {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("address: decode group pubkey: %w", err)
	}
	return chainaddr.Derive(chain, pub, network)
}

type wireRound1Entry struct {
	NodeIndex uint16 `json:"node_index"`
	Package   string `json:"package"`
}

type dkgRound1Response struct {
	NodeIndex uint16 `json:"node_index"`
	Package   string `json:"package"`
}

type wireRound2OutEntry struct {
	SenderIndex    uint16 `json:"sender_index"`
	RecipientIndex uint16 `json:"recipient_index"`
	Package        string `json:"package"`
}

type dkgRound2Response struct {
	Packages []wireRound2OutEntry `json:"packages"`
}

type dkgFinalizeResponse struct {
	Success   bool   `json:"success"`
	PubkeyHex string `json:"pubkey_hex"`
}

// runDKG drives the three-round ceremony to completion and returns the
// resulting group verifying key as hex. Every node's finalize response
// is compared: nodes disagreeing on the group key abort the ceremony
// rather than commit inconsistent state.
func (a *Aggregator) runDKG(ctx context.Context, tag curve.Tag, passphrase string) (string, error) {
	path := "/api/dkg/" + curvePath(tag)

	round1Raw, err := fanout.Broadcast(ctx, a.Client, fanout.Call{
		Path: path + "/round1",
		Body: map[string]string{"passphrase": passphrase},
	}, func() any { return &dkgRound1Response{} })
	if err != nil {
		return "", fmt.Errorf("address: dkg round1: %w", err)
	}
	round1Packages := make([]wireRound1Entry, 0, len(round1Raw))
	for idx, v := range round1Raw {
		r := v.(*dkgRound1Response)
		round1Packages = append(round1Packages, wireRound1Entry{NodeIndex: idx, Package: r.Package})
	}

	round2Raw, err := fanout.Broadcast(ctx, a.Client, fanout.Call{
		Path: path + "/round2",
		Body: map[string]any{"passphrase": passphrase, "round1_packages": round1Packages},
	}, func() any { return &dkgRound2Response{} })
	if err != nil {
		return "", fmt.Errorf("address: dkg round2: %w", err)
	}
	var allRound2 []wireRound2OutEntry
	for _, v := range round2Raw {
		r := v.(*dkgRound2Response)
		allRound2 = append(allRound2, r.Packages...)
	}

	finalizeRaw, err := fanout.Broadcast(ctx, a.Client, fanout.Call{
		Path: path + "/finalize",
		Body: map[string]any{"passphrase": passphrase, "round1_packages": round1Packages, "round2_packages": allRound2},
	}, func() any { return &dkgFinalizeResponse{} })
	if err != nil {
		return "", fmt.Errorf("address: dkg finalize: %w", err)
	}

	var groupPubkey string
	for idx, v := range finalizeRaw {
		r := v.(*dkgFinalizeResponse)
		if !r.Success {
			return "", fmt.Errorf("address: node %d failed to finalize dkg", idx)
		}
		if groupPubkey == "" {
			groupPubkey = r.PubkeyHex
		} else if groupPubkey != r.PubkeyHex {
			return "", fmt.Errorf("address: nodes disagree on group verifying key, node %d reported a different key", idx)
		}
	}
	a.Log.Infow("dkg complete", "curve", tag, "pubkey", groupPubkey)
	return groupPubkey, nil
}
