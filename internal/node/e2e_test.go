package node_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/aggregator/address"
	"github.com/openmatching/frost-custody/internal/aggregator/fanout"
	"github.com/openmatching/frost-custody/internal/aggregator/signing"
	"github.com/openmatching/frost-custody/internal/chainaddr"
	"github.com/openmatching/frost-custody/internal/dkgstate"
	"github.com/openmatching/frost-custody/internal/node"
	"github.com/openmatching/frost-custody/internal/seed"
	"github.com/openmatching/frost-custody/internal/storage"
)

// cluster is an in-process 3-node signer cluster behind httptest servers,
// with both aggregators pointed at it.
type cluster struct {
	nodes   []*node.Node
	servers []*httptest.Server
	client  *fanout.Client
	addr    *address.Aggregator
	sign    *signing.Aggregator
}

func nodeSeed(i int) []byte {
	return bytes.Repeat([]byte{byte(i + 1)}, 32)
}

func newCluster(t *testing.T, n, threshold int) *cluster {
	t.Helper()
	log := zap.NewNop().Sugar()
	c := &cluster{}
	fanNodes := make([]fanout.Node, 0, n)
	for i := 0; i < n; i++ {
		master, err := seed.NewMaster(nodeSeed(i))
		require.NoError(t, err)
		store, err := storage.Open(filepath.Join(t.TempDir(), fmt.Sprintf("node%d.db", i)), nil, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		nd := &node.Node{
			Index:      uint16(i),
			MinSigners: uint16(threshold),
			MaxSigners: uint16(n),
			Master:     master,
			Store:      store,
			DKG:        dkgstate.NewManager(),
			Log:        log,
		}
		srv := httptest.NewServer(nd.Router())
		t.Cleanup(srv.Close)
		c.nodes = append(c.nodes, nd)
		c.servers = append(c.servers, srv)
		fanNodes = append(fanNodes, fanout.Node{Index: uint16(i), URL: srv.URL})
	}
	c.client = fanout.NewClient(fanNodes)
	c.addr = address.New(c.client, log)
	c.sign = signing.New(c.client, threshold, log)
	return c
}

func postJSON(t *testing.T, url string, body any, dst any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

// A 2-of-3 Bitcoin flow end to end: DKG, Taproot address derivation,
// and a threshold signing round over an all-zero 32-byte digest.
func TestBitcoinDKGAndSignEndToEnd(t *testing.T) {
	c := newCluster(t, 3, 2)
	ctx := context.Background()

	result, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Address, "bc1p"), "mainnet taproot address: %s", result.Address)
	assert.False(t, result.HasPassphrase)

	again, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, result.Address, again.Address)
	assert.True(t, again.HasPassphrase, "second call must reuse the existing key, not re-run DKG")

	digest := make([]byte, 32)
	sig, err := c.sign.SignDigest(ctx, "secp256k1-tr", "u1", digest)
	require.NoError(t, err)
	raw, err := hex.DecodeString(sig.SignatureHex)
	require.NoError(t, err)
	assert.Len(t, raw, 64, "BIP-340 signatures are 64 bytes")
}

// Ed25519's little-endian identifiers must still route each node's
// round-2 packages to every other participant.
func TestEd25519Round2Routing(t *testing.T) {
	c := newCluster(t, 3, 2)

	type round1Resp struct {
		NodeIndex uint16 `json:"node_index"`
		Package   string `json:"package"`
	}
	type round1Entry struct {
		NodeIndex uint16 `json:"node_index"`
		Package   string `json:"package"`
	}
	var round1 []round1Entry
	for i, srv := range c.servers {
		var resp round1Resp
		status := postJSON(t, srv.URL+"/api/dkg/ed25519/round1", map[string]string{"passphrase": "sol1"}, &resp)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, uint16(i), resp.NodeIndex)
		round1 = append(round1, round1Entry{NodeIndex: resp.NodeIndex, Package: resp.Package})
	}

	type round2Entry struct {
		SenderIndex    uint16 `json:"sender_index"`
		RecipientIndex uint16 `json:"recipient_index"`
		Package        string `json:"package"`
	}
	type round2Resp struct {
		Packages []round2Entry `json:"packages"`
	}
	for i, srv := range c.servers {
		var resp round2Resp
		status := postJSON(t, srv.URL+"/api/dkg/ed25519/round2", map[string]any{
			"passphrase":      "sol1",
			"round1_packages": round1,
		}, &resp)
		require.Equal(t, http.StatusOK, status)

		recipients := map[uint16]bool{}
		for _, pkg := range resp.Packages {
			assert.Equal(t, uint16(i), pkg.SenderIndex)
			recipients[pkg.RecipientIndex] = true
		}
		assert.Len(t, recipients, 2)
		assert.False(t, recipients[uint16(i)], "a node never addresses a round-2 package to itself")
	}
}

// Round 2 with nonces bound to a different message must be rejected
// with MessageMismatch.
func TestMessageBindingRejection(t *testing.T) {
	c := newCluster(t, 3, 2)
	ctx := context.Background()
	_, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)

	messageA := strings.Repeat("aa", 32)
	messageB := strings.Repeat("bb", 32)

	type round1Resp struct {
		Identifier      string `json:"identifier"`
		Commitments     string `json:"commitments"`
		EncryptedNonces string `json:"encrypted_nonces"`
	}
	var r1 round1Resp
	status := postJSON(t, c.servers[0].URL+"/api/frost/secp256k1-tr/round1", map[string]string{
		"passphrase": "u1",
		"message":    messageA,
	}, &r1)
	require.Equal(t, http.StatusOK, status)

	raw, err := json.Marshal(map[string]any{
		"passphrase":       "u1",
		"message":          messageB,
		"encrypted_nonces": r1.EncryptedNonces,
		"all_commitments":  []map[string]string{{"identifier": r1.Identifier, "commitments": r1.Commitments}},
	})
	require.NoError(t, err)
	resp, err := http.Post(c.servers[0].URL+"/api/frost/secp256k1-tr/round2", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var wireErr struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wireErr))
	assert.Equal(t, "MessageMismatch", wireErr.Kind)
}

// Shares are a pure function of (master seed, passphrase): a cluster
// rebuilt with the same seeds and empty storage must derive the same
// address, and round 1 at a node must be bit-identical across runs.
func TestDeterministicRecovery(t *testing.T) {
	ctx := context.Background()
	a := newCluster(t, 3, 2)
	first, err := a.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)

	type round1Resp struct {
		Package string `json:"package"`
	}
	var p1, p2 round1Resp
	require.Equal(t, http.StatusOK, postJSON(t, a.servers[0].URL+"/api/dkg/secp256k1-tr/round1", map[string]string{"passphrase": "u1"}, &p1))
	require.Equal(t, http.StatusOK, postJSON(t, a.servers[0].URL+"/api/dkg/secp256k1-tr/round1", map[string]string{"passphrase": "u1"}, &p2))
	assert.Equal(t, p1.Package, p2.Package, "round 1 must be deterministic for a fixed (seed, passphrase)")

	b := newCluster(t, 3, 2) // same per-index seeds, fresh storage
	second, err := b.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.PubkeyHex, second.PubkeyHex)
}

// With one of three nodes down, a 3-of-3 configuration can neither
// generate an address nor sign, and no partial key material is
// persisted at the surviving nodes.
func TestThresholdNotMet(t *testing.T) {
	c := newCluster(t, 3, 3)
	ctx := context.Background()
	c.servers[2].Close()

	_, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.Error(t, err)
	assert.ErrorIs(t, err, fanout.ErrUnreachable)

	_, err = c.sign.SignDigest(ctx, "secp256k1-tr", "u1", make([]byte, 32))
	assert.ErrorIs(t, err, signing.ErrThresholdNotMet)

	resp, err := http.Get(c.servers[0].URL + "/api/curve/secp256k1-tr/pubkey?passphrase=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no partial DKG state may survive an aborted ceremony")
}

// The same passphrase on different curves must yield independent group
// keys.
func TestCrossCurveIndependence(t *testing.T) {
	c := newCluster(t, 3, 2)
	ctx := context.Background()

	btc, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "shared", "mainnet")
	require.NoError(t, err)
	eth, err := c.addr.GenerateAddress(ctx, chainaddr.Ethereum, "shared", "mainnet")
	require.NoError(t, err)
	assert.NotEqual(t, btc.PubkeyHex, eth.PubkeyHex, "curve prefix must separate the DKG RNG streams")
}

func TestEthereumAndSolanaSigning(t *testing.T) {
	c := newCluster(t, 3, 2)
	ctx := context.Background()

	_, err := c.addr.GenerateAddress(ctx, chainaddr.Ethereum, "e1", "mainnet")
	require.NoError(t, err)
	sig, err := c.sign.SignMessage(ctx, "secp256k1", "e1", []byte("transfer 1 ETH"))
	require.NoError(t, err)
	raw, err := hex.DecodeString(sig.SignatureHex)
	require.NoError(t, err)
	assert.Len(t, raw, 65, "ECDSA-shaped signatures carry a recovery id placeholder byte")

	_, err = c.addr.GenerateAddress(ctx, chainaddr.Solana, "s1", "mainnet")
	require.NoError(t, err)
	sig, err = c.sign.SignMessage(ctx, "ed25519", "s1", []byte("transfer 1 SOL"))
	require.NoError(t, err)
	raw, err = hex.DecodeString(sig.SignatureHex)
	require.NoError(t, err)
	assert.Len(t, raw, 64, "Ed25519 signatures are 64 bytes per RFC 8032")
}

// PSBT signing: one Taproot key-spend input signed through the full
// cluster, with the signature landing in the input's tap_key_sig slot.
func TestSignPSBT(t *testing.T) {
	c := newCluster(t, 3, 2)
	ctx := context.Background()

	result, err := c.addr.GenerateAddress(ctx, chainaddr.Bitcoin, "u1", "mainnet")
	require.NoError(t, err)
	groupPub, err := hex.DecodeString(result.PubkeyHex)
	require.NoError(t, err)
	require.Len(t, groupPub, 33)
	p2trScript := append([]byte{0x51, 0x20}, groupPub[1:]...) // OP_1 <x-only key>

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(90_000, p2trScript))
	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(100_000, p2trScript)
	b64, err := packet.B64Encode()
	require.NoError(t, err)

	signed, err := c.sign.SignPSBT(ctx, b64, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, signed.SignaturesAdded)

	decoded, err := psbt.NewFromRawBytes(strings.NewReader(signed.SignedPSBT), true)
	require.NoError(t, err)
	assert.Len(t, decoded.Inputs[0].TaprootKeySpendSig, 64)

	_, err = c.sign.SignPSBT(ctx, b64, nil)
	assert.Error(t, err, "passphrase count must match input count")
}
