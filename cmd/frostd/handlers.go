package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openmatching/frost-custody/internal/aggregator/address"
	"github.com/openmatching/frost-custody/internal/aggregator/fanout"
	"github.com/openmatching/frost-custody/internal/aggregator/signing"
	"github.com/openmatching/frost-custody/internal/chainaddr"
	"github.com/openmatching/frost-custody/internal/config"
	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/httperr"
)

// writeAggErr translates orchestration failures to error kinds: a
// node that cannot be reached, or a subset short of threshold, is a 503
// the client should retry; anything already kind-tagged passes through.
func writeAggErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fanout.ErrUnreachable), errors.Is(err, signing.ErrThresholdNotMet):
		httperr.Write(w, httperr.Wrap(httperr.ThresholdNotMet, "cannot reach enough signer nodes", err))
	default:
		httperr.Write(w, err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func networkFor(net *config.Network, chain chainaddr.Chain) string {
	switch chain {
	case chainaddr.Bitcoin:
		return net.BitcoinNet()
	case chainaddr.Ethereum:
		return net.EthereumNet()
	default:
		return net.SolanaNet()
	}
}

type addressRequest struct {
	Chain      string `json:"chain"`
	Passphrase string `json:"passphrase"`
}

// newAddressHandler serves POST /api/address/generate: run DKG
// for (chain, passphrase) if no key exists yet and return the derived
// deposit address.
func newAddressHandler(agg *address.Aggregator, net *config.Network) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid request body", err))
			return
		}
		generateAddress(w, r, agg, net, req.Chain, req.Passphrase)
	}
}

// newAddressQueryHandler serves GET /api/address?chain=…&passphrase=…, the
// idempotent form of generate.
func newAddressQueryHandler(agg *address.Aggregator, net *config.Network) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		generateAddress(w, r, agg, net, q.Get("chain"), q.Get("passphrase"))
	}
}

func generateAddress(w http.ResponseWriter, r *http.Request, agg *address.Aggregator, net *config.Network, chainName, passphrase string) {
	chain, err := chainaddr.ParseChain(chainName)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid chain", err))
		return
	}
	if passphrase == "" {
		httperr.Write(w, httperr.New(httperr.ConfigInvalid, "passphrase is required"))
		return
	}
	result, err := agg.GenerateAddress(r.Context(), chain, passphrase, networkFor(net, chain))
	if err != nil {
		writeAggErr(w, err)
		return
	}
	writeJSON(w, result)
}

type signRequest struct {
	Curve      string `json:"curve"`
	Passphrase string `json:"passphrase"`
	Message    string `json:"message"` // hex-encoded raw message
	Prefix     string `json:"prefix"`  // optional chain-specific domain prefix
}

// newSignHandler serves POST /api/sign/message. The curve
// field defaults to secp256k1-tr. When Prefix is set it is prepended to
// the message before hashing, matching how a chain-specific signed-message
// convention (e.g. Ethereum's "\x19Ethereum Signed Message:\n") is layered
// on top of the generic FROST ceremony.
func newSignHandler(agg *signing.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid request body", err))
			return
		}
		if req.Curve == "" {
			req.Curve = string(curve.Secp256k1Taproot)
		}
		tag, err := curve.ParseTag(req.Curve)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid curve", err))
			return
		}
		message, err := hex.DecodeString(req.Message)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid message hex", err))
			return
		}
		if req.Prefix != "" {
			message = append([]byte(req.Prefix), message...)
		}
		result, err := agg.SignMessage(r.Context(), tag, req.Passphrase, message)
		if err != nil {
			writeAggErr(w, err)
			return
		}
		writeJSON(w, result)
	}
}

type signPSBTRequest struct {
	PSBT        string   `json:"psbt"` // base64
	Passphrases []string `json:"passphrases"`
}

// newSignPSBTHandler serves POST /api/sign/psbt.
func newSignPSBTHandler(agg *signing.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signPSBTRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid request body", err))
			return
		}
		result, err := agg.SignPSBT(r.Context(), req.PSBT, req.Passphrases)
		if err != nil {
			writeAggErr(w, err)
			return
		}
		writeJSON(w, result)
	}
}

type nodeHealth struct {
	Index   uint16 `json:"index"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
}

// newAggregatorHealthHandler reports the configured threshold and each
// signer node's probe result.
func newAggregatorHealthHandler(client *fanout.Client, threshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes := make([]nodeHealth, 0, len(client.Nodes))
		healthy := 0
		for _, node := range client.Nodes {
			ok := client.Healthy(r.Context(), node)
			if ok {
				healthy++
			}
			nodes = append(nodes, nodeHealth{Index: node.Index, URL: node.URL, Healthy: ok})
		}
		status := "ok"
		if healthy < threshold {
			status = "degraded"
		}
		writeJSON(w, map[string]any{
			"status":       status,
			"threshold":    threshold,
			"signer_nodes": len(client.Nodes),
			"nodes":        nodes,
		})
	}
}
