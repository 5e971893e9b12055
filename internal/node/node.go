// Package node implements the signer node HTTP API: DKG rounds, signing
// rounds, and the health/pubkey read endpoints.
// Each DKG or signing endpoint executes one round of one protocol and
// returns this node's contribution; the aggregate endpoint combines
// signature shares sent to it, using this node's stored public key
// package.
package node

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/curve"
	"github.com/openmatching/frost-custody/internal/dkgstate"
	"github.com/openmatching/frost-custody/internal/httperr"
	"github.com/openmatching/frost-custody/internal/noncecrypt"
	"github.com/openmatching/frost-custody/internal/seed"
	"github.com/openmatching/frost-custody/internal/storage"
)

// Node is the signer node's HTTP handler target: it owns this node's
// identity, its master seed, its durable share store, and its ephemeral
// DKG round state.
type Node struct {
	Index      uint16
	MinSigners uint16
	MaxSigners uint16
	Master     seed.Master
	Store      *storage.Store
	DKG        *dkgstate.Manager
	Log        *zap.SugaredLogger
}

// Router builds the pattern-based ServeMux for the signer node API. The
// fixed endpoint set needs method and path-parameter routing and nothing
// else, so the standard library mux covers it.
func (n *Node) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/curve/{curve}/pubkey", n.handlePubkey)
	mux.HandleFunc("POST /api/dkg/{curve}/round1", n.handleDKGRound1)
	mux.HandleFunc("POST /api/dkg/{curve}/round2", n.handleDKGRound2)
	mux.HandleFunc("POST /api/dkg/{curve}/finalize", n.handleDKGFinalize)
	mux.HandleFunc("POST /api/frost/{curve}/round1", n.handleSignRound1)
	mux.HandleFunc("POST /api/frost/{curve}/round2", n.handleSignRound2)
	mux.HandleFunc("POST /api/frost/{curve}/aggregate", n.handleAggregate)
	mux.HandleFunc("GET /health", n.handleHealth)
	return mux
}

func curveFromRequest(r *http.Request) (curve.Tag, error) {
	return curve.ParseTag(r.PathValue("curve"))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return httperr.Wrap(httperr.ConfigInvalid, "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func hexDecode(kind httperr.Kind, field string, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, httperr.Wrap(kind, fmt.Sprintf("invalid hex in field %q", field), err)
	}
	return b, nil
}

// handlePubkey serves GET /api/curve/{curve}/pubkey?passphrase=….
func (n *Node) handlePubkey(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	passphrase := r.URL.Query().Get("passphrase")
	pkp, ok, err := n.Store.GetPubkeyPackage(tag, passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StorageError, "reading pubkey package", err))
		return
	}
	if !ok {
		httperr.Write(w, httperr.New(httperr.NotFound, "no group verifying key for this (curve, passphrase)"))
		return
	}
	writeJSON(w, map[string]string{"pubkey_hex": hex.EncodeToString(pkp.VerifyingKey.Bytes())})
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":        "ok",
		"node_index":    n.Index,
		"seed_loaded":   true, // Master is always non-zero once constructed
		"storage_ready": n.Store != nil,
	})
}

type dkgRound1Request struct {
	Passphrase string `json:"passphrase"`
}

type dkgRound1Response struct {
	NodeIndex uint16 `json:"node_index"`
	Package   string `json:"package"`
}

func (n *Node) handleDKGRound1(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req dkgRound1Request
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}

	rng, err := n.Master.DKGRand(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "deriving DKG randomness", err))
		return
	}
	id, err := curve.NewIdentifier(tag, n.Index)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "constructing identifier", err))
		return
	}
	poly, r1pkg, err := curve.DKGPart1(id, int(n.MinSigners), int(n.MaxSigners), rng)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "dkg round 1", err))
		return
	}
	if err := n.DKG.BeginRound1(tag, req.Passphrase, poly); err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "tracking dkg state", err))
		return
	}
	raw, err := r1pkg.MarshalCBOR()
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "encoding round1 package", err))
		return
	}
	n.Log.Infow("dkg round1", "curve", tag, "node_index", n.Index)
	writeJSON(w, dkgRound1Response{NodeIndex: n.Index, Package: hex.EncodeToString(raw)})
}

type wireRound1Entry struct {
	NodeIndex uint16 `json:"node_index"`
	Package   string `json:"package"`
}

type dkgRound2Request struct {
	Passphrase     string            `json:"passphrase"`
	Round1Packages []wireRound1Entry `json:"round1_packages"`
}

type wireRound2OutEntry struct {
	SenderIndex    uint16 `json:"sender_index"`
	RecipientIndex uint16 `json:"recipient_index"`
	Package        string `json:"package"`
}

type dkgRound2Response struct {
	Packages []wireRound2OutEntry `json:"packages"`
}

// decodePeerRound1 decodes every entry's package and fails if fewer than
// `required` of the OTHER participants' entries decode successfully.
// Malformed entries are logged, never silently dropped past that
// threshold: a peer that can shrink the usable set undetected could
// break the soundness threshold.
func (n *Node) decodePeerRound1(tag curve.Tag, entries []wireRound1Entry, selfIndex uint16, required int) (map[uint16]curve.Round1Package, error) {
	out := make(map[uint16]curve.Round1Package, len(entries))
	validOthers := 0
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Package)
		if err != nil {
			n.Log.Warnw("malformed round1 package (bad hex)", "sender", e.NodeIndex)
			continue
		}
		pkg, err := curve.UnmarshalRound1Package(raw)
		if err != nil {
			n.Log.Warnw("malformed round1 package", "sender", e.NodeIndex, "error", err)
			continue
		}
		if pkg.Tag != tag {
			n.Log.Warnw("round1 package for wrong curve", "sender", e.NodeIndex, "got", pkg.Tag, "want", tag)
			continue
		}
		out[e.NodeIndex] = pkg
		if e.NodeIndex != selfIndex {
			validOthers++
		}
	}
	if validOthers < required {
		return nil, httperr.New(httperr.PeerPackageInvalid, fmt.Sprintf("only %d of %d peer round1 packages are valid", validOthers, required))
	}
	return out, nil
}

func (n *Node) handleDKGRound2(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req dkgRound2Request
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}
	poly, err := n.DKG.Round1Secret(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StateMissing, "must call round 1 first", err))
		return
	}
	self, err := curve.NewIdentifier(tag, n.Index)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "constructing identifier", err))
		return
	}
	peerR1, err := n.decodePeerRound1(tag, req.Round1Packages, n.Index, int(n.MaxSigners)-1)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	r2map, err := curve.DKGPart2(self, poly, peerR1)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "dkg round 2", err))
		return
	}
	if err := n.DKG.AdvanceToFinalize(tag, req.Passphrase); err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StateMissing, "must call round 1 first", err))
		return
	}

	out := make([]wireRound2OutEntry, 0, len(r2map))
	for recipIdx, pkg := range r2map {
		raw, err := pkg.MarshalCBOR()
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.Internal, "encoding round2 package", err))
			return
		}
		out = append(out, wireRound2OutEntry{SenderIndex: n.Index, RecipientIndex: recipIdx, Package: hex.EncodeToString(raw)})
	}
	n.Log.Infow("dkg round2", "curve", tag, "node_index", n.Index)
	writeJSON(w, dkgRound2Response{Packages: out})
}

type dkgFinalizeRequest struct {
	Passphrase     string               `json:"passphrase"`
	Round1Packages []wireRound1Entry    `json:"round1_packages"`
	Round2Packages []wireRound2OutEntry `json:"round2_packages"`
}

type dkgFinalizeResponse struct {
	Success   bool   `json:"success"`
	PubkeyHex string `json:"pubkey_hex"`
}

func (n *Node) handleDKGFinalize(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req dkgFinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}
	poly, err := n.DKG.Round2Secret(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StateMissing, "must call round 2 first", err))
		return
	}
	self, err := curve.NewIdentifier(tag, n.Index)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "constructing identifier", err))
		return
	}
	peerR1, err := n.decodePeerRound1(tag, req.Round1Packages, n.Index, int(n.MaxSigners)-1)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	// The aggregator broadcasts every sender's full round-2 output (every
	// recipient's share) to every node; each node keeps only the entries
	// addressed to itself.
	incomingR2 := make(map[uint16]curve.Round2Package, len(req.Round2Packages))
	validIncoming := 0
	for _, e := range req.Round2Packages {
		if e.RecipientIndex != n.Index {
			continue
		}
		raw, err := hex.DecodeString(e.Package)
		if err != nil {
			n.Log.Warnw("malformed round2 package (bad hex)", "sender", e.SenderIndex)
			continue
		}
		pkg, err := curve.UnmarshalRound2Package(raw)
		if err != nil {
			n.Log.Warnw("malformed round2 package", "sender", e.SenderIndex, "error", err)
			continue
		}
		if pkg.Tag != tag {
			n.Log.Warnw("round2 package for wrong curve", "sender", e.SenderIndex, "got", pkg.Tag, "want", tag)
			continue
		}
		incomingR2[e.SenderIndex] = pkg
		validIncoming++
	}
	if validIncoming < int(n.MaxSigners)-1 {
		httperr.Write(w, httperr.New(httperr.PeerPackageInvalid, fmt.Sprintf("only %d of %d round2 packages addressed to this node are valid", validIncoming, int(n.MaxSigners)-1)))
		return
	}

	kp, pkp, err := curve.DKGPart3(self, poly, peerR1, incomingR2)
	if err != nil {
		// An aborted DKG leaves no durable state: do not drop
		// the ephemeral state either, so the caller can retry finalize
		// with a corrected package set without re-running rounds 1/2.
		httperr.Write(w, httperr.Wrap(httperr.PeerPackageInvalid, "dkg finalize failed", err))
		return
	}
	if err := n.Store.FinalizeDKG(tag, req.Passphrase, kp, pkp); err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StorageError, "persisting dkg result", err))
		return
	}
	n.DKG.Drop(tag, req.Passphrase)
	n.Log.Infow("dkg finalize", "curve", tag, "node_index", n.Index, "pubkey", hex.EncodeToString(pkp.VerifyingKey.Bytes()))
	writeJSON(w, dkgFinalizeResponse{Success: true, PubkeyHex: hex.EncodeToString(pkp.VerifyingKey.Bytes())})
}

type signRound1Request struct {
	Passphrase string `json:"passphrase"`
	Message    string `json:"message"`
}

type signRound1Response struct {
	Identifier      string `json:"identifier"`
	Commitments     string `json:"commitments"`
	EncryptedNonces string `json:"encrypted_nonces"`
	NodeIndex       uint16 `json:"node_index"`
}

func (n *Node) handleSignRound1(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req signRound1Request
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}
	kp, ok, err := n.Store.GetKeyPackage(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StorageError, "reading key package", err))
		return
	}
	if !ok {
		httperr.Write(w, httperr.New(httperr.NotFound, "no key package for this (curve, passphrase); run DKG first"))
		return
	}
	message, err := hexDecode(httperr.ConfigInvalid, "message", req.Message)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	nonces, commitments, err := curve.SignRound1(kp, rand.Reader)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "sign round 1", err))
		return
	}
	nonceKey, err := n.Master.NonceEncryptionKey()
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "deriving nonce encryption key", err))
		return
	}
	blob, err := noncecrypt.Encrypt(nonceKey, message, nonces)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "encrypting nonces", err))
		return
	}
	commitmentsRaw, err := commitments.MarshalCBOR()
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "encoding commitments", err))
		return
	}
	n.Log.Infow("sign round1", "curve", tag, "node_index", n.Index)
	writeJSON(w, signRound1Response{
		Identifier:      hex.EncodeToString(kp.Identifier.Bytes()),
		Commitments:     hex.EncodeToString(commitmentsRaw),
		EncryptedNonces: hex.EncodeToString(blob),
		NodeIndex:       n.Index,
	})
}

type wireCommitmentEntry struct {
	Identifier  string `json:"identifier"`
	Commitments string `json:"commitments"`
}

type signRound2Request struct {
	Passphrase      string                `json:"passphrase"`
	Message         string                `json:"message"`
	EncryptedNonces string                `json:"encrypted_nonces"`
	AllCommitments  []wireCommitmentEntry `json:"all_commitments"`
}

type signRound2Response struct {
	Identifier     string `json:"identifier"`
	SignatureShare string `json:"signature_share"`
}

func decodeCommitmentList(tag curve.Tag, entries []wireCommitmentEntry) (map[uint16]curve.SigningCommitments, error) {
	out := make(map[uint16]curve.SigningCommitments, len(entries))
	for _, e := range entries {
		idBytes, err := hex.DecodeString(e.Identifier)
		if err != nil {
			return nil, httperr.Wrap(httperr.ConfigInvalid, "invalid identifier hex", err)
		}
		idx, err := curve.IdentifierIndexFromBytes(tag, idBytes)
		if err != nil {
			return nil, httperr.Wrap(httperr.ConfigInvalid, "invalid identifier", err)
		}
		raw, err := hex.DecodeString(e.Commitments)
		if err != nil {
			return nil, httperr.Wrap(httperr.ConfigInvalid, "invalid commitments hex", err)
		}
		c, err := curve.UnmarshalSigningCommitments(raw)
		if err != nil {
			return nil, httperr.Wrap(httperr.ConfigInvalid, "invalid commitments", err)
		}
		if c.Tag != tag {
			return nil, httperr.New(httperr.ConfigInvalid, fmt.Sprintf("commitments for curve %s in a %s signing request", c.Tag, tag))
		}
		out[idx] = c
	}
	return out, nil
}

func (n *Node) handleSignRound2(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req signRound2Request
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}
	kp, ok, err := n.Store.GetKeyPackage(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StorageError, "reading key package", err))
		return
	}
	if !ok {
		httperr.Write(w, httperr.New(httperr.NotFound, "no key package for this (curve, passphrase)"))
		return
	}
	message, err := hexDecode(httperr.ConfigInvalid, "message", req.Message)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	blob, err := hexDecode(httperr.ConfigInvalid, "encrypted_nonces", req.EncryptedNonces)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	nonceKey, err := n.Master.NonceEncryptionKey()
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "deriving nonce encryption key", err))
		return
	}
	nonces, err := noncecrypt.Decrypt(nonceKey, message, blob)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.MessageMismatch, "message mismatch", err))
		return
	}
	commitments, err := decodeCommitmentList(tag, req.AllCommitments)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	sp := curve.SigningPackage{Tag: tag, Message: message, Commitments: commitments}
	share, err := curve.SignRound2(sp, nonces, kp)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.Internal, "sign round 2", err))
		return
	}
	n.Log.Infow("sign round2", "curve", tag, "node_index", n.Index)
	writeJSON(w, signRound2Response{
		Identifier:     hex.EncodeToString(kp.Identifier.Bytes()),
		SignatureShare: hex.EncodeToString(share.Share.Bytes()),
	})
}

type wireShareEntry struct {
	Identifier     string `json:"identifier"`
	SignatureShare string `json:"signature_share"`
}

type aggregateRequest struct {
	Passphrase      string                `json:"passphrase"`
	Message         string                `json:"message"`
	AllCommitments  []wireCommitmentEntry `json:"all_commitments"`
	SignatureShares []wireShareEntry      `json:"signature_shares"`
}

type aggregateResponse struct {
	Signature string `json:"signature"`
	Verified  bool   `json:"verified"`
}

func (n *Node) handleAggregate(w http.ResponseWriter, r *http.Request) {
	tag, err := curveFromRequest(r)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.NotFound, "unknown curve", err))
		return
	}
	var req aggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.Write(w, err)
		return
	}
	pkp, ok, err := n.Store.GetPubkeyPackage(tag, req.Passphrase)
	if err != nil {
		httperr.Write(w, httperr.Wrap(httperr.StorageError, "reading pubkey package", err))
		return
	}
	if !ok {
		httperr.Write(w, httperr.New(httperr.NotFound, "no pubkey package for this (curve, passphrase)"))
		return
	}
	message, err := hexDecode(httperr.ConfigInvalid, "message", req.Message)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	commitments, err := decodeCommitmentList(tag, req.AllCommitments)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	shares := make(map[uint16]curve.SignatureShare, len(req.SignatureShares))
	for _, e := range req.SignatureShares {
		idBytes, err := hex.DecodeString(e.Identifier)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid identifier hex", err))
			return
		}
		idx, err := curve.IdentifierIndexFromBytes(tag, idBytes)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid identifier", err))
			return
		}
		shareBytes, err := hex.DecodeString(e.SignatureShare)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid signature share hex", err))
			return
		}
		share, err := curve.NewSignatureShare(tag, idx, shareBytes)
		if err != nil {
			httperr.Write(w, httperr.Wrap(httperr.ConfigInvalid, "invalid signature share", err))
			return
		}
		shares[idx] = share
	}

	sp := curve.SigningPackage{Tag: tag, Message: message, Commitments: commitments}
	sig, err := curve.Aggregate(sp, shares, pkp)
	if err != nil {
		switch {
		case errors.Is(err, curve.ErrMissingShare):
			httperr.Write(w, httperr.Wrap(httperr.ThresholdNotMet, "not enough signature shares to aggregate", err))
		case errors.Is(err, curve.ErrVerificationFailed):
			n.Log.Errorw("aggregate signature failed verification", "curve", tag)
			httperr.Write(w, httperr.Wrap(httperr.VerificationFailed, "aggregated signature failed verification", err))
		default:
			httperr.Write(w, httperr.Wrap(httperr.Internal, "aggregate", err))
		}
		return
	}
	n.Log.Infow("aggregate", "curve", tag, "verified", true)
	writeJSON(w, aggregateResponse{Signature: hex.EncodeToString(sig.Bytes), Verified: true})
}
