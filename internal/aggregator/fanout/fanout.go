// Package fanout implements the aggregator's one genuinely shared
// mechanism: calling every signer node's HTTP API for one round in
// parallel and collecting their responses keyed by node index, with
// rounds themselves issued sequentially by the caller.
package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrUnreachable wraps any transport-level failure to reach a node, so
// callers can translate "can't reach enough nodes" to ThresholdNotMet
// without string-matching.
var ErrUnreachable = errors.New("node unreachable")

// Node is one signer node's dial target as seen by an aggregator.
type Node struct {
	Index uint16
	URL   string // base URL, e.g. "http://node-2:8080"
}

// Client issues fan-out calls against a fixed node set with a shared HTTP
// client and per-call timeout.
type Client struct {
	HTTP    *http.Client
	Nodes   []Node
	Timeout time.Duration
}

// NewClient builds a fan-out client with a bounded per-call timeout, so
// a dead node cannot hang a whole round indefinitely.
func NewClient(nodes []Node) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Nodes:   nodes,
		Timeout: 15 * time.Second,
	}
}

// Call is one fan-out request: a path (joined with each node's base URL)
// and a JSON body shared by every node.
type Call struct {
	Path string
	Body any
}

// postOne sends one JSON POST and decodes the response body into a fresh
// value of the type dst points into.
func (c *Client) postOne(ctx context.Context, node Node, call Call, dst any) error {
	var buf bytes.Buffer
	if call.Body != nil {
		if err := json.NewEncoder(&buf).Encode(call.Body); err != nil {
			return fmt.Errorf("fanout: encode request for node %d: %w", node.Index, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.URL+call.Path, &buf)
	if err != nil {
		return fmt.Errorf("fanout: build request for node %d: %w", node.Index, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("fanout: node %d %w: %v", node.Index, ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var wire struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return fmt.Errorf("fanout: node %d returned %d (%s): %s", node.Index, resp.StatusCode, wire.Kind, wire.Message)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("fanout: decode response from node %d: %w", node.Index, err)
	}
	return nil
}

// Get issues a single GET request against one node and decodes its JSON
// response, used for the read-only pubkey lookup the address
// aggregator's existing-key short-circuit relies on.
func (c *Client) Get(ctx context.Context, node Node, path string, dst any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.URL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("fanout: build request for node %d: %w", node.Index, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fanout: node %d %w: %v", node.Index, ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, fmt.Errorf("fanout: decode response from node %d: %w", node.Index, err)
		}
	}
	return resp.StatusCode, nil
}

// Healthy probes one node's /health endpoint, treating any transport
// error or non-2xx status as unhealthy.
func (c *Client) Healthy(ctx context.Context, node Node) bool {
	status, err := c.Get(ctx, node, "/health", nil)
	return err == nil && status < 300
}

// Broadcast sends the same call to every configured node and returns each
// node's decoded response keyed by node index. newDst must return a fresh
// pointer to decode one node's response into. A single node's failure
// aborts the whole broadcast — callers that address only some of the
// nodes (e.g. t-of-n signing) use BroadcastSubset, which aborts the
// same way on any failure within that subset.
func Broadcast(ctx context.Context, c *Client, call Call, newDst func() any) (map[uint16]any, error) {
	return BroadcastSubset(ctx, c, c.Nodes, call, newDst)
}

// BroadcastPerNode is BroadcastSubset for calls whose request body differs
// per recipient (signing round 2: each node must get back only its own
// encrypted nonces, not every node's).
func BroadcastPerNode(ctx context.Context, c *Client, nodes []Node, path string, bodyFor func(Node) any, newDst func() any) (map[uint16]any, error) {
	results := make(map[uint16]any, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	type pair struct {
		idx uint16
		dst any
	}
	out := make(chan pair, len(nodes))
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			dst := newDst()
			if err := c.postOne(gctx, node, Call{Path: path, Body: bodyFor(node)}, dst); err != nil {
				return err
			}
			out <- pair{idx: node.Index, dst: dst}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)
	for p := range out {
		results[p.idx] = p.dst
	}
	return results, nil
}

// BroadcastSubset is Broadcast restricted to an explicit node subset,
// used by signing to fan out to exactly the t nodes selected for a
// ceremony.
func BroadcastSubset(ctx context.Context, c *Client, nodes []Node, call Call, newDst func() any) (map[uint16]any, error) {
	results := make(map[uint16]any, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	type pair struct {
		idx uint16
		dst any
	}
	out := make(chan pair, len(nodes))
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			dst := newDst()
			if err := c.postOne(gctx, node, call, dst); err != nil {
				return err
			}
			out <- pair{idx: node.Index, dst: dst}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)
	for p := range out {
		results[p.idx] = p.dst
	}
	return results, nil
}
