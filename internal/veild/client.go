// Package veild is the typed JSON-RPC surface over a Veil node. The node
// is consulted only for opaque services: decoy fetch, key-image spent
// status, the watch-only transaction stream and raw broadcast. Every
// Veil-specific method goes through RawRequest since the btcd typed client
// does not know them.
package veild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
)

// ErrRPC wraps every transport or protocol failure from the node.
var ErrRPC = errors.New("veild: rpc failure")

// DefaultTimeout bounds each RPC call unless the config overrides it.
const DefaultTimeout = 30 * time.Second

// Config holds the node connection parameters. It is a plain value:
// construct it once at wallet instantiation and thread it explicitly, never
// mutate it globally.
type Config struct {
	URL     string
	User    string
	Pass    string
	Timeout time.Duration
}

// Client wraps the underlying JSON-RPC connection.
type Client struct {
	rpc     *rpcclient.Client
	timeout time.Duration
}

// NewClient connects to the node and probes it with getblockchaininfo.
func NewClient(cfg Config) (*Client, error) {
	host, disableTLS, err := splitURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // the node only supports HTTP POST mode
		DisableTLS:   disableTLS,
	}

	log.Printf("[Veild] Connecting to node at %s...", host)
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPC, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{rpc: rpc, timeout: timeout}

	info, err := c.GetBlockchainInfo(context.Background())
	if err != nil {
		rpc.Shutdown()
		return nil, err
	}
	log.Printf("[Veild] Connected to %s chain at height %d", info.Chain, info.Blocks)
	return c, nil
}

// Shutdown tears down the underlying connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// splitURL reduces an http(s) URL to the host:port form rpcclient expects.
func splitURL(raw string) (host string, disableTLS bool, err error) {
	if !strings.Contains(raw, "://") {
		// Bare host:port, assume no TLS (local node).
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: bad node url: %v", ErrRPC, err)
	}
	switch u.Scheme {
	case "http":
		disableTLS = true
	case "https":
		disableTLS = false
	default:
		return "", false, fmt.Errorf("%w: unsupported scheme %q", ErrRPC, u.Scheme)
	}
	return u.Host, disableTLS, nil
}

// call performs a raw JSON-RPC request with the per-request timeout and
// decodes the result into out.
func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	rawParams := make([]json.RawMessage, len(params))
	for i, p := range params {
		marshaled, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%w: %s: marshal param %d: %v", ErrRPC, method, i, err)
		}
		rawParams[i] = marshaled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		raw json.RawMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := c.rpc.RawRequest(method, rawParams)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrRPC, method, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRPC, method, res.err)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.raw, out); err != nil {
			return fmt.Errorf("%w: %s: decode result: %v", ErrRPC, method, err)
		}
		return nil
	}
}
