package corechain

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"creditchain/native/withdrawals"
)

// RPCConfig controls how RPCClient reaches the core node.
type RPCConfig struct {
	Endpoint      string
	Username      string
	Password      string
	BearerToken   string
	TLSCAFile     string
	AllowInsecure bool
	Timeout       time.Duration
}

// RPCClient talks JSON-RPC to a core node.
type RPCClient struct {
	rpc     *rpc.Client
	timeout time.Duration
}

var _ Client = (*RPCClient)(nil)

// DialRPC connects to the configured endpoint.
func DialRPC(ctx context.Context, cfg RPCConfig) (*RPCClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("corechain: endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else if path := strings.TrimSpace(cfg.TLSCAFile); path != "" {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("corechain: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(pemBytes); !ok {
			return nil, fmt.Errorf("corechain: append ca certificates: invalid pem data")
		}
		tlsConfig.RootCAs = pool
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
	opts := []rpc.ClientOption{rpc.WithHTTPClient(httpClient)}
	if cfg.Username != "" {
		opts = append(opts, rpc.WithHTTPAuth(func(h http.Header) error {
			req := &http.Request{Header: h}
			req.SetBasicAuth(cfg.Username, cfg.Password)
			return nil
		}))
	} else if token := strings.TrimSpace(cfg.BearerToken); token != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+token))
	}
	client, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, endpoint, err)
	}
	return &RPCClient{rpc: client, timeout: timeout}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

type assetUnlockStatus struct {
	Index  uint64 `json:"index"`
	Status string `json:"status"`
}

type bestChainLock struct {
	BlockHash  string `json:"blockhash"`
	Height     uint64 `json:"height"`
	Signature  string `json:"signature"`
	KnownBlock bool   `json:"known_block"`
}

// SendRawTransaction relays a hex-encoded transaction and returns its id.
func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	var txid string
	if err := c.call(ctx, &txid, "sendrawtransaction", hex.EncodeToString(raw)); err != nil {
		return "", err
	}
	return txid, nil
}

// AssetUnlockStatuses queries the status of each index as of coreHeight.
func (c *RPCClient) AssetUnlockStatuses(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error) {
	var result []assetUnlockStatus
	if err := c.call(ctx, &result, "getassetunlockstatuses", indices, coreHeight); err != nil {
		return nil, err
	}
	statuses := make(map[uint64]withdrawals.ExternalStatus, len(result))
	for _, entry := range result {
		statuses[entry.Index] = withdrawals.ParseExternalStatus(entry.Status)
	}
	return statuses, nil
}

// BestChainLock returns the node's best chain lock.
func (c *RPCClient) BestChainLock(ctx context.Context) (ChainLock, error) {
	var result bestChainLock
	if err := c.call(ctx, &result, "getbestchainlock"); err != nil {
		return ChainLock{}, err
	}
	return ChainLock{Height: result.Height, BlockHash: result.BlockHash, Signature: result.Signature}, nil
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	if c == nil || c.rpc == nil {
		return fmt.Errorf("%w: client not connected", ErrUnavailable)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rpc.CallContext(callCtx, result, method, args...); err != nil {
		return classify(method, err)
	}
	return nil
}

// classify separates node-side rejections from transport failures. Only the
// latter are reported as ErrUnavailable.
func classify(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("corechain: %s: rpc error %d: %s", method, rpcErr.ErrorCode(), rpcErr.Error())
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
}
