// Package basechain reads the receiving wallet's native gas balance over
// plain Ethereum JSON-RPC. The facilitator settles USDC transfers on the
// gateway's behalf, so the receiving wallet only ever needs gas.
package basechain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"
)

const rpcTimeout = 10 * time.Second

type Client struct {
	rpcURL string
	http   *http.Client
}

func New(rpcURL string) (*Client, error) {
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return nil, fmt.Errorf("base rpc url: %w", err)
	}
	return &Client{
		rpcURL: rpcURL,
		http:   &http.Client{Timeout: rpcTimeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

// Balance returns the address's latest balance in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_getBalance",
		Params:  []any{address, "latest"},
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("base rpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("base rpc: status %d: %s", resp.StatusCode, body)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("base rpc: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("base rpc: error %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == "" {
		return nil, fmt.Errorf("base rpc: response missing result")
	}

	wei, ok := new(big.Int).SetString(trimHexPrefix(out.Result), 16)
	if !ok {
		return nil, fmt.Errorf("base rpc: malformed balance %q", out.Result)
	}
	return wei, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
