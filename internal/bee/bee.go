// Package bee is the HTTP client for the upstream Swarm Bee node. The
// gateway forwards stamp, data and wallet operations here and never talks
// to the swarm directly.
package bee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// Stamp purchases trigger an on-chain transaction and can take a while.
	purchaseTimeout = 120 * time.Second
	transferTimeout = 60 * time.Second
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("bee api url: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}, nil
}

// Wallet is the Bee node's Gnosis wallet state. Balances are raw chain
// units: bzzBalance in PLUR, nativeTokenBalance in wei.
type Wallet struct {
	BZZBalance         json.Number `json:"bzzBalance"`
	NativeTokenBalance json.Number `json:"nativeTokenBalance"`
	WalletAddress      string      `json:"walletAddress"`
	ChainID            int64       `json:"chainID"`
}

func (c *Client) Wallet(ctx context.Context) (*Wallet, error) {
	var w Wallet
	if err := c.get(ctx, "wallet", defaultTimeout, &w); err != nil {
		return nil, err
	}
	if w.WalletAddress == "" {
		return nil, fmt.Errorf("wallet response missing walletAddress")
	}
	return &w, nil
}

// ChequebookBalance holds the chequebook's total and available PLUR.
type ChequebookBalance struct {
	TotalBalance     json.Number `json:"totalBalance"`
	AvailableBalance json.Number `json:"availableBalance"`
}

func (c *Client) ChequebookBalance(ctx context.Context) (*ChequebookBalance, error) {
	var b ChequebookBalance
	if err := c.get(ctx, "chequebook/balance", defaultTimeout, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

type ChequebookAddress struct {
	ChequebookAddress string `json:"chequebookAddress"`
}

func (c *Client) ChequebookAddress(ctx context.Context) (*ChequebookAddress, error) {
	var a ChequebookAddress
	if err := c.get(ctx, "chequebook/address", defaultTimeout, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Chainstate reports the chain's storage pricing state; currentPrice is the
// price per chunk per block in PLUR.
type Chainstate struct {
	ChainTip     int64       `json:"chainTip"`
	Block        int64       `json:"block"`
	TotalAmount  json.Number `json:"totalAmount"`
	CurrentPrice json.Number `json:"currentPrice"`
}

func (c *Client) Chainstate(ctx context.Context) (*Chainstate, error) {
	var cs Chainstate
	if err := c.get(ctx, "chainstate", defaultTimeout, &cs); err != nil {
		return nil, err
	}
	price, err := cs.CurrentPrice.Int64()
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("chainstate: invalid currentPrice %q", cs.CurrentPrice)
	}
	return &cs, nil
}

// PurchaseStamp buys a new postage batch and returns its batch ID.
func (c *Client) PurchaseStamp(ctx context.Context, amount int64, depth int, label string) (string, error) {
	path := fmt.Sprintf("stamps/%d/%d", amount, depth)

	var body io.Reader
	if label != "" {
		payload, err := json.Marshal(map[string]string{"label": label})
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(payload)
	}

	var resp struct {
		BatchID string `json:"batchID"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, purchaseTimeout, &resp); err != nil {
		return "", err
	}
	if resp.BatchID == "" {
		return "", fmt.Errorf("stamp purchase response missing batchID")
	}
	return resp.BatchID, nil
}

// TopupStamp adds funds to an existing batch, extending its lifetime.
func (c *Client) TopupStamp(ctx context.Context, batchID string, amount int64) (string, error) {
	path := fmt.Sprintf("stamps/topup/%s/%d", batchID, amount)

	var resp struct {
		BatchID string `json:"batchID"`
	}
	if err := c.do(ctx, http.MethodPatch, path, nil, purchaseTimeout, &resp); err != nil {
		return "", err
	}
	if resp.BatchID == "" {
		// Some Bee versions omit the id on topup.
		return batchID, nil
	}
	return resp.BatchID, nil
}

// UploadData pushes data to the swarm under the given stamp and returns the
// swarm reference.
func (c *Client) UploadData(ctx context.Context, data []byte, stampID, contentType string) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, "bzz")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Swarm-Postage-Batch-Id", stampID)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bee bzz upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("bzz", resp)
	}

	var out struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bee bzz upload: decode response: %w", err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("bee bzz upload: response missing reference")
	}
	return out.Reference, nil
}

// DownloadResult carries downloaded bytes with the upstream content type.
type DownloadResult struct {
	Data        []byte
	ContentType string
}

// DownloadData fetches data by swarm reference. Returns ErrNotFound when
// the reference does not resolve.
func (c *Client) DownloadData(ctx context.Context, reference string) (*DownloadResult, error) {
	endpoint, err := url.JoinPath(c.baseURL, "bzz", reference)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bee bzz download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("bzz", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bee bzz download: read body: %w", err)
	}

	return &DownloadResult{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, timeout time.Duration, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, timeout, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, timeout time.Duration, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bee %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bee %s: decode response: %w", path, err)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("bee %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
}
