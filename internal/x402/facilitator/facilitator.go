// Package facilitator is the client for the external x402 facilitator
// service that verifies and settles signed USDC payment authorizations
// on-chain on the gateway's behalf.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// PaymentRequirements mirrors the "accepts" entry of a 402 challenge and is
// echoed to the facilitator so it can verify amount, recipient and network.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type SettleResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
	Payer     string `json:"payer,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("facilitator url: %w", err)
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Verify asks the facilitator whether the payment header satisfies the
// requirements. Network failures surface as errors; the caller treats any
// error as a rejected payment.
func (c *Client) Verify(ctx context.Context, paymentHeader string, reqs PaymentRequirements) (*VerifyResponse, error) {
	var resp VerifyResponse
	err := c.post(ctx, "/verify", VerifyRequest{
		X402Version:         1,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: reqs,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle executes the verified transfer on-chain.
func (c *Client) Settle(ctx context.Context, paymentHeader string, reqs PaymentRequirements) (*SettleResponse, error) {
	var resp SettleResponse
	err := c.post(ctx, "/settle", SettleRequest{
		X402Version:         1,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: reqs,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("facilitator %s: decode response: %w", path, err)
	}
	return nil
}
