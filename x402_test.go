package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgate/gateway/internal/basechain"
	"github.com/swarmgate/gateway/internal/bee"
	"github.com/swarmgate/gateway/internal/x402/access"
	"github.com/swarmgate/gateway/internal/x402/audit"
	"github.com/swarmgate/gateway/internal/x402/facilitator"
	"github.com/swarmgate/gateway/internal/x402/gate"
	"github.com/swarmgate/gateway/internal/x402/preflight"
	"github.com/swarmgate/gateway/internal/x402/pricing"
	"github.com/swarmgate/gateway/internal/x402/ratelimit"
)

type gatewayFixture struct {
	router        *chi.Mux
	verifyCalls   *atomic.Int64
	settleCalls   *atomic.Int64
	rpcBalanceWei string
	costErr       error
}

// newGateway wires the real gate against fake bee, RPC and facilitator
// servers, mirroring the production wiring in main.
func newGateway(t *testing.T, mutate func(f *gatewayFixture)) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{
		verifyCalls:   &atomic.Int64{},
		settleCalls:   &atomic.Int64{},
		rpcBalanceWei: "0x2386f26fc10000", // 0.01 ETH, comfortably healthy
	}
	if mutate != nil {
		mutate(f)
	}

	beeClient, err := bee.New(fakeBee(t).URL)
	require.NoError(t, err)

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": f.rpcBalanceWei})
	}))
	t.Cleanup(rpc.Close)
	baseClient, err := basechain.New(rpc.URL)
	require.NoError(t, err)

	fac := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			f.verifyCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"isValid": true})
		case "/settle":
			f.settleCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"success": true, "txHash": "0xsettled", "networkId": "base-sepolia"})
		}
	}))
	t.Cleanup(fac.Close)
	facClient, err := facilitator.New(fac.URL, time.Second)
	require.NoError(t, err)

	acl, err := access.New([]string{"198.51.100.7"}, []string{"203.0.113.50"})
	require.NoError(t, err)

	auditLog, err := audit.New(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	monitor := preflight.New(beeClient, baseClient, "0xpayto", preflight.Thresholds{
		BZZWarn:         decimal.NewFromFloat(1.0),
		XDAIWarn:        decimal.NewFromFloat(0.5),
		ChequebookWarn:  decimal.NewFromFloat(0.5),
		BaseETHWarn:     decimal.NewFromFloat(0.005),
		BaseETHCritical: decimal.NewFromFloat(0.001),
	}, time.Minute)

	engine, err := pricing.New(decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.01))
	require.NoError(t, err)

	g := gate.New(gate.Config{
		PayTo:        "0xpayto",
		Network:      "base-sepolia",
		Asset:        "0xusdc",
		ChallengeTTL: 5 * time.Minute,
		Secret:       []byte("test-secret"),
	}, acl, ratelimit.New(10, time.Minute), monitor, engine, facClient, nil, auditLog)

	pg := &paymentGate{enabled: true, gate: g}

	cfg := Config{MaxStampSpendBZZ: 1.0, RateLimit: 10, RateLimitWindowSeconds: 60}
	cfg.applyDefaults()
	h := handlers{config: cfg, bee: beeClient, monitor: monitor, acl: acl}

	cost := h.uploadCost
	if f.costErr != nil {
		cost = func(r *http.Request) (decimal.Decimal, error) {
			return decimal.Zero, f.costErr
		}
	}

	r := chi.NewRouter()
	r.With(pg.require(cost)).Post("/api/v1/data", h.handleUploadData)

	f.router = r
	return f
}

func testProofHeader(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "base-sepolia",
		"payload": map[string]any{
			"signature": "0xsig",
			"authorization": map[string]any{
				"from": "0xpayer", "to": "0xpayto", "value": "10000",
				"validAfter": "0", "validBefore": "9999999999", "nonce": "0xn",
			},
		},
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestGatewayChallengesUnpaidUpload(t *testing.T) {
	f := newGateway(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`{"some":"data"}`))
	req.Header.Set("Swarm-Postage-Batch-Id", "aa11")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))

	var challenge struct {
		X402Version int `json:"x402Version"`
		Accepts     []struct {
			Scheme            string `json:"scheme"`
			MaxAmountRequired string `json:"maxAmountRequired"`
			Resource          string `json:"resource"`
		} `json:"accepts"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	assert.Equal(t, 1, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	assert.Equal(t, "exact", challenge.Accepts[0].Scheme)
	// Tiny upload prices at the floor: 0.001 BZZ -> max(0.01, 0.00075) USD.
	assert.Equal(t, "10000", challenge.Accepts[0].MaxAmountRequired)
	assert.Contains(t, challenge.Accepts[0].Resource, "quote=")
	assert.Equal(t, "X-PAYMENT header is required", challenge.Error)

	assert.Zero(t, f.verifyCalls.Load())
}

func TestGatewayAcceptsPaidUpload(t *testing.T) {
	f := newGateway(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`{"some":"data"}`))
	req.Header.Set("Swarm-Postage-Batch-Id", "aa11")
	req.Header.Set("X-PAYMENT", testProofHeader(t))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "cafe01")
	assert.Equal(t, int64(1), f.verifyCalls.Load())
	assert.Equal(t, int64(1), f.settleCalls.Load())

	settlement := w.Header().Get("X-PAYMENT-RESPONSE")
	require.NotEmpty(t, settlement)
	raw, err := base64.StdEncoding.DecodeString(settlement)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "0xsettled")
}

func TestGatewayBlocksListedAddress(t *testing.T) {
	f := newGateway(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`x`))
	req.RemoteAddr = "198.51.100.7:4242"
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.verifyCalls.Load())
}

func TestGatewayFreePassForAllowlisted(t *testing.T) {
	f := newGateway(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`{"a":1}`))
	req.RemoteAddr = "203.0.113.50:4242"
	req.Header.Set("Swarm-Postage-Batch-Id", "aa11")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Zero(t, f.verifyCalls.Load())
}

func TestGatewayFreePassSurvivesPricingOutage(t *testing.T) {
	f := newGateway(t, func(f *gatewayFixture) {
		f.costErr = errors.New("chainstate unavailable")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`{"a":1}`))
	req.RemoteAddr = "203.0.113.50:4242"
	req.Header.Set("Swarm-Postage-Batch-Id", "aa11")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code, "allowlisted callers forward even when pricing is down")
}

func TestGatewayBlocksWithoutPricing(t *testing.T) {
	f := newGateway(t, func(f *gatewayFixture) {
		f.costErr = errors.New("chainstate unavailable")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`x`))
	req.RemoteAddr = "198.51.100.7:4242"
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGatewayPricingOutageRefusesPayableCallers(t *testing.T) {
	f := newGateway(t, func(f *gatewayFixture) {
		f.costErr = errors.New("chainstate unavailable")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`x`))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "cannot price this operation right now")
}

func TestGatewayRejectsWhenGasCritical(t *testing.T) {
	f := newGateway(t, func(f *gatewayFixture) {
		f.rpcBalanceWei = "0x1" // effectively no gas
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`x`))
	req.Header.Set("X-PAYMENT", testProofHeader(t))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, f.verifyCalls.Load(), "critical health must short-circuit before the facilitator")
	assert.Zero(t, f.settleCalls.Load())
}

func TestGatewayDisabledPassesThrough(t *testing.T) {
	beeClient, err := bee.New(fakeBee(t).URL)
	require.NoError(t, err)

	pg := &paymentGate{enabled: false}
	h := handlers{config: Config{}, bee: beeClient}

	r := chi.NewRouter()
	r.With(pg.require(h.uploadCost)).Post("/api/v1/data", h.handleUploadData)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data", strings.NewReader(`{"a":1}`))
	req.Header.Set("Swarm-Postage-Batch-Id", "aa11")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
