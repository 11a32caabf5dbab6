package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/gateway/internal/bee"
	"github.com/swarmgate/gateway/internal/x402/access"
	"github.com/swarmgate/gateway/internal/x402/audit"
	"github.com/swarmgate/gateway/internal/x402/preflight"
	"github.com/swarmgate/gateway/internal/x402/pricing"
)

const (
	maxUploadBytes       = 64 << 20
	maxRequestBodyBytes  = 1 << 20
	defaultStampHours    = 24
	defaultStampDepth    = 20
	defaultUploadCostBZZ = "0.001"
)

type handlers struct {
	config  Config
	bee     *bee.Client
	monitor *preflight.Monitor
	acl     *access.List
}

// handleIndex describes the service.
func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "swarm x402 gateway",
		"network":      h.config.Network,
		"x402_enabled": h.config.X402Enabled,
	})
}

// handleGetStamps lists all postage batches, merging the node's local view
// over the global one.
func (h *handlers) handleGetStamps(w http.ResponseWriter, r *http.Request) {
	stamps, err := h.bee.Stamps(r.Context())
	if err != nil {
		log.Printf("err: bee.Stamps: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stamps": stamps})
}

func (h *handlers) handleGetStamp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stamp, err := h.bee.Stamp(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stamp)
	case errors.Is(err, bee.ErrNotFound):
		http.Error(w, fmt.Sprintf("stamp %s not found", id), http.StatusNotFound)
	default:
		log.Printf("err: bee.Stamp: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
	}
}

type purchaseStampRequest struct {
	Amount        int64  `json:"amount"`
	Depth         int    `json:"depth"`
	DurationHours int    `json:"duration_hours"`
	SizeBytes     int64  `json:"size_bytes"`
	Label         string `json:"label"`
}

// resolve fills amount and depth from the chain's current price when the
// caller asked for a duration or size instead of raw stamp parameters.
func (r *purchaseStampRequest) resolve(cs *bee.Chainstate) error {
	if r.Depth == 0 {
		if r.SizeBytes > 0 {
			r.Depth = pricing.DepthForSize(r.SizeBytes)
		} else {
			r.Depth = defaultStampDepth
		}
	}
	if r.Amount == 0 {
		if cs == nil {
			return fmt.Errorf("chainstate required to derive stamp amount")
		}
		hours := r.DurationHours
		if hours <= 0 {
			hours = defaultStampHours
		}
		price, err := cs.CurrentPrice.Int64()
		if err != nil {
			return err
		}
		r.Amount = pricing.StampAmount(hours, price)
	}
	return nil
}

// handlePurchaseStamp buys a new postage batch. Runs behind the payment
// gate.
func (h *handlers) handlePurchaseStamp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodePurchaseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var cs *bee.Chainstate
	if req.Amount == 0 {
		cs, err = h.bee.Chainstate(ctx)
		if err != nil {
			log.Printf("err: bee.Chainstate: %v", err)
			http.Error(w, "upstream node unavailable", http.StatusBadGateway)
			return
		}
	}
	if err := req.resolve(cs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	totalPLUR := pricing.StampTotalPLUR(req.Amount, req.Depth)
	costBZZ := pricing.PLURToBZZ(totalPLUR)

	maxSpend := decimal.NewFromFloat(h.config.MaxStampSpendBZZ)
	if costBZZ.GreaterThan(maxSpend) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         "stamp exceeds the per-purchase spend cap",
			"cost_bzz":      costBZZ,
			"max_spend_bzz": maxSpend,
		})
		return
	}

	funds, err := h.bee.CheckSufficientFunds(ctx, totalPLUR)
	if err != nil {
		log.Printf("err: bee.CheckSufficientFunds: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
		return
	}
	if !funds.Sufficient {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":         "node wallet cannot cover this stamp",
			"required_bzz":  funds.RequiredBZZ,
			"balance_bzz":   funds.BalanceBZZ,
			"shortfall_bzz": funds.ShortfallBZZ,
		})
		return
	}

	batchID, err := h.bee.PurchaseStamp(ctx, req.Amount, req.Depth, req.Label)
	if err != nil {
		log.Printf("err: bee.PurchaseStamp: %v", err)
		http.Error(w, "stamp purchase failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id": batchID,
		"amount":   req.Amount,
		"depth":    req.Depth,
		"cost_bzz": costBZZ,
	})
}

// handleTopupStamp extends an existing batch's lifetime. Runs behind the
// payment gate.
func (h *handlers) handleTopupStamp(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context()
		id  = chi.URLParam(r, "id")
	)

	amount, err := strconv.ParseInt(chi.URLParam(r, "amount"), 10, 64)
	if err != nil || amount <= 0 {
		http.Error(w, "amount must be a positive integer", http.StatusBadRequest)
		return
	}

	batchID, err := h.bee.TopupStamp(ctx, id, amount)
	if err != nil {
		log.Printf("err: bee.TopupStamp: %v", err)
		http.Error(w, "stamp topup failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": batchID,
		"amount":   amount,
	})
}

// handleUploadData pushes a payload to the swarm under a given stamp.
// Runs behind the payment gate.
func (h *handlers) handleUploadData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stampID := r.Header.Get("Swarm-Postage-Batch-Id")
	if stampID == "" {
		stampID = r.URL.Query().Get("stamp")
	}
	if stampID == "" {
		http.Error(w, "Swarm-Postage-Batch-Id header is required", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	reference, err := h.bee.UploadData(ctx, data, stampID, r.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("err: bee.UploadData: %v", err)
		http.Error(w, "swarm upload failed", http.StatusBadGateway)
		return
	}

	uploadCounter.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"reference": reference})
}

// handleDownloadData serves raw bytes by swarm reference.
func (h *handlers) handleDownloadData(w http.ResponseWriter, r *http.Request) {
	var (
		ctx       = r.Context()
		reference = chi.URLParam(r, "reference")
	)

	result, err := h.bee.DownloadData(ctx, reference)
	switch {
	case err == nil:
		// fall through
	case errors.Is(err, bee.ErrNotFound):
		http.Error(w, fmt.Sprintf("reference %s not found", reference), http.StatusNotFound)
		return
	default:
		log.Printf("err: bee.DownloadData: %v", err)
		http.Error(w, "swarm download failed", http.StatusBadGateway)
		return
	}

	downloadCounter.Inc()
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Write(result.Data)
}

// handleDownloadDataJSON serves a stored JSON document, rejecting content
// that does not parse.
func (h *handlers) handleDownloadDataJSON(w http.ResponseWriter, r *http.Request) {
	var (
		ctx       = r.Context()
		reference = chi.URLParam(r, "reference")
	)

	result, err := h.bee.DownloadData(ctx, reference)
	switch {
	case err == nil:
		// fall through
	case errors.Is(err, bee.ErrNotFound):
		http.Error(w, fmt.Sprintf("reference %s not found", reference), http.StatusNotFound)
		return
	default:
		log.Printf("err: bee.DownloadData: %v", err)
		http.Error(w, "swarm download failed", http.StatusBadGateway)
		return
	}

	if !json.Valid(result.Data) {
		http.Error(w, "stored content is not valid JSON", http.StatusUnsupportedMediaType)
		return
	}

	downloadCounter.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Write(result.Data)
}

func (h *handlers) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.bee.Wallet(r.Context())
	if err != nil {
		log.Printf("err: bee.Wallet: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (h *handlers) handleChequebookBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.bee.ChequebookBalance(r.Context())
	if err != nil {
		log.Printf("err: bee.ChequebookBalance: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *handlers) handleChequebookAddress(w http.ResponseWriter, r *http.Request) {
	address, err := h.bee.ChequebookAddress(r.Context())
	if err != nil {
		log.Printf("err: bee.ChequebookAddress: %v", err)
		http.Error(w, "upstream node unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, address)
}

// handleHealth reports both wallets' health. Critical maps to 503 so load
// balancers and monitors can alert on the status code alone.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"detail": "balance monitoring disabled, no base_rpc_url configured",
		})
		return
	}
	health := h.monitor.Health(r.Context())

	status := http.StatusOK
	if health.Status == preflight.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleAccessStatus reports the configured access and rate limit policy.
func (h *handlers) handleAccessStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access": h.acl.Status(),
		"rate_limit": map[string]any{
			"limit":          h.config.RateLimit,
			"window_seconds": h.config.RateLimitWindowSeconds,
		},
	})
}

// handleAuditStats summarizes the audit log for operators.
func (h *handlers) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := audit.ReadStats(h.config.AuditLogPath)
	if err != nil {
		log.Printf("err: audit.ReadStats: %v", err)
		http.Error(w, "audit log unreadable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cost functions used by the payment gate middleware.

// stampPurchaseCost prices a stamp purchase from the request body, which
// is restored for the handler afterwards.
func (h *handlers) stampPurchaseCost(r *http.Request) (decimal.Decimal, error) {
	req, err := decodePurchaseRequest(r)
	if err != nil {
		return decimal.Zero, err
	}

	var cs *bee.Chainstate
	if req.Amount == 0 {
		cs, err = h.bee.Chainstate(r.Context())
		if err != nil {
			return decimal.Zero, err
		}
	}
	if err := req.resolve(cs); err != nil {
		return decimal.Zero, err
	}

	return pricing.PLURToBZZ(pricing.StampTotalPLUR(req.Amount, req.Depth)), nil
}

// stampTopupCost prices a topup: the added amount across every chunk of
// the existing batch.
func (h *handlers) stampTopupCost(r *http.Request) (decimal.Decimal, error) {
	amount, err := strconv.ParseInt(chi.URLParam(r, "amount"), 10, 64)
	if err != nil || amount <= 0 {
		return decimal.Zero, fmt.Errorf("amount must be a positive integer")
	}

	stamp, err := h.bee.Stamp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return decimal.Zero, err
	}

	return pricing.PLURToBZZ(pricing.StampTotalPLUR(amount, stamp.Depth)), nil
}

// uploadCost prices an upload as a day of storage for its chunks at the
// chain's current price, with a flat floor for tiny payloads.
func (h *handlers) uploadCost(r *http.Request) (decimal.Decimal, error) {
	cs, err := h.bee.Chainstate(r.Context())
	if err != nil {
		return decimal.Zero, err
	}
	price, err := cs.CurrentPrice.Int64()
	if err != nil {
		return decimal.Zero, err
	}

	size := r.ContentLength
	if size < 0 {
		size = 0
	}
	chunks := (size + 4095) / 4096
	if chunks < 1 {
		chunks = 1
	}

	perChunkPLUR := pricing.StampAmount(defaultStampHours, price)
	costBZZ := pricing.PLURToBZZ(decimal.NewFromInt(perChunkPLUR * chunks))

	floor := decimal.RequireFromString(defaultUploadCostBZZ)
	if costBZZ.LessThan(floor) {
		return floor, nil
	}
	return costBZZ, nil
}

// decodePurchaseRequest reads and restores the body so the gate's cost
// function and the handler can both see it.
func decodePurchaseRequest(r *http.Request) (*purchaseStampRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req purchaseStampRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid request body: %v", err)
		}
	}
	if req.Amount < 0 || req.Depth < 0 || req.SizeBytes < 0 {
		return nil, fmt.Errorf("amount, depth and size_bytes must not be negative")
	}
	if req.Depth != 0 && (req.Depth < 17 || req.Depth > 32) {
		return nil, fmt.Errorf("depth must be between 17 and 32")
	}
	return &req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonb, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonb)
}
