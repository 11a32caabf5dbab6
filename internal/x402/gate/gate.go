// Package gate decides, per request, whether a protected operation runs
// for free, is refused, or must be paid for. It owns no balances and no
// pricing math itself; it sequences the access list, rate limiter, wallet
// health, pricing engine and facilitator into one verdict and writes one
// audit event per terminal decision.
package gate

import (
	"context"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/gateway/internal/challengestore"
	"github.com/swarmgate/gateway/internal/x402/access"
	"github.com/swarmgate/gateway/internal/x402/audit"
	"github.com/swarmgate/gateway/internal/x402/facilitator"
	"github.com/swarmgate/gateway/internal/x402/preflight"
	"github.com/swarmgate/gateway/internal/x402/pricing"
	"github.com/swarmgate/gateway/internal/x402/ratelimit"
)

const (
	x402Version = 1
	schemeExact = "exact"
)

type Outcome string

const (
	OutcomeFreePass        Outcome = "free_pass"
	OutcomeBlocked         Outcome = "blocked"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeHealthReject    Outcome = "health_reject"
	OutcomeChallengeIssued Outcome = "challenge_issued"
	OutcomePaymentAccepted Outcome = "payment_accepted"
	OutcomePaymentRejected Outcome = "payment_rejected"
	OutcomeError           Outcome = "error"
)

type classifier interface {
	Classify(callerIP string) access.Classification
}

type limiter interface {
	CheckAndRecord(identity string) ratelimit.Result
}

type healthChecker interface {
	Health(ctx context.Context) *preflight.Health
}

type quoter interface {
	Quote(costBZZ decimal.Decimal) (*pricing.Quote, error)
}

type settler interface {
	Verify(ctx context.Context, paymentHeader string, reqs facilitator.PaymentRequirements) (*facilitator.VerifyResponse, error)
	Settle(ctx context.Context, paymentHeader string, reqs facilitator.PaymentRequirements) (*facilitator.SettleResponse, error)
}

type auditor interface {
	Record(event audit.Event)
}

type ledger interface {
	Create(ctx context.Context, req *challengestore.Request) (*challengestore.Challenge, error)
	Get(ctx context.Context, id string) (*challengestore.Challenge, error)
	MarkOutcome(ctx context.Context, id, outcome string, txHash string) error
}

// Config is the payment surface the gate advertises in challenges.
type Config struct {
	PayTo          string
	Network        string
	Asset          string
	TimeoutSeconds int
	ChallengeTTL   time.Duration
	Secret         []byte
}

type Gate struct {
	access      classifier
	limiter     limiter
	monitor     healthChecker
	pricer      quoter
	facilitator settler
	ledger      ledger
	audit       auditor
	cfg         Config

	now func() time.Time
}

func New(cfg Config, acl classifier, rl limiter, monitor healthChecker, pricer quoter, fac settler, led ledger, auditLog auditor) *Gate {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.ChallengeTTL == 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &Gate{
		access:      acl,
		limiter:     rl,
		monitor:     monitor,
		pricer:      pricer,
		facilitator: fac,
		ledger:      led,
		audit:       auditLog,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CostFunc prices one request in BZZ. The gate calls it only after the
// caller is classified payable and the rate and health checks pass, so a
// pricing-collaborator outage never touches free or refused traffic.
type CostFunc func() (decimal.Decimal, error)

// Request carries everything the gate needs to know about one inbound
// protected request.
type Request struct {
	ClientIP      string
	Resource      string
	PaymentHeader string
	Cost          CostFunc
}

// ChallengeBody is the JSON body of a 402 response.
type ChallengeBody struct {
	X402Version int                               `json:"x402Version"`
	Accepts     []facilitator.PaymentRequirements `json:"accepts"`
	Error       string                            `json:"error"`
}

// Decision is the gate's verdict for one request. Status is the HTTP
// status to respond with; zero means forward to the upstream node.
type Decision struct {
	Outcome    Outcome
	Status     int
	Reason     string
	RequestID  string
	Challenge  *ChallengeBody
	RateLimit  *ratelimit.Result
	Settlement *facilitator.SettleResponse
	Payer      string
}

// Decide runs one request through the full decision sequence. Exactly one
// audit event is written per terminal outcome; free passes write none.
func (g *Gate) Decide(ctx context.Context, req *Request) *Decision {
	requestID := audit.NewRequestID()

	switch g.access.Classify(req.ClientIP) {
	case access.Blocked:
		g.audit.Record(audit.Event{
			EventType: audit.EventBlocked,
			RequestID: requestID,
			ClientIP:  req.ClientIP,
			Data:      map[string]any{"resource": req.Resource},
		})
		return &Decision{Outcome: OutcomeBlocked, Status: 403, Reason: "access denied", RequestID: requestID}
	case access.Free:
		return &Decision{Outcome: OutcomeFreePass, RequestID: requestID}
	}

	rl := g.limiter.CheckAndRecord(req.ClientIP)
	if !rl.Allowed {
		g.audit.Record(audit.Event{
			EventType: audit.EventRateLimited,
			RequestID: requestID,
			ClientIP:  req.ClientIP,
			Data:      map[string]any{"resource": req.Resource, "count": rl.Count, "limit": rl.Limit},
		})
		return &Decision{Outcome: OutcomeRateLimited, Status: 429, Reason: "too many requests", RequestID: requestID, RateLimit: &rl}
	}

	health := g.monitor.Health(ctx)
	if health.Status == preflight.StatusCritical {
		g.audit.Record(audit.Event{
			EventType: audit.EventHealthCritical,
			RequestID: requestID,
			ClientIP:  req.ClientIP,
			Data:      map[string]any{"resource": req.Resource, "errors": health.Errors},
		})
		return &Decision{Outcome: OutcomeHealthReject, Status: 503, Reason: "gateway cannot currently accept payments", RequestID: requestID, RateLimit: &rl}
	}
	if health.Status == preflight.StatusDegraded {
		log.Printf("gate: accepting payments in degraded state: %v", health.Warnings)
	}

	if req.PaymentHeader == "" {
		return g.issueChallenge(ctx, req, requestID, &rl)
	}
	return g.verifyPayment(ctx, req, requestID, &rl)
}

func (g *Gate) issueChallenge(ctx context.Context, req *Request, requestID string, rl *ratelimit.Result) *Decision {
	costBZZ, decision := g.freshCost(req, requestID, rl)
	if decision != nil {
		return decision
	}
	quote, err := g.pricer.Quote(costBZZ)
	if err != nil {
		return g.internalError(req, requestID, rl, "pricing failed", err)
	}
	amount := pricing.AtomicUnits(quote.PriceUSD)

	nonce := uuid.New().String()
	if g.ledger != nil {
		row, err := g.ledger.Create(ctx, &challengestore.Request{
			ClientIP: req.ClientIP,
			Resource: req.Resource,
			Amount:   amount,
			Network:  g.cfg.Network,
		})
		if err != nil {
			log.Printf("gate: challenge ledger write failed: %v", err)
		} else {
			nonce = row.ID
		}
	}

	binding := quoteBinding(req.ClientIP, req.Resource)
	token := signQuote(g.cfg.Secret, amount, g.now().Add(g.cfg.ChallengeTTL), nonce, costBZZ.String(), binding)
	resource := resourceWithQuote(req.Resource, token)

	g.audit.Record(audit.Event{
		EventType: audit.EventChallengeIssued,
		RequestID: requestID,
		ClientIP:  req.ClientIP,
		Data:      map[string]any{"resource": req.Resource, "amount": amount, "network": g.cfg.Network},
	})

	return &Decision{
		Outcome:   OutcomeChallengeIssued,
		Status:    402,
		Reason:    "X-PAYMENT header is required",
		RequestID: requestID,
		RateLimit: rl,
		Challenge: &ChallengeBody{
			X402Version: x402Version,
			Accepts:     []facilitator.PaymentRequirements{g.requirements(amount, resource)},
			Error:       "X-PAYMENT header is required",
		},
	}
}

func (g *Gate) verifyPayment(ctx context.Context, req *Request, requestID string, rl *ratelimit.Result) *Decision {
	proof, err := parseProof(req.PaymentHeader, g.cfg.Network)
	if err != nil {
		return g.rejectPayment(ctx, req, requestID, rl, "malformed proof", map[string]any{"detail": err.Error()}, "")
	}

	costBZZ, decision := g.freshCost(req, requestID, rl)
	if decision != nil {
		return decision
	}

	// The amount signed into the challenge's quote token is authoritative.
	// The token only verifies for the caller, resource and BZZ cost it was
	// issued for; anything else is repriced at current rates.
	amount, challengeID, tokenErr := g.quotedAmount(req, costBZZ)
	if tokenErr != nil {
		quote, err := g.pricer.Quote(costBZZ)
		if err != nil {
			return g.internalError(req, requestID, rl, "pricing failed", err)
		}
		amount = pricing.AtomicUnits(quote.PriceUSD)
		challengeID = ""
	}

	// A settled challenge never pays for a second request.
	if g.ledger != nil && challengeID != "" {
		if row, err := g.ledger.Get(ctx, challengeID); err == nil && row.Outcome == challengestore.OutcomeAccepted {
			return g.rejectPayment(ctx, req, requestID, rl, "quote already used",
				map[string]any{"amount": amount, "challenge_id": challengeID}, "")
		}
	}

	reqs := g.requirements(amount, req.Resource)

	// The facilitator calls run on a detached context: a client that
	// disconnects mid-settlement must not abort a transfer that may land
	// on chain anyway.
	fctx := context.WithoutCancel(ctx)

	verdict, err := g.facilitator.Verify(fctx, req.PaymentHeader, reqs)
	if err != nil {
		return g.rejectPayment(ctx, req, requestID, rl, "facilitator unreachable",
			map[string]any{"detail": err.Error(), "amount": amount}, challengeID)
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = "payment verification failed"
		}
		return g.rejectPayment(ctx, req, requestID, rl, reason,
			map[string]any{"amount": amount, "payer": proof.Payload.Authorization.From}, challengeID)
	}

	settlement, err := g.facilitator.Settle(fctx, req.PaymentHeader, reqs)
	if err != nil {
		// The transfer may or may not have landed. Mark the challenge
		// unknown and flag the audit record for manual reconciliation.
		if g.ledger != nil && challengeID != "" {
			if lerr := g.ledger.MarkOutcome(ctx, challengeID, challengestore.OutcomeUnknown, ""); lerr != nil {
				log.Printf("gate: ledger update failed: %v", lerr)
			}
		}
		return g.rejectPayment(ctx, req, requestID, rl, "settlement did not complete",
			map[string]any{"detail": err.Error(), "amount": amount, "reconcile_required": true}, "")
	}
	if !settlement.Success {
		reason := settlement.Error
		if reason == "" {
			reason = "settlement failed"
		}
		return g.rejectPayment(ctx, req, requestID, rl, reason,
			map[string]any{"amount": amount, "payer": proof.Payload.Authorization.From}, challengeID)
	}

	if g.ledger != nil && challengeID != "" {
		if err := g.ledger.MarkOutcome(ctx, challengeID, challengestore.OutcomeAccepted, settlement.TxHash); err != nil {
			log.Printf("gate: ledger update failed: %v", err)
		}
	}

	payer := settlement.Payer
	if payer == "" {
		payer = proof.Payload.Authorization.From
	}

	g.audit.Record(audit.Event{
		EventType:     audit.EventPaymentReceived,
		RequestID:     requestID,
		ClientIP:      req.ClientIP,
		WalletAddress: payer,
		Data: map[string]any{
			"resource": req.Resource,
			"amount":   amount,
			"network":  g.cfg.Network,
			"tx_hash":  settlement.TxHash,
		},
	})

	return &Decision{
		Outcome:    OutcomePaymentAccepted,
		RequestID:  requestID,
		RateLimit:  rl,
		Settlement: settlement,
		Payer:      payer,
	}
}

// freshCost runs the request's cost function. A failing cost function is
// an upstream outage, not a client fault, and maps to 503.
func (g *Gate) freshCost(req *Request, requestID string, rl *ratelimit.Result) (decimal.Decimal, *Decision) {
	costBZZ, err := req.Cost()
	if err != nil {
		g.audit.Record(audit.Event{
			EventType: audit.EventError,
			RequestID: requestID,
			ClientIP:  req.ClientIP,
			Data:      map[string]any{"resource": req.Resource, "reason": "cost unavailable", "detail": err.Error()},
		})
		return decimal.Zero, &Decision{Outcome: OutcomeError, Status: 503, Reason: "cannot price this operation right now", RequestID: requestID, RateLimit: rl}
	}
	return costBZZ, nil
}

// quotedAmount extracts and verifies the quote token riding on the
// resource URL, and checks it was issued for the cost being paid for.
func (g *Gate) quotedAmount(req *Request, costBZZ decimal.Decimal) (amount, challengeID string, err error) {
	u, err := url.Parse(req.Resource)
	if err != nil {
		return "", "", errTokenMalformed
	}
	token := u.Query().Get(quoteParam)
	if token == "" {
		return "", "", errTokenMalformed
	}

	amount, nonce, quotedCost, err := verifyQuote(g.cfg.Secret, token, g.now(), quoteBinding(req.ClientIP, req.Resource))
	if err != nil {
		return "", "", err
	}
	cost, err := decimal.NewFromString(quotedCost)
	if err != nil || !cost.Equal(costBZZ) {
		return "", "", errTokenMismatched
	}
	return amount, nonce, nil
}

func (g *Gate) rejectPayment(ctx context.Context, req *Request, requestID string, rl *ratelimit.Result, reason string, data map[string]any, challengeID string) *Decision {
	if g.ledger != nil && challengeID != "" {
		if err := g.ledger.MarkOutcome(ctx, challengeID, challengestore.OutcomeRejected, ""); err != nil {
			log.Printf("gate: ledger update failed: %v", err)
		}
	}

	if data == nil {
		data = map[string]any{}
	}
	data["resource"] = req.Resource
	data["reason"] = reason
	g.audit.Record(audit.Event{
		EventType: audit.EventPaymentRejected,
		RequestID: requestID,
		ClientIP:  req.ClientIP,
		Data:      data,
	})

	return &Decision{
		Outcome:   OutcomePaymentRejected,
		Status:    402,
		Reason:    reason,
		RequestID: requestID,
		RateLimit: rl,
	}
}

func (g *Gate) internalError(req *Request, requestID string, rl *ratelimit.Result, reason string, err error) *Decision {
	g.audit.Record(audit.Event{
		EventType: audit.EventError,
		RequestID: requestID,
		ClientIP:  req.ClientIP,
		Data:      map[string]any{"resource": req.Resource, "reason": reason, "detail": err.Error()},
	})
	return &Decision{Outcome: OutcomeError, Status: 500, Reason: reason, RequestID: requestID, RateLimit: rl}
}

func (g *Gate) requirements(amount, resource string) facilitator.PaymentRequirements {
	return facilitator.PaymentRequirements{
		Scheme:            schemeExact,
		Network:           g.cfg.Network,
		MaxAmountRequired: amount,
		Resource:          resource,
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: g.cfg.TimeoutSeconds,
		Asset:             g.cfg.Asset,
	}
}

func resourceWithQuote(resource, token string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return resource
	}
	q := u.Query()
	q.Set(quoteParam, token)
	u.RawQuery = q.Encode()
	return u.String()
}
