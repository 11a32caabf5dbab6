package gate

import (
	"context"
	"sync"

	"github.com/swarmgate/gateway/internal/challengestore"
	"github.com/swarmgate/gateway/internal/x402/access"
	"github.com/swarmgate/gateway/internal/x402/audit"
	"github.com/swarmgate/gateway/internal/x402/facilitator"
	"github.com/swarmgate/gateway/internal/x402/preflight"
	"github.com/swarmgate/gateway/internal/x402/ratelimit"
)

type mockClassifier struct {
	result access.Classification
}

func (m *mockClassifier) Classify(callerIP string) access.Classification {
	return m.result
}

type mockLimiter struct {
	allowed bool
	count   int
}

func (m *mockLimiter) CheckAndRecord(identity string) ratelimit.Result {
	m.count++
	return ratelimit.Result{Allowed: m.allowed, Count: m.count, Limit: 10, Remaining: 10 - m.count}
}

type mockMonitor struct {
	health *preflight.Health
}

func (m *mockMonitor) Health(ctx context.Context) *preflight.Health {
	return m.health
}

type mockFacilitator struct {
	verifyResp  *facilitator.VerifyResponse
	verifyErr   error
	settleResp  *facilitator.SettleResponse
	settleErr   error
	verifyCalls int
	settleCalls int
	verifyReqs  facilitator.PaymentRequirements
	settleReqs  facilitator.PaymentRequirements
}

func (m *mockFacilitator) Verify(ctx context.Context, paymentHeader string, reqs facilitator.PaymentRequirements) (*facilitator.VerifyResponse, error) {
	m.verifyCalls++
	m.verifyReqs = reqs
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.verifyResp, nil
}

func (m *mockFacilitator) Settle(ctx context.Context, paymentHeader string, reqs facilitator.PaymentRequirements) (*facilitator.SettleResponse, error) {
	m.settleCalls++
	m.settleReqs = reqs
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	return m.settleResp, nil
}

type mockLedger struct {
	created  []challengestore.Request
	outcomes map[string]string
	txHashes map[string]string
	nextID   string
}

func (m *mockLedger) Create(ctx context.Context, req *challengestore.Request) (*challengestore.Challenge, error) {
	m.created = append(m.created, *req)
	id := m.nextID
	if id == "" {
		id = "challenge-1"
	}
	return &challengestore.Challenge{ID: id, ClientIP: req.ClientIP, Resource: req.Resource, Amount: req.Amount}, nil
}

func (m *mockLedger) Get(ctx context.Context, id string) (*challengestore.Challenge, error) {
	outcome := challengestore.OutcomeIssued
	if o, ok := m.outcomes[id]; ok {
		outcome = o
	}
	return &challengestore.Challenge{ID: id, Outcome: outcome}, nil
}

func (m *mockLedger) MarkOutcome(ctx context.Context, id, outcome string, txHash string) error {
	if m.outcomes == nil {
		m.outcomes = map[string]string{}
		m.txHashes = map[string]string{}
	}
	m.outcomes[id] = outcome
	m.txHashes[id] = txHash
	return nil
}

type mockAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *mockAudit) Record(event audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockAudit) byType(t audit.EventType) []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, e := range m.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
