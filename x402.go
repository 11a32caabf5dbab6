package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/swarmgate/gateway/internal/x402/gate"
)

// costFunc prices one request in BZZ before the gate converts it to USD.
type costFunc func(r *http.Request) (decimal.Decimal, error)

type paymentGate struct {
	enabled bool
	gate    *gate.Gate
}

// require wraps a handler so it only runs for free identities or settled
// payments. With payments disabled every request passes through untouched.
// The cost function is handed to the gate lazily: free and refused
// callers never trigger a pricing round-trip to the node.
func (p *paymentGate) require(cost costFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !p.enabled {
				next.ServeHTTP(w, r)
				return
			}

			decision := p.gate.Decide(r.Context(), &gate.Request{
				ClientIP:      requestIP(r),
				Resource:      requestResource(r),
				PaymentHeader: r.Header.Get("X-PAYMENT"),
				Cost:          func() (decimal.Decimal, error) { return cost(r) },
			})

			if rl := decision.RateLimit; rl != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			}

			switch decision.Outcome {
			case gate.OutcomeFreePass:
				next.ServeHTTP(w, r)

			case gate.OutcomePaymentAccepted:
				paymentAcceptedCounter.Inc()
				if header, err := settlementHeader(decision); err == nil {
					w.Header().Set("X-PAYMENT-RESPONSE", header)
				}
				// The client may be gone; the paid-for work still runs.
				next.ServeHTTP(w, r.WithContext(context.WithoutCancel(r.Context())))

			case gate.OutcomeChallengeIssued:
				challengeCounter.Inc()
				writeJSON(w, decision.Status, decision.Challenge)

			case gate.OutcomePaymentRejected:
				paymentRejectedCounter.Inc()
				writeJSON(w, decision.Status, map[string]any{
					"x402Version": 1,
					"error":       decision.Reason,
					"request_id":  decision.RequestID,
				})

			default:
				gateRejectionCounter.WithLabelValues(string(decision.Outcome)).Inc()
				writeJSON(w, decision.Status, map[string]any{
					"error":      decision.Reason,
					"request_id": decision.RequestID,
				})
			}
		})
	}
}

func settlementHeader(decision *gate.Decision) (string, error) {
	jsonb, err := json.Marshal(decision.Settlement)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(jsonb), nil
}

// requestIP trusts chi's RealIP middleware to have rewritten RemoteAddr
// from forwarding headers already.
func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestResource(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
