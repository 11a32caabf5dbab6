package main

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengeCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_challenges_issued",
		Help: "The total number of 402 payment challenges issued",
	})
	paymentAcceptedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_payments_accepted",
		Help: "The total number of settled payments",
	})
	paymentRejectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_payments_rejected",
		Help: "The total number of rejected payment proofs",
	})
	gateRejectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_gate_rejections",
		Help: "Requests refused before pricing, by cause",
	}, []string{"cause"})
	uploadCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_uploads",
		Help: "The total number of uploads forwarded to the swarm",
	})
	downloadCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_downloads",
		Help: "The total number of downloads served from the swarm",
	})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_duration_seconds",
		Help: "Latency of requests in second.",
	}, []string{"path"})
)

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(r.URL.Path))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		timer.ObserveDuration()
	})
}
