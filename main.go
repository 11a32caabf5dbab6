package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/swarmgate/gateway/internal/basechain"
	"github.com/swarmgate/gateway/internal/bee"
	"github.com/swarmgate/gateway/internal/challengestore"
	"github.com/swarmgate/gateway/internal/x402/access"
	"github.com/swarmgate/gateway/internal/x402/audit"
	"github.com/swarmgate/gateway/internal/x402/facilitator"
	"github.com/swarmgate/gateway/internal/x402/gate"
	"github.com/swarmgate/gateway/internal/x402/preflight"
	"github.com/swarmgate/gateway/internal/x402/pricing"
	"github.com/swarmgate/gateway/internal/x402/ratelimit"
)

var (
	commit    string
	buildDate string
)

func main() {
	configPath := flag.String("config", "", "location of config file. If none is specified config will be loaded from the environment")
	flag.Parse()

	log.Printf("build info: commit: %v date: %v\n", commit, buildDate)

	var (
		cfg Config
		err error
	)
	if *configPath != "" {
		log.Printf("loading config from file %q\n", *configPath)
		err = cfg.Load(*configPath)
	} else {
		log.Println("loading config from env")
		err = cfg.LoadFromEnv()
	}
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}

	beeClient, err := bee.New(cfg.BeeAPIURL)
	if err != nil {
		log.Printf("bee err: %v\n", err)
		os.Exit(1)
	}

	acl, err := access.New(cfg.Blocklist, cfg.Allowlist)
	if err != nil {
		log.Printf("access list err: %v\n", err)
		os.Exit(1)
	}

	auditLog, err := audit.New(cfg.AuditLogPath)
	if err != nil {
		log.Printf("audit log err: %v\n", err)
		os.Exit(1)
	}

	var monitor *preflight.Monitor
	if cfg.BaseRPCURL != "" {
		baseClient, err := basechain.New(cfg.BaseRPCURL)
		if err != nil {
			log.Printf("base rpc err: %v\n", err)
			os.Exit(1)
		}
		monitor = preflight.New(beeClient, baseClient, cfg.PayToAddress, preflight.Thresholds{
			BZZWarn:         decimal.NewFromFloat(cfg.XBZZWarnThreshold),
			XDAIWarn:        decimal.NewFromFloat(cfg.XDAIWarnThreshold),
			ChequebookWarn:  decimal.NewFromFloat(cfg.ChequebookWarnThreshold),
			BaseETHWarn:     decimal.NewFromFloat(cfg.BaseETHWarnThreshold),
			BaseETHCritical: decimal.NewFromFloat(cfg.BaseETHCriticalThreshold),
		}, time.Duration(cfg.BalanceCacheTTLSeconds)*time.Second)
	}

	pg := &paymentGate{enabled: cfg.X402Enabled}
	if cfg.X402Enabled {
		engine, err := pricing.New(
			decimal.NewFromFloat(cfg.BZZUSDRate),
			decimal.NewFromFloat(*cfg.Markup),
			decimal.NewFromFloat(*cfg.MinPriceUSD),
		)
		if err != nil {
			log.Printf("pricing err: %v\n", err)
			os.Exit(1)
		}

		fac, err := facilitator.New(cfg.FacilitatorURL, 0)
		if err != nil {
			log.Printf("facilitator err: %v\n", err)
			os.Exit(1)
		}

		var ledger challengestore.Store
		if cfg.ChallengeDB != "" {
			ledger, err = challengestore.New(cfg.ChallengeDB)
			if err != nil {
				log.Printf("challenge store err: %v\n", err)
				os.Exit(1)
			}
			defer ledger.Close()
		}

		limiter := ratelimit.New(cfg.RateLimit, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

		pg.gate = gate.New(gate.Config{
			PayTo:        cfg.PayToAddress,
			Network:      cfg.Network,
			Asset:        cfg.USDCContract,
			ChallengeTTL: time.Duration(cfg.ChallengeTTLSeconds) * time.Second,
			Secret:       []byte(cfg.ChallengeSecret),
		}, acl, limiter, monitor, engine, fac, ledger, auditLog)
	}

	h := handlers{
		config:  cfg,
		bee:     beeClient,
		monitor: monitor,
		acl:     acl,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-PAYMENT", "Swarm-Postage-Batch-Id"},
		ExposedHeaders:   []string{"X-PAYMENT-RESPONSE", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/", h.handleIndex)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stamps", h.handleGetStamps)
		r.Get("/stamps/{id}", h.handleGetStamp)
		r.With(pg.require(h.stampPurchaseCost)).Post("/stamps", h.handlePurchaseStamp)
		r.With(pg.require(h.stampTopupCost)).Post("/stamps/{id}/topup/{amount}", h.handleTopupStamp)

		r.With(pg.require(h.uploadCost)).Post("/data", h.handleUploadData)
		r.Get("/data/{reference}", h.handleDownloadData)
		r.Get("/data/{reference}/json", h.handleDownloadDataJSON)

		r.Get("/wallet", h.handleWallet)
		r.Get("/chequebook/balance", h.handleChequebookBalance)
		r.Get("/chequebook/address", h.handleChequebookAddress)
	})

	r.Route("/x402", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/access", h.handleAccessStatus)
		r.Get("/audit/stats", h.handleAuditStats)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	port := fmt.Sprintf(":%d", cfg.Port)

	log.Printf("gateway listening on %v\n", port)

	http.ListenAndServe(port, r)
}
