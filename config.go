package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort                   = 8080
	defaultBeeAPIURL              = "http://localhost:1633"
	defaultFacilitatorURL         = "https://x402.org/facilitator"
	defaultNetwork                = "base-sepolia"
	defaultUSDCContract           = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	defaultBZZUSDRate             = 0.50
	defaultMarkup                 = 0.5
	defaultMinPriceUSD            = 0.01
	defaultXBZZWarnThreshold      = 1.0
	defaultXDAIWarnThreshold      = 0.5
	defaultChequebookWarn         = 0.5
	defaultBaseETHWarnThreshold   = 0.005
	defaultBaseETHCritical        = 0.001
	defaultMaxStampSpendBZZ       = 1.0
	defaultRateLimit              = 30
	defaultRateLimitWindowSeconds = 60
	defaultChallengeTTLSeconds    = 300
	defaultBalanceCacheTTLSeconds = 60
	defaultAuditLogPath           = "x402_audit.jsonl"
)

type Config struct {
	// API settings
	Port       int    `yaml:"port" envconfig:"PORT"`
	BeeAPIURL  string `yaml:"bee_api_url" envconfig:"BEE_API_URL"`
	BaseRPCURL string `yaml:"base_rpc_url" envconfig:"BASE_RPC_URL"`

	// Payment settings
	X402Enabled            bool     `yaml:"x402_enabled" envconfig:"X402_ENABLED"`
	FacilitatorURL         string   `yaml:"x402_facilitator_url" envconfig:"X402_FACILITATOR_URL"`
	PayToAddress           string   `yaml:"x402_pay_to_address" envconfig:"X402_PAY_TO_ADDRESS"`
	Network                string   `yaml:"x402_network" envconfig:"X402_NETWORK"`
	USDCContract           string   `yaml:"x402_usdc_contract" envconfig:"X402_USDC_CONTRACT"`
	BZZUSDRate             float64  `yaml:"x402_bzz_usd_rate" envconfig:"X402_BZZ_USD_RATE"`
	Markup                 *float64 `yaml:"x402_markup" envconfig:"X402_MARKUP"`
	MinPriceUSD            *float64 `yaml:"x402_min_price_usd" envconfig:"X402_MIN_PRICE_USD"`
	ChallengeSecret        string   `yaml:"x402_challenge_secret" envconfig:"X402_CHALLENGE_SECRET"`
	ChallengeTTLSeconds    int      `yaml:"x402_challenge_ttl_seconds" envconfig:"X402_CHALLENGE_TTL_SECONDS"`
	ChallengeDB            string   `yaml:"x402_challenge_db" envconfig:"X402_CHALLENGE_DB"`
	MaxStampSpendBZZ       float64  `yaml:"x402_max_stamp_spend_bzz" envconfig:"X402_MAX_STAMP_SPEND_BZZ"`
	RateLimit              int      `yaml:"x402_rate_limit" envconfig:"X402_RATE_LIMIT"`
	RateLimitWindowSeconds int      `yaml:"x402_rate_limit_window_seconds" envconfig:"X402_RATE_LIMIT_WINDOW_SECONDS"`
	Blocklist              []string `yaml:"x402_blocklist" envconfig:"X402_BLOCKLIST"`
	Allowlist              []string `yaml:"x402_allowlist" envconfig:"X402_ALLOWLIST"`
	AuditLogPath           string   `yaml:"x402_audit_log_path" envconfig:"X402_AUDIT_LOG_PATH"`

	// Balance thresholds
	XBZZWarnThreshold        float64 `yaml:"x402_xbzz_warn_threshold" envconfig:"X402_XBZZ_WARN_THRESHOLD"`
	XDAIWarnThreshold        float64 `yaml:"x402_xdai_warn_threshold" envconfig:"X402_XDAI_WARN_THRESHOLD"`
	ChequebookWarnThreshold  float64 `yaml:"x402_chequebook_warn_threshold" envconfig:"X402_CHEQUEBOOK_WARN_THRESHOLD"`
	BaseETHWarnThreshold     float64 `yaml:"x402_base_eth_warn_threshold" envconfig:"X402_BASE_ETH_WARN_THRESHOLD"`
	BaseETHCriticalThreshold float64 `yaml:"x402_base_eth_critical_threshold" envconfig:"X402_BASE_ETH_CRITICAL_THRESHOLD"`
	BalanceCacheTTLSeconds   int     `yaml:"x402_balance_cache_ttl_seconds" envconfig:"X402_BALANCE_CACHE_TTL_SECONDS"`
}

// Load Config from a yaml file at path.
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return err
	}

	c.applyDefaults()
	return c.validate()
}

// Load Config from the environment.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return err
	}

	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.BeeAPIURL == "" {
		c.BeeAPIURL = defaultBeeAPIURL
	}
	if c.FacilitatorURL == "" {
		c.FacilitatorURL = defaultFacilitatorURL
	}
	if c.Network == "" {
		c.Network = defaultNetwork
	}
	if c.USDCContract == "" {
		c.USDCContract = defaultUSDCContract
	}
	if c.BZZUSDRate == 0 {
		c.BZZUSDRate = defaultBZZUSDRate
	}
	// Pointers so that an explicit 0 markup or 0 floor survives
	// defaulting; only a missing value gets the default.
	if c.Markup == nil {
		c.Markup = floatPtr(defaultMarkup)
	}
	if c.MinPriceUSD == nil {
		c.MinPriceUSD = floatPtr(defaultMinPriceUSD)
	}
	if c.ChallengeTTLSeconds == 0 {
		c.ChallengeTTLSeconds = defaultChallengeTTLSeconds
	}
	if c.MaxStampSpendBZZ == 0 {
		c.MaxStampSpendBZZ = defaultMaxStampSpendBZZ
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.RateLimitWindowSeconds == 0 {
		c.RateLimitWindowSeconds = defaultRateLimitWindowSeconds
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = defaultAuditLogPath
	}
	if c.XBZZWarnThreshold == 0 {
		c.XBZZWarnThreshold = defaultXBZZWarnThreshold
	}
	if c.XDAIWarnThreshold == 0 {
		c.XDAIWarnThreshold = defaultXDAIWarnThreshold
	}
	if c.ChequebookWarnThreshold == 0 {
		c.ChequebookWarnThreshold = defaultChequebookWarn
	}
	if c.BaseETHWarnThreshold == 0 {
		c.BaseETHWarnThreshold = defaultBaseETHWarnThreshold
	}
	if c.BaseETHCriticalThreshold == 0 {
		c.BaseETHCriticalThreshold = defaultBaseETHCritical
	}
	if c.BalanceCacheTTLSeconds == 0 {
		c.BalanceCacheTTLSeconds = defaultBalanceCacheTTLSeconds
	}
}

// validate catches configuration that must fail at startup, never
// per request.
func (c *Config) validate() error {
	if !c.X402Enabled {
		return nil
	}
	if c.PayToAddress == "" {
		return fmt.Errorf("x402_pay_to_address is required when x402 is enabled")
	}
	if c.BaseRPCURL == "" {
		return fmt.Errorf("base_rpc_url is required when x402 is enabled")
	}
	if c.ChallengeSecret == "" {
		return fmt.Errorf("x402_challenge_secret is required when x402 is enabled")
	}
	if c.BZZUSDRate <= 0 {
		return fmt.Errorf("x402_bzz_usd_rate must be positive")
	}
	if *c.Markup < 0 {
		return fmt.Errorf("x402_markup must not be negative")
	}
	if *c.MinPriceUSD < 0 {
		return fmt.Errorf("x402_min_price_usd must not be negative")
	}
	if c.BaseETHCriticalThreshold > c.BaseETHWarnThreshold {
		return fmt.Errorf("x402_base_eth_critical_threshold must not exceed the warn threshold")
	}
	return nil
}

func floatPtr(f float64) *float64 {
	return &f
}
