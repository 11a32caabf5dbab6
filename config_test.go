package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigLoadYAML(t *testing.T) {
	path := writeConfigFile(t, `
port: 9090
bee_api_url: http://bee:1633
base_rpc_url: https://sepolia.base.org
x402_enabled: true
x402_pay_to_address: "0xpayto"
x402_challenge_secret: "sekrit"
x402_bzz_usd_rate: 0.42
x402_blocklist:
  - 198.51.100.7
  - 10.0.0.0/8
x402_allowlist:
  - 203.0.113.50
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://bee:1633", cfg.BeeAPIURL)
	assert.True(t, cfg.X402Enabled)
	assert.Equal(t, "0xpayto", cfg.PayToAddress)
	assert.Equal(t, 0.42, cfg.BZZUSDRate)
	assert.Equal(t, []string{"198.51.100.7", "10.0.0.0/8"}, cfg.Blocklist)

	// Defaults fill the rest.
	assert.Equal(t, defaultNetwork, cfg.Network)
	assert.Equal(t, defaultFacilitatorURL, cfg.FacilitatorURL)
	require.NotNil(t, cfg.Markup)
	assert.Equal(t, defaultMarkup, *cfg.Markup)
	assert.Equal(t, defaultRateLimit, cfg.RateLimit)
	assert.Equal(t, defaultBaseETHCritical, cfg.BaseETHCriticalThreshold)
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("X402_ENABLED", "true")
	t.Setenv("X402_PAY_TO_ADDRESS", "0xenvpayto")
	t.Setenv("X402_CHALLENGE_SECRET", "sekrit")
	t.Setenv("BASE_RPC_URL", "https://sepolia.base.org")
	t.Setenv("X402_ALLOWLIST", "203.0.113.50,203.0.113.51")

	var cfg Config
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "0xenvpayto", cfg.PayToAddress)
	assert.Equal(t, []string{"203.0.113.50", "203.0.113.51"}, cfg.Allowlist)
}

func TestConfigZeroMarkupAndFloorSurviveDefaults(t *testing.T) {
	path := writeConfigFile(t, `
x402_enabled: true
x402_pay_to_address: "0xpayto"
x402_challenge_secret: "sekrit"
base_rpc_url: https://sepolia.base.org
x402_markup: 0
x402_min_price_usd: 0
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	require.NotNil(t, cfg.Markup)
	require.NotNil(t, cfg.MinPriceUSD)
	assert.Zero(t, *cfg.Markup, "an explicit 0 markup must not be replaced by the default")
	assert.Zero(t, *cfg.MinPriceUSD, "an explicit 0 floor must not be replaced by the default")
}

func TestConfigDisabledSkipsValidation(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.LoadFromEnv())
	assert.False(t, cfg.X402Enabled)
	assert.Equal(t, defaultPort, cfg.Port)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing pay to address",
			mutate:  func(c *Config) { c.PayToAddress = "" },
			wantErr: "x402_pay_to_address",
		},
		{
			name:    "missing base rpc url",
			mutate:  func(c *Config) { c.BaseRPCURL = "" },
			wantErr: "base_rpc_url",
		},
		{
			name:    "missing challenge secret",
			mutate:  func(c *Config) { c.ChallengeSecret = "" },
			wantErr: "x402_challenge_secret",
		},
		{
			name:    "negative markup",
			mutate:  func(c *Config) { c.Markup = floatPtr(-0.1) },
			wantErr: "x402_markup",
		},
		{
			name:    "negative floor",
			mutate:  func(c *Config) { c.MinPriceUSD = floatPtr(-0.01) },
			wantErr: "x402_min_price_usd",
		},
		{
			name: "critical above warn",
			mutate: func(c *Config) {
				c.BaseETHCriticalThreshold = 0.1
				c.BaseETHWarnThreshold = 0.01
			},
			wantErr: "x402_base_eth_critical_threshold",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{
				X402Enabled:     true,
				PayToAddress:    "0xpayto",
				BaseRPCURL:      "https://sepolia.base.org",
				ChallengeSecret: "sekrit",
			}
			cfg.applyDefaults()
			tc.mutate(&cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
