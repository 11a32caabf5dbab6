package preflight

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Dimension is one monitored balance with its thresholds and verdict.
type Dimension struct {
	Name              string           `json:"name"`
	Balance           decimal.Decimal  `json:"balance"`
	WarnThreshold     decimal.Decimal  `json:"warn_threshold"`
	CriticalThreshold *decimal.Decimal `json:"critical_threshold,omitempty"`
	OK                bool             `json:"ok"`
	Critical          bool             `json:"critical"`
}

// WalletReport is one wallet's health as served on the status surface.
type WalletReport struct {
	Address    string      `json:"address,omitempty"`
	Balances   []Dimension `json:"balances"`
	OK         bool        `json:"ok"`
	IsCritical bool        `json:"is_critical"`
}

// Health is the composite verdict across both wallets.
type Health struct {
	Status   Status       `json:"status"`
	WalletA  WalletReport `json:"wallet_a"`
	WalletB  WalletReport `json:"wallet_b"`
	Warnings []string     `json:"warnings"`
	Errors   []string     `json:"errors"`
}

// Evaluate classifies a snapshot against the configured thresholds. It is
// pure: the same snapshot and thresholds always produce the same verdict.
//
// The receiving wallet's gas dimension carries the only critical threshold;
// a balance strictly below it blocks payments entirely (a balance exactly
// at the threshold does not). The spending wallet has no configured
// critical levels, but any of its dimensions at or below zero means the
// cheapest operation cannot be paid for, which is just as blocking.
func Evaluate(snap *Snapshot, t Thresholds, payTo string) *Health {
	h := &Health{
		Warnings: []string{},
		Errors:   []string{},
	}

	h.WalletA = evaluateReceiving(snap, t, payTo, h)
	h.WalletB = evaluateSpending(snap, t, h)

	switch {
	case h.WalletA.IsCritical || h.WalletB.IsCritical:
		h.Status = StatusCritical
	case !h.WalletA.OK || !h.WalletB.OK:
		h.Status = StatusDegraded
	default:
		h.Status = StatusOK
	}
	return h
}

func evaluateReceiving(snap *Snapshot, t Thresholds, payTo string, h *Health) WalletReport {
	critical := snap.BaseETH.LessThan(t.BaseETHCritical)
	ok := snap.BaseETH.GreaterThanOrEqual(t.BaseETHWarn)

	if critical {
		h.Errors = append(h.Errors, fmt.Sprintf(
			"receiving wallet ETH critically low (%s ETH, critical threshold %s ETH); cannot cover settlement gas",
			snap.BaseETH, t.BaseETHCritical))
	} else if !ok {
		h.Warnings = append(h.Warnings, fmt.Sprintf(
			"receiving wallet ETH low (%s ETH, warn threshold %s ETH); top up soon",
			snap.BaseETH, t.BaseETHWarn))
	}

	criticalThreshold := t.BaseETHCritical
	return WalletReport{
		Address: payTo,
		Balances: []Dimension{{
			Name:              "base_eth",
			Balance:           snap.BaseETH,
			WarnThreshold:     t.BaseETHWarn,
			CriticalThreshold: &criticalThreshold,
			OK:                ok,
			Critical:          critical,
		}},
		OK:         ok,
		IsCritical: critical,
	}
}

func evaluateSpending(snap *Snapshot, t Thresholds, h *Health) WalletReport {
	dims := []struct {
		name    string
		balance decimal.Decimal
		warn    decimal.Decimal
		unit    string
		hint    string
	}{
		{"xbzz", snap.BZZ, t.BZZWarn, "BZZ", "top up the node wallet for stamp purchases"},
		{"xdai", snap.XDAI, t.XDAIWarn, "xDAI", "top up the node wallet for gas"},
		{"chequebook", snap.ChequebookAvailable, t.ChequebookWarn, "BZZ", "top up the chequebook for bandwidth"},
	}

	report := WalletReport{OK: true}
	for _, d := range dims {
		critical := d.balance.LessThanOrEqual(decimal.Zero)
		ok := d.balance.GreaterThanOrEqual(d.warn)

		if critical {
			h.Errors = append(h.Errors, fmt.Sprintf(
				"spending wallet %s exhausted (%s %s); %s", d.name, d.balance, d.unit, d.hint))
			report.IsCritical = true
		} else if !ok {
			h.Warnings = append(h.Warnings, fmt.Sprintf(
				"spending wallet %s low (%s %s, warn threshold %s %s); %s",
				d.name, d.balance, d.unit, d.warn, d.unit, d.hint))
		}
		if !ok {
			report.OK = false
		}

		report.Balances = append(report.Balances, Dimension{
			Name:          d.name,
			Balance:       d.balance,
			WarnThreshold: d.warn,
			OK:            ok,
			Critical:      critical,
		})
	}
	return report
}
