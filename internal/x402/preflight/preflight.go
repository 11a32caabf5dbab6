// Package preflight watches the two wallets the gateway depends on: the
// receiving wallet on Base, which needs gas for the facilitator to settle
// USDC transfers, and the Bee node's spending wallet on Gnosis, which pays
// for stamps and bandwidth. Payments are only accepted while both are
// healthy enough to service what was paid for.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/swarmgate/gateway/internal/bee"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

var (
	plurPerBZZ   = decimal.New(1, 16)
	weiPerNative = decimal.New(1, 18)
)

type nodeWallet interface {
	Wallet(ctx context.Context) (*bee.Wallet, error)
	ChequebookBalance(ctx context.Context) (*bee.ChequebookBalance, error)
}

type gasReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// Thresholds holds the configured warn and critical levels, all in
// whole-token units.
type Thresholds struct {
	BZZWarn         decimal.Decimal
	XDAIWarn        decimal.Decimal
	ChequebookWarn  decimal.Decimal
	BaseETHWarn     decimal.Decimal
	BaseETHCritical decimal.Decimal
}

// Snapshot is a point-in-time read of every monitored balance dimension,
// in whole-token units.
type Snapshot struct {
	BaseETH             decimal.Decimal
	BZZ                 decimal.Decimal
	XDAI                decimal.Decimal
	ChequebookAvailable decimal.Decimal
	ChequebookTotal     decimal.Decimal
	Taken               time.Time
}

type Monitor struct {
	node       nodeWallet
	gas        gasReader
	payTo      string
	thresholds Thresholds
	ttl        time.Duration

	mu     sync.Mutex
	cached *Snapshot
	group  singleflight.Group

	now func() time.Time
}

func New(node nodeWallet, gas gasReader, payTo string, thresholds Thresholds, ttl time.Duration) *Monitor {
	return &Monitor{
		node:       node,
		gas:        gas,
		payTo:      payTo,
		thresholds: thresholds,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Snapshot returns a recent read of both wallets. Reads are cached for the
// configured TTL and concurrent refreshes collapse into one upstream query.
// Any upstream failure surfaces as ErrUpstreamUnavailable; callers gate
// payments and must treat that as critical.
func (m *Monitor) Snapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	if m.cached != nil && m.now().Sub(m.cached.Taken) < m.ttl {
		snap := *m.cached
		m.mu.Unlock()
		return &snap, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("snapshot", func() (any, error) {
		snap, err := m.fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cached = snap
		m.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	snap := *v.(*Snapshot)
	return &snap, nil
}

func (m *Monitor) fetch(ctx context.Context) (*Snapshot, error) {
	wallet, err := m.node.Wallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("node wallet: %w", err)
	}
	chequebook, err := m.node.ChequebookBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("chequebook: %w", err)
	}
	gasWei, err := m.gas.Balance(ctx, m.payTo)
	if err != nil {
		return nil, fmt.Errorf("base gas balance: %w", err)
	}

	bzzPLUR, err := decimal.NewFromString(wallet.BZZBalance.String())
	if err != nil {
		return nil, fmt.Errorf("node wallet: bzzBalance %q: %w", wallet.BZZBalance, err)
	}
	nativeWei, err := decimal.NewFromString(wallet.NativeTokenBalance.String())
	if err != nil {
		return nil, fmt.Errorf("node wallet: nativeTokenBalance %q: %w", wallet.NativeTokenBalance, err)
	}
	availPLUR, err := decimal.NewFromString(chequebook.AvailableBalance.String())
	if err != nil {
		return nil, fmt.Errorf("chequebook: availableBalance %q: %w", chequebook.AvailableBalance, err)
	}
	totalPLUR, err := decimal.NewFromString(chequebook.TotalBalance.String())
	if err != nil {
		return nil, fmt.Errorf("chequebook: totalBalance %q: %w", chequebook.TotalBalance, err)
	}

	return &Snapshot{
		BaseETH:             decimal.NewFromBigInt(gasWei, 0).Div(weiPerNative),
		BZZ:                 bzzPLUR.Div(plurPerBZZ),
		XDAI:                nativeWei.Div(weiPerNative),
		ChequebookAvailable: availPLUR.Div(plurPerBZZ),
		ChequebookTotal:     totalPLUR.Div(plurPerBZZ),
		Taken:               m.now(),
	}, nil
}

// Health reads a snapshot and evaluates it. A failed snapshot degrades to
// a critical report rather than an error so the health surface always has
// something to serve.
func (m *Monitor) Health(ctx context.Context) *Health {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return &Health{
			Status:   StatusCritical,
			WalletA:  WalletReport{Address: m.payTo, IsCritical: true},
			WalletB:  WalletReport{IsCritical: true},
			Warnings: []string{},
			Errors:   []string{fmt.Sprintf("cannot verify wallet balances: %v", err)},
		}
	}
	return Evaluate(snap, m.thresholds, m.payTo)
}
