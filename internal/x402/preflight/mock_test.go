package preflight

import (
	"context"
	"encoding/json"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/swarmgate/gateway/internal/bee"
)

type mockNodeWallet struct {
	bzzPLUR    string
	nativeWei  string
	availPLUR  string
	totalPLUR  string
	walletErr  error
	chequeErr  error
	walletHits atomic.Int64
}

func (m *mockNodeWallet) Wallet(ctx context.Context) (*bee.Wallet, error) {
	m.walletHits.Add(1)
	if m.walletErr != nil {
		return nil, m.walletErr
	}
	return &bee.Wallet{
		BZZBalance:         json.Number(m.bzzPLUR),
		NativeTokenBalance: json.Number(m.nativeWei),
		WalletAddress:      "0xnode",
	}, nil
}

func (m *mockNodeWallet) ChequebookBalance(ctx context.Context) (*bee.ChequebookBalance, error) {
	if m.chequeErr != nil {
		return nil, m.chequeErr
	}
	return &bee.ChequebookBalance{
		TotalBalance:     json.Number(m.totalPLUR),
		AvailableBalance: json.Number(m.availPLUR),
	}, nil
}

type mockGasReader struct {
	wei   *big.Int
	err   error
	delay time.Duration
	hits  atomic.Int64
}

func (m *mockGasReader) Balance(ctx context.Context, address string) (*big.Int, error) {
	m.hits.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.wei, nil
}
