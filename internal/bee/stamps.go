package bee

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// GlobalBatch is a stamp batch as reported by the node's global /batches
// view. The local /stamps view is more accurate for batches this node owns.
type GlobalBatch struct {
	BatchID     string      `json:"batchID"`
	Value       json.Number `json:"value"`
	Start       int64       `json:"start"`
	Owner       string      `json:"owner"`
	Depth       int         `json:"depth"`
	BucketDepth int         `json:"bucketDepth"`
	Immutable   *bool       `json:"immutable"`
	BatchTTL    *int64      `json:"batchTTL"`
}

// LocalStamp is a batch from the node's local /stamps view, which carries
// utilization and usability that the global view lacks.
type LocalStamp struct {
	BatchID       string      `json:"batchID"`
	Utilization   *int64      `json:"utilization"`
	Usable        *bool       `json:"usable"`
	Label         *string     `json:"label"`
	Depth         int         `json:"depth"`
	Amount        json.Number `json:"amount"`
	BucketDepth   int         `json:"bucketDepth"`
	BlockNumber   *int64      `json:"blockNumber"`
	ImmutableFlag *bool       `json:"immutableFlag"`
	Exists        *bool       `json:"exists"`
	BatchTTL      *int64      `json:"batchTTL"`
	Owner         string      `json:"owner"`
}

// Stamp is the merged view served by the gateway.
type Stamp struct {
	BatchID       string `json:"batchID"`
	Utilization   int64  `json:"utilization"`
	Usable        bool   `json:"usable"`
	Label         string `json:"label,omitempty"`
	Depth         int    `json:"depth"`
	Amount        string `json:"amount"`
	BucketDepth   int    `json:"bucketDepth"`
	BlockNumber   int64  `json:"blockNumber"`
	ImmutableFlag bool   `json:"immutableFlag"`
	Exists        bool   `json:"exists"`
	BatchTTL      int64  `json:"batchTTL"`
	Owner         string `json:"owner,omitempty"`
	Expires       string `json:"expires"`
}

func (c *Client) Batches(ctx context.Context) ([]GlobalBatch, error) {
	var resp struct {
		Batches []GlobalBatch `json:"batches"`
	}
	if err := c.get(ctx, "batches", defaultTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

func (c *Client) LocalStamps(ctx context.Context) ([]LocalStamp, error) {
	var resp struct {
		Stamps []LocalStamp `json:"stamps"`
	}
	if err := c.get(ctx, "stamps", defaultTimeout, &resp); err != nil {
		return nil, err
	}
	return resp.Stamps, nil
}

// Stamps merges the global and local views into the gateway's stamp
// listing. A failing local query degrades to global-only data rather than
// failing the listing.
func (c *Client) Stamps(ctx context.Context) ([]Stamp, error) {
	global, err := c.Batches(ctx)
	if err != nil {
		return nil, err
	}

	local, err := c.LocalStamps(ctx)
	if err != nil {
		log.Printf("bee: local stamps unavailable, serving global data only: %v", err)
		local = nil
	}

	byID := make(map[string]*LocalStamp, len(local))
	for i := range local {
		if local[i].BatchID != "" {
			byID[local[i].BatchID] = &local[i]
		}
	}

	now := time.Now().UTC()
	stamps := make([]Stamp, 0, len(global))
	for _, g := range global {
		if g.BatchID == "" {
			continue
		}
		stamps = append(stamps, mergeStamp(g, byID[g.BatchID], now))
	}
	return stamps, nil
}

// Stamp returns a single merged batch by ID.
func (c *Client) Stamp(ctx context.Context, batchID string) (*Stamp, error) {
	stamps, err := c.Stamps(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stamps {
		if stamps[i].BatchID == batchID {
			return &stamps[i], nil
		}
	}
	return nil, ErrNotFound
}

// mergeStamp resolves each field explicitly, preferring the local node's
// view where it is present. The global view's "immutable" backfills the
// local "immutableFlag" name.
func mergeStamp(g GlobalBatch, l *LocalStamp, now time.Time) Stamp {
	s := Stamp{
		BatchID:     g.BatchID,
		Depth:       g.Depth,
		BucketDepth: g.BucketDepth,
		Amount:      g.Value.String(),
		Owner:       g.Owner,
	}
	if g.Immutable != nil {
		s.ImmutableFlag = *g.Immutable
	}
	if g.BatchTTL != nil {
		s.BatchTTL = *g.BatchTTL
	}

	if l != nil {
		if l.Utilization != nil {
			s.Utilization = *l.Utilization
		}
		if l.Usable != nil {
			s.Usable = *l.Usable
		}
		if l.Label != nil {
			s.Label = *l.Label
		}
		if l.Amount.String() != "" {
			s.Amount = l.Amount.String()
		}
		if l.Owner != "" {
			s.Owner = l.Owner
		}
		if l.BlockNumber != nil {
			s.BlockNumber = *l.BlockNumber
		}
		if l.Exists != nil {
			s.Exists = *l.Exists
		}
		if l.ImmutableFlag != nil {
			s.ImmutableFlag = *l.ImmutableFlag
		}
		if l.BatchTTL != nil {
			s.BatchTTL = *l.BatchTTL
		}
	}

	if s.BatchTTL < 0 {
		log.Printf("bee: stamp %s has negative TTL %d, treating as expired", s.BatchID, s.BatchTTL)
		s.BatchTTL = 0
	}
	s.Expires = now.Add(time.Duration(s.BatchTTL) * time.Second).Format("2006-01-02-15-04")

	// The local view knows usability; otherwise derive it from TTL.
	if l == nil || l.Usable == nil {
		s.Usable = s.BatchTTL > 0
	}

	return s
}

// FundsCheck reports whether the node wallet can cover a stamp purchase.
type FundsCheck struct {
	Sufficient   bool            `json:"sufficient"`
	BalanceBZZ   decimal.Decimal `json:"wallet_balance_bzz"`
	RequiredBZZ  decimal.Decimal `json:"required_bzz"`
	ShortfallBZZ decimal.Decimal `json:"shortfall_bzz"`
}

// CheckSufficientFunds compares the wallet's BZZ balance against a required
// PLUR amount.
func (c *Client) CheckSufficientFunds(ctx context.Context, requiredPLUR decimal.Decimal) (*FundsCheck, error) {
	w, err := c.Wallet(ctx)
	if err != nil {
		return nil, err
	}

	balancePLUR, err := decimal.NewFromString(w.BZZBalance.String())
	if err != nil {
		return nil, fmt.Errorf("wallet bzzBalance %q: %w", w.BZZBalance, err)
	}

	plurPerBZZ := decimal.New(1, 16)
	check := FundsCheck{
		Sufficient:  balancePLUR.GreaterThanOrEqual(requiredPLUR),
		BalanceBZZ:  balancePLUR.Div(plurPerBZZ),
		RequiredBZZ: requiredPLUR.Div(plurPerBZZ),
	}
	if !check.Sufficient {
		check.ShortfallBZZ = check.RequiredBZZ.Sub(check.BalanceBZZ)
	}
	return &check, nil
}
