// Package pricing converts resource costs in BZZ into user-facing USDC
// prices, applying the configured exchange rate, markup and price floor.
package pricing

import (
	"github.com/shopspring/decimal"
)

// USDC uses 6 decimal places on every supported network.
const usdcDecimals = 6

// PLUR is the smallest unit of BZZ: 1 BZZ = 10^16 PLUR.
var plurPerBZZ = decimal.New(1, 16)

type Engine struct {
	rate   decimal.Decimal // USD per BZZ
	markup decimal.Decimal // fraction, 0.5 = 50%
	floor  decimal.Decimal // minimum price in USD
}

func New(rate, markup, floor decimal.Decimal) (*Engine, error) {
	if rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	if markup.Sign() < 0 || floor.Sign() < 0 {
		return nil, ErrInvalidRate
	}
	return &Engine{rate: rate, markup: markup, floor: floor}, nil
}

// Quote is a detailed price calculation for a single operation.
type Quote struct {
	CostBZZ      decimal.Decimal `json:"cost_bzz"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Markup       decimal.Decimal `json:"markup"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	FloorApplied bool            `json:"floor_applied"`
	BeforeFloor  decimal.Decimal `json:"price_before_floor"`
}

// Quote prices costBZZ: max(floor, cost * rate * (1+markup)), rounded
// half-up to USDC precision. Safe for concurrent use; the result is
// immutable once returned and is recomputed for every request.
func (e *Engine) Quote(costBZZ decimal.Decimal) (*Quote, error) {
	if costBZZ.Sign() < 0 {
		return nil, ErrInvalidRate
	}

	raw := costBZZ.Mul(e.rate).Mul(decimal.NewFromInt(1).Add(e.markup)).Round(usdcDecimals)

	price := raw
	floored := false
	if price.LessThan(e.floor) {
		price = e.floor.Round(usdcDecimals)
		floored = true
	}

	return &Quote{
		CostBZZ:      costBZZ,
		ExchangeRate: e.rate,
		Markup:       e.markup,
		PriceUSD:     price,
		FloorApplied: floored,
		BeforeFloor:  raw,
	}, nil
}

// AtomicUnits renders a USD price as an integer string in the stablecoin's
// smallest unit, e.g. 0.075 -> "75000".
func AtomicUnits(priceUSD decimal.Decimal) string {
	return priceUSD.Shift(usdcDecimals).Round(0).String()
}

// PLURToBZZ converts a raw PLUR amount to BZZ.
func PLURToBZZ(plur decimal.Decimal) decimal.Decimal {
	return plur.Div(plurPerBZZ)
}

// BZZToPLUR converts BZZ to PLUR, truncated to a whole unit.
func BZZToPLUR(bzz decimal.Decimal) decimal.Decimal {
	return bzz.Mul(plurPerBZZ).Truncate(0)
}
