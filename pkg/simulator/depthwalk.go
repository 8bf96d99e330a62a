package simulator

import (
	"github.com/shopspring/decimal"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

// WalkResult is the outcome of successfully walking an order book's depth:
// how much filled, at what average price, and the raw notional exchanged.
// Net is always the fee-adjusted quote-side amount: proceeds received on a
// sell (Cost shrunk by the fee) or total cost paid on a buy (Cost inflated
// by the fee). Filled is always the raw base-side amount, unaffected by the
// fee in either direction. A caller applying a leg debits/credits Filled on
// the base asset and Net on the quote asset, with sign depending on side.
type WalkResult struct {
	Filled   decimal.Decimal
	AvgPrice decimal.Decimal
	Cost     decimal.Decimal
	Net      decimal.Decimal
	Slippage decimal.Decimal
}

// epsilon is the remaining-quantity threshold below which the walk
// considers itself fully filled, guarding against residual decimal dust.
var epsilon = decimal.New(1, -12)

// Walk is the shared depth-walk primitive used identically by
// EstimateProfitUSDT, local-mode execute, and live-mode order sizing — one
// implementation instead of three copies that could drift apart.
//
// It walks book's bid side (if isSell) or ask side, consuming price levels
// in order until desiredQty is satisfied or the side is exhausted, then
// applies the filter, fill-ratio, and slippage checks and the per-leg fee.
func Walk(book orderbook.Book, isSell bool, desiredQty decimal.Decimal, filter types.SymbolFilter, minFillRatio, slippageTolerance, fee decimal.Decimal) (WalkResult, types.FailReason) {
	levels := book.Asks
	if isSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return WalkResult{}, types.FailEmptyBook
	}

	best := levels[0].Price
	if best.IsZero() || best.IsNegative() {
		return WalkResult{}, types.FailEmptyBook
	}

	if desiredQty.LessThan(filter.MinQuantity) || desiredQty.Mul(best).LessThan(filter.MinNotional) {
		return WalkResult{}, types.FailBelowFilter
	}

	remaining := desiredQty
	filled := decimal.Zero
	cost := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(epsilon) {
			break
		}
		take := decimal.Min(remaining, lvl.Quantity)
		if take.IsZero() || take.IsNegative() {
			continue
		}
		cost = cost.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return WalkResult{}, types.FailNoFill
	}
	if filled.LessThan(desiredQty.Mul(minFillRatio)) {
		return WalkResult{}, types.FailUnderFillRatio
	}

	avgPrice := cost.Div(filled)
	slippage := avgPrice.Sub(best).Abs().Div(best)
	if slippage.GreaterThan(slippageTolerance) {
		return WalkResult{}, types.FailOverSlippage
	}

	var net decimal.Decimal
	if isSell {
		net = cost.Mul(decimal.NewFromInt(1).Sub(fee))
	} else {
		net = cost.Mul(decimal.NewFromInt(1).Add(fee))
	}

	return WalkResult{Filled: filled, AvgPrice: avgPrice, Cost: cost, Net: net, Slippage: slippage}, types.FailNone
}
