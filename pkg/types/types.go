// Package types holds the value types shared across the triangular-arbitrage
// engine: assets, symbols, directed edges, and the small result structs that
// cross component boundaries.
package types

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Asset is a ticker with no structure beyond equality and hashing, e.g. "USDT".
type Asset string

// Symbol is an exchange-recognized trading pair, e.g. "BTCUSDT".
type Symbol string

// Direction pins which side of a symbol a DirectedEdge trades.
//
// FORWARD sells base for quote at the bid. INVERSE spends quote to acquire
// base at the ask. Pinning this explicitly at catalog build time avoids
// inferring it from the quote-asset suffix, which is ambiguous for
// quote-denominated cycles.
type Direction uint8

const (
	Forward Direction = iota
	Inverse
)

func (d Direction) String() string {
	if d == Forward {
		return "FORWARD"
	}
	return "INVERSE"
}

// IsSell reports whether executing this direction means selling the base
// asset (true for FORWARD, false for INVERSE, which buys the base asset).
func (d Direction) IsSell() bool {
	return d == Forward
}

// DirectedEdge is one of the two executable directions of a tradable symbol.
// Base and Quote are always the symbol's real exchange base/quote assets —
// they do not flip with Direction. Two DirectedEdges exist per tradable
// symbol, one per Direction, differing only in which account state
// (From/To) they connect; this is what lets a triangle validate its legs by
// chaining From/To without the base/quote fields themselves changing
// meaning between legs.
type DirectedEdge struct {
	Base      Asset
	Quote     Asset
	Symbol    Symbol
	Direction Direction
}

// From is the asset held before trading this edge: Base for FORWARD (you
// sell base for quote), Quote for INVERSE (you spend quote to buy base).
func (e DirectedEdge) From() Asset {
	if e.Direction == Forward {
		return e.Base
	}
	return e.Quote
}

// To is the asset held after trading this edge.
func (e DirectedEdge) To() Asset {
	if e.Direction == Forward {
		return e.Quote
	}
	return e.Base
}

// Key returns the direction-tagged symbol tag used to build a cycle's
// canonical key, e.g. "BTCUSDT:FORWARD".
func (e DirectedEdge) Key() string {
	return string(e.Symbol) + ":" + e.Direction.String()
}

// PriceLevel is one (price, quantity) level of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// SymbolFilter holds exchange-enforced lower bounds on an order's size.
type SymbolFilter struct {
	MinNotional decimal.Decimal
	MinQuantity decimal.Decimal
}

// OrderSide is the side of a market order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderResult is returned by every Executor market order.
type OrderResult struct {
	Success         bool
	FilledQuantity  decimal.Decimal
	AvgPrice        decimal.Decimal
	CostOrProceeds  decimal.Decimal
	Message         string
}

// ReversibleLeg is captured per live leg for best-effort reversal on partial
// failure.
type ReversibleLeg struct {
	Success            bool
	Symbol             Symbol
	IsSell             bool
	FilledQuantityBase decimal.Decimal
}

// FailReason is a closed enum of named pre-trade and execution failure
// reasons. It is deliberately not an `error` — every
// boundary in this engine returns a discriminated result, not a thrown
// error, so that failures can be logged, blacklisted, and reasoned about by
// value.
type FailReason string

const (
	FailNone             FailReason = ""
	FailEmptyBook        FailReason = "EMPTY_BOOK"
	FailBelowFilter      FailReason = "BELOW_FILTER"
	FailNoFill           FailReason = "NO_FILL"
	FailUnderFillRatio   FailReason = "UNDER_FILL_RATIO"
	FailOverSlippage     FailReason = "OVER_SLIPPAGE"
	FailUnprofitable     FailReason = "UNPROFITABLE_OR_FILL_FAIL"
	FailBelowMinProfit   FailReason = "BELOW_MIN_PROFIT_USDT"
	FailCooldown         FailReason = "COOLDOWN"
	FailBlacklisted      FailReason = "BLACKLISTED"
)

// LegEmptyOB builds the per-leg empty-orderbook failure reason, e.g.
// "LEG2_EMPTY_OB".
func LegEmptyOB(leg int) FailReason {
	return FailReason(legTag(leg) + "_EMPTY_OB")
}

// LegFail builds the per-leg failure reason, e.g. "LEG3_FAIL".
func LegFail(leg int) FailReason {
	return FailReason(legTag(leg) + "_FAIL")
}

func legTag(leg int) string {
	switch leg {
	case 1:
		return "LEG1"
	case 2:
		return "LEG2"
	case 3:
		return "LEG3"
	default:
		return "LEG?"
	}
}

// SortedAssets returns the union of an arbitrary set of assets in
// lexicographic order — used by the Simulator to acquire per-asset locks in
// a deadlock-free, deterministic order.
func SortedAssets(assets map[Asset]struct{}) []Asset {
	out := make([]Asset, 0, len(assets))
	for a := range assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
