package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

// DryConfig holds the DryExecutor's fill-simulation knobs. These are a
// configurable linear injection model for test/simulation purposes, not a
// physical model of any real venue's microstructure — slippage scales
// linearly with order size, which is not how real books behave, but is
// good enough to exercise the rest of the system.
type DryConfig struct {
	BaseLatency    time.Duration
	PTransientFail float64
	FillRatio      decimal.Decimal
	SlippageBps    decimal.Decimal
	MockPrice      decimal.Decimal
}

// DryExecutor synthesizes fills priced from DryConfig.MockPrice, with
// injected latency, partial fills, and transient failures; the order book is
// not consulted when pricing a fill. GetOrderBookSnapshot serves the locally
// held order-book store.
type DryExecutor struct {
	store   *orderbook.Store
	limiter *RateLimiter
	cfg     DryConfig
	log     *logrus.Entry
	rng     *rand.Rand
}

// NewDryExecutor builds a DryExecutor reading snapshots from store and
// throttled by limiter.
func NewDryExecutor(store *orderbook.Store, limiter *RateLimiter, cfg DryConfig, log *logrus.Entry) *DryExecutor {
	return &DryExecutor{
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceMarketOrder throttles as an order call, sleeps to emulate network
// latency, transiently fails with probability PTransientFail, and
// otherwise synthesizes a partial fill with linear slippage.
func (e *DryExecutor) PlaceMarketOrder(ctx context.Context, symbol types.Symbol, side types.OrderSide, quantityBase decimal.Decimal) (types.OrderResult, error) {
	if err := e.limiter.AdmitOrder(ctx); err != nil {
		return types.OrderResult{}, err
	}

	select {
	case <-time.After(e.cfg.BaseLatency):
	case <-ctx.Done():
		return types.OrderResult{}, ctx.Err()
	}

	if e.rng.Float64() < e.cfg.PTransientFail {
		return types.OrderResult{Success: false, Message: "dry executor: simulated transient failure"}, nil
	}

	partialFactor := decimal.NewFromFloat(0.5 + e.rng.Float64()*0.5)
	filled := quantityBase.Mul(e.cfg.FillRatio).Mul(partialFactor)

	slipRatio := quantityBase.Mul(e.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	sign := decimal.NewFromInt(1)
	if side == types.SideSell {
		sign = decimal.NewFromInt(-1)
	}
	avgPrice := e.cfg.MockPrice.Mul(decimal.NewFromInt(1).Add(sign.Mul(slipRatio)))

	result := types.OrderResult{
		Success:        true,
		FilledQuantity: filled,
		AvgPrice:       avgPrice,
		CostOrProceeds: filled.Mul(avgPrice),
		Message:        fmt.Sprintf("[DRY] %s %s %s @ %s", symbol, side, filled.String(), avgPrice.String()),
	}

	e.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"side":   side,
		"filled": filled.String(),
		"price":  avgPrice.String(),
	}).Debug("dry executor filled order")

	return result, nil
}

// GetOrderBookSnapshot reads the local store, throttled as a non-order
// request.
func (e *DryExecutor) GetOrderBookSnapshot(ctx context.Context, symbol types.Symbol) (orderbook.Book, error) {
	if err := e.limiter.AdmitRequest(ctx); err != nil {
		return orderbook.Book{}, err
	}
	return e.store.Get(symbol), nil
}
