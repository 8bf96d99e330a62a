package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestDryExecutorFillsWithinConfiguredBounds(t *testing.T) {
	store := orderbook.NewStore()
	cfg := DryConfig{
		BaseLatency:    time.Millisecond,
		PTransientFail: 0,
		FillRatio:      decimal.NewFromInt(1),
		SlippageBps:    decimal.NewFromInt(10),
		MockPrice:      decimal.RequireFromString("30000"),
	}
	exec := NewDryExecutor(store, NewRateLimiter(6000, 100), cfg, discardEntry())

	res, err := exec.PlaceMarketOrder(context.Background(), "BTCUSDT", types.SideBuy, decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("place market order: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success with PTransientFail=0")
	}
	if res.FilledQuantity.LessThan(decimal.RequireFromString("0.5")) || res.FilledQuantity.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatalf("expected filled quantity within [0.5, 1], got %s", res.FilledQuantity)
	}
}

func TestDryExecutorAlwaysFailsWhenPTransientFailIsOne(t *testing.T) {
	store := orderbook.NewStore()
	cfg := DryConfig{
		BaseLatency:    0,
		PTransientFail: 1,
		FillRatio:      decimal.NewFromInt(1),
		SlippageBps:    decimal.Zero,
		MockPrice:      decimal.RequireFromString("30000"),
	}
	exec := NewDryExecutor(store, NewRateLimiter(6000, 100), cfg, discardEntry())

	res, err := exec.PlaceMarketOrder(context.Background(), "BTCUSDT", types.SideBuy, decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("place market order: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure with PTransientFail=1")
	}
}

func TestDryExecutorGetOrderBookSnapshotReadsStore(t *testing.T) {
	store := orderbook.NewStore()
	bids, asks := orderbook.SortSides([]types.PriceLevel{{Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("1")}}, nil)
	store.Replace("BTCUSDT", bids, asks, time.Now())

	exec := NewDryExecutor(store, NewRateLimiter(6000, 100), DryConfig{}, discardEntry())
	book, err := exec.GetOrderBookSnapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if book.BestBid().IsZero() {
		t.Fatal("expected a non-zero best bid from the replaced book")
	}
}
