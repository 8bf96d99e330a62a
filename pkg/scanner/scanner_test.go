package scanner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/catalog"
	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/types"
	"github.com/chonky-labs/triarb/pkg/wallet"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type stubExecutor struct {
	books map[types.Symbol]orderbook.Book
}

func (s *stubExecutor) PlaceMarketOrder(_ context.Context, _ types.Symbol, _ types.OrderSide, qty decimal.Decimal) (types.OrderResult, error) {
	return types.OrderResult{Success: true, FilledQuantity: qty}, nil
}

func (s *stubExecutor) GetOrderBookSnapshot(_ context.Context, symbol types.Symbol) (orderbook.Book, error) {
	return s.books[symbol], nil
}

type recordingSink struct {
	scans []string
	fails []string
}

func (r *recordingSink) LogScan(_ time.Time, symbol types.Symbol, _ int, _ float64, _ time.Duration) {
	r.scans = append(r.scans, string(symbol))
}

func (r *recordingSink) LogFailure(_ time.Time, key string, _ types.FailReason) {
	r.fails = append(r.fails, key)
}

func triangleCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	products := []catalog.Product{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", Status: "TRADING"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT", Status: "TRADING"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC", Status: "TRADING"},
	}
	cat, err := catalog.Build(products)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func flatBooks() map[types.Symbol]orderbook.Book {
	return map[types.Symbol]orderbook.Book{
		"BTCUSDT": {Bids: []types.PriceLevel{{Price: d("30000"), Quantity: d("10")}}, Asks: []types.PriceLevel{{Price: d("30000"), Quantity: d("10")}}},
		"ETHUSDT": {Bids: []types.PriceLevel{{Price: d("2000"), Quantity: d("100")}}, Asks: []types.PriceLevel{{Price: d("2000"), Quantity: d("100")}}},
		"ETHBTC":  {Bids: []types.PriceLevel{{Price: d("0.0667"), Quantity: d("100")}}, Asks: []types.PriceLevel{{Price: d("0.0667"), Quantity: d("100")}}},
	}
}

func newTestScanner(t *testing.T, cfg Config, sink Sink) (*Scanner, *catalog.Catalog, *orderbook.Store) {
	t.Helper()
	cat := triangleCatalog(t)
	store := orderbook.NewStore()
	for sym, book := range flatBooks() {
		store.EnsureSymbol(sym)
		store.Replace(sym, book.Bids, book.Asks, time.Now())
	}

	w := wallet.New()
	w.SetBalance("USDT", d("1000"))
	w.SetBalance("BTC", d("10"))
	w.SetBalance("ETH", d("10"))

	simCfg := simulator.Config{
		Fee:                 decimal.Zero,
		SlippageTolerance:   d("0.05"),
		MinFillRatio:        d("0.9"),
		MaxFractionPerTrade: d("0.1"),
		MinProfitUSDT:       d("-1000000"),
		Filters:             map[types.Symbol]types.SymbolFilter{},
	}
	sim := simulator.New(w, &stubExecutor{books: flatBooks()}, nil, discardLog(), simCfg, cat)

	sc := New(cat, store, sim, sink, discardLog(), cfg)
	t.Cleanup(sc.Close)
	return sc, cat, store
}

func defaultConfig() Config {
	return Config{
		TopNPerSymbol:      50,
		WorkerPoolSize:     2,
		Fee:                decimal.Zero,
		MinProfitThreshold: 1000, // effectively disables auto-execution unless overridden
		MinProfitUSDT:      d("-1000000"),
		CooldownSeconds:    10 * time.Second,
		FailWindowSeconds:  60 * time.Second,
		MaxFailsInWindow:   3,
	}
}

func TestCheapProfitReturnsSentinelOnEmptyBook(t *testing.T) {
	sc, cat, store := newTestScanner(t, defaultConfig(), nil)
	store.Replace("BTCUSDT", nil, nil, time.Now())

	var tri catalog.Triangle
	for _, c := range cat.Triangles() {
		if c.Legs[0].Symbol == "BTCUSDT" || c.Legs[1].Symbol == "BTCUSDT" || c.Legs[2].Symbol == "BTCUSDT" {
			tri = c
			break
		}
	}
	if tri.Legs[0].Symbol == "" {
		t.Fatal("expected a triangle referencing BTCUSDT")
	}

	if got := sc.cheapProfit(tri); got != sentinelProfit {
		t.Fatalf("expected sentinel profit for an empty book, got %v", got)
	}
}

func TestOnSymbolUpdateLogsScanAndUpdatesPriorityQueue(t *testing.T) {
	sink := &recordingSink{}
	sc, _, _ := newTestScanner(t, defaultConfig(), sink)

	sc.OnSymbolUpdate(context.Background(), "BTCUSDT")

	if len(sink.scans) != 1 || sink.scans[0] != "BTCUSDT" {
		t.Fatalf("expected exactly one scan log for BTCUSDT, got %+v", sink.scans)
	}

	if _, _, ok := sc.GetBestCycle(); !ok {
		t.Fatal("expected at least one fresh entry in the best-cycle queue")
	}
}

func TestGetBestCycleDiscardsStaleEntries(t *testing.T) {
	sc, cat, _ := newTestScanner(t, defaultConfig(), nil)
	tri := cat.Triangles()[0]

	sc.mu.Lock()
	sc.lastProfit[tri.ID] = 5.0
	sc.pq = append(sc.pq, pqItem{profit: 5.0, cycleID: tri.ID})
	// Superseded by a later rescore that changed lastProfit but left the
	// old queue entry behind.
	sc.lastProfit[tri.ID] = 9.0
	sc.mu.Unlock()

	if _, _, ok := sc.GetBestCycle(); ok {
		t.Fatal("expected the stale entry to be discarded, leaving the queue empty")
	}
}

func TestCooldownBlocksSecondAttemptWithinWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.CooldownSeconds = time.Hour
	sc, cat, _ := newTestScanner(t, cfg, nil)
	tri := cat.Triangles()[0]
	key := tri.Key()

	if !sc.markAttempt(key) {
		t.Fatal("expected the first attempt to be allowed")
	}
	if sc.markAttempt(key) {
		t.Fatal("expected the second attempt within the cooldown window to be blocked")
	}
}

func TestBlacklistAfterRepeatedFailuresInWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxFailsInWindow = 3
	cfg.FailWindowSeconds = time.Minute
	sink := &recordingSink{}
	sc, cat, _ := newTestScanner(t, cfg, sink)
	tri := cat.Triangles()[0]
	key := tri.Key()

	for i := 0; i < 3; i++ {
		sc.recordFailure(key, types.FailNoFill)
	}

	if !sc.isBlacklisted(key) {
		t.Fatal("expected the cycle to be blacklisted after 3 failures within the window")
	}
	if len(sink.fails) != 3 {
		t.Fatalf("expected 3 failure log rows, got %d", len(sink.fails))
	}
}

func TestBlacklistPrunesEntriesOutsideWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxFailsInWindow = 2
	cfg.FailWindowSeconds = 10 * time.Millisecond
	sc, cat, _ := newTestScanner(t, cfg, nil)
	tri := cat.Triangles()[0]
	key := tri.Key()

	sc.recordFailure(key, types.FailNoFill)
	sc.recordFailure(key, types.FailNoFill)
	if !sc.isBlacklisted(key) {
		t.Fatal("expected the cycle to be blacklisted immediately after 2 failures")
	}

	time.Sleep(20 * time.Millisecond)
	if sc.isBlacklisted(key) {
		t.Fatal("expected old failures outside the window to no longer count")
	}
}

func TestRescoreAllConcurrentlyReturnsSortedRanking(t *testing.T) {
	sc, _, _ := newTestScanner(t, defaultConfig(), nil)
	ranked := sc.RescoreAllConcurrently(-1000)
	if len(ranked) == 0 {
		t.Fatal("expected at least one ranked cycle with a permissive threshold")
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].ProfitPct > ranked[i-1].ProfitPct {
			t.Fatalf("expected descending order, got %v then %v", ranked[i-1].ProfitPct, ranked[i].ProfitPct)
		}
	}
}
