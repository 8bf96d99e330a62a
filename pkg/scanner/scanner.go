// Package scanner implements the cheap top-of-book rescoring loop that
// decides which candidate triangle is worth handing to the Simulator's full
// depth-walk re-check: per-symbol incremental rescans on book updates, a
// best-cycle priority queue, and per-cycle cooldown and fail-window
// blacklisting.
package scanner

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/catalog"
	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/types"
)

// sentinelProfit is returned by cheapProfit whenever a leg's book is empty
// or a best price is nonpositive, and recorded by OnSymbolUpdate in place of
// a score for a cycle that is currently blacklisted — a value the priority
// queue treats as strictly worse than any real quote.
const sentinelProfit = -999.0

// Sink receives the scan-latency and failure rows persisted to
// scan_log.csv and fail_log.csv.
type Sink interface {
	LogScan(now time.Time, symbol types.Symbol, trianglesScanned int, bestProfit float64, latency time.Duration)
	LogFailure(now time.Time, triangleKey string, reason types.FailReason)
}

// Config holds the scanner's rescan, cooldown, and blacklist knobs.
type Config struct {
	TopNPerSymbol      int
	WorkerPoolSize     int
	Fee                decimal.Decimal
	MinProfitThreshold float64
	MinProfitUSDT      decimal.Decimal
	CooldownSeconds    time.Duration
	FailWindowSeconds  time.Duration
	MaxFailsInWindow   int
}

// pqItem is one entry of the best-cycle priority queue: a cycle ID and the
// profit percent it had when pushed. Stale entries, where lastProfit no
// longer agrees, are discarded lazily on pop rather than updated in place.
type pqItem struct {
	profit  float64
	cycleID int
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].profit > pq[j].profit }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(pqItem))
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// RankedCycle is one row of a materialized, sorted rescan — the shape
// exported to profitable_cycles.csv.
type RankedCycle struct {
	Triangle  catalog.Triangle
	ProfitPct float64
}

// Scanner owns the bounded worker pool that scores candidate triangles, the
// best-cycle priority queue, and the cooldown/blacklist bookkeeping that
// gates how often the Simulator is asked to attempt a cycle.
type Scanner struct {
	cat   *catalog.Catalog
	store *orderbook.Store
	sim   *simulator.Simulator
	sink  Sink
	log   *logrus.Entry
	cfg   Config

	tasks  chan func()
	poolWG sync.WaitGroup

	mu         sync.Mutex
	pq         priorityQueue
	lastProfit map[int]float64

	cooldownMu  sync.Mutex
	lastAttempt map[string]time.Time

	failMu     sync.Mutex
	failWindow map[string][]time.Time
}

// New builds a Scanner over cat and spins up cfg.WorkerPoolSize scoring
// workers. sink may be nil, in which case scan and failure logging is a
// no-op.
func New(cat *catalog.Catalog, store *orderbook.Store, sim *simulator.Simulator, sink Sink, log *logrus.Entry, cfg Config) *Scanner {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.TopNPerSymbol <= 0 {
		cfg.TopNPerSymbol = 50
	}

	sc := &Scanner{
		cat:         cat,
		store:       store,
		sim:         sim,
		sink:        sink,
		log:         log,
		cfg:         cfg,
		tasks:       make(chan func(), 1024),
		lastProfit:  make(map[int]float64),
		lastAttempt: make(map[string]time.Time),
		failWindow:  make(map[string][]time.Time),
	}
	heap.Init(&sc.pq)

	for i := 0; i < cfg.WorkerPoolSize; i++ {
		sc.poolWG.Add(1)
		go sc.worker()
	}
	return sc
}

func (sc *Scanner) worker() {
	defer sc.poolWG.Done()
	for task := range sc.tasks {
		task()
	}
}

func (sc *Scanner) submit(task func()) {
	sc.tasks <- task
}

// Close stops the worker pool once every submitted task has drained. Callers
// must not call OnSymbolUpdate or RescoreAllConcurrently after Close.
func (sc *Scanner) Close() {
	close(sc.tasks)
	sc.poolWG.Wait()
}

// Run consumes symbol-update notifications from notify (the channel the
// market-data plane publishes into) until ctx is cancelled or notify is
// closed, dispatching each to OnSymbolUpdate.
func (sc *Scanner) Run(ctx context.Context, notify <-chan types.Symbol) {
	for {
		select {
		case <-ctx.Done():
			return
		case sym, ok := <-notify:
			if !ok {
				return
			}
			sc.OnSymbolUpdate(ctx, sym)
		}
	}
}

// cheapProfit walks tri's three edges with a notional starting amount of 1,
// using only each book's best bid/ask, applying the configured fee after
// every leg. Returns sentinelProfit if any book is empty or a best price is
// nonpositive.
func (sc *Scanner) cheapProfit(tri catalog.Triangle) float64 {
	qty := decimal.NewFromInt(1)
	feeFactor := decimal.NewFromInt(1).Sub(sc.cfg.Fee)

	for _, leg := range tri.Legs {
		book := sc.store.Get(leg.Symbol)
		if leg.Direction.IsSell() {
			best := book.BestBid()
			if best.IsZero() || best.IsNegative() {
				return sentinelProfit
			}
			qty = qty.Mul(best)
		} else {
			best := book.BestAsk()
			if best.IsZero() || best.IsNegative() {
				return sentinelProfit
			}
			qty = qty.Div(best)
		}
		qty = qty.Mul(feeFactor)
	}

	pct, _ := qty.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// OnSymbolUpdate rescans every cycle referencing symbol (bounded by
// cfg.TopNPerSymbol) in the worker pool, updates the priority queue, and, if
// the best result clears the configured threshold, drives a full
// fresh-book re-check and execution attempt.
func (sc *Scanner) OnSymbolUpdate(ctx context.Context, symbol types.Symbol) {
	start := time.Now()
	ids := sc.cat.TrianglesForSymbol(symbol)
	if len(ids) > sc.cfg.TopNPerSymbol {
		ids = ids[:sc.cfg.TopNPerSymbol]
	}

	type result struct {
		id     int
		profit float64
	}
	results := make(chan result, len(ids))
	var wg sync.WaitGroup

	for _, id := range ids {
		tri, ok := sc.cat.Triangle(id)
		if !ok {
			continue
		}
		if sc.isBlacklisted(tri.Key()) {
			results <- result{id: id, profit: sentinelProfit}
			continue
		}
		wg.Add(1)
		id, tri := id, tri
		sc.submit(func() {
			defer wg.Done()
			results <- result{id: id, profit: sc.cheapProfit(tri)}
		})
	}
	wg.Wait()
	close(results)

	best := sentinelProfit
	bestID := -1
	sc.mu.Lock()
	for r := range results {
		sc.lastProfit[r.id] = r.profit
		heap.Push(&sc.pq, pqItem{profit: r.profit, cycleID: r.id})
		if r.profit > best {
			best = r.profit
			bestID = r.id
		}
	}
	sc.mu.Unlock()

	elapsed := time.Since(start)
	if sc.sink != nil {
		sc.sink.LogScan(time.Now(), symbol, len(ids), best, elapsed)
	}

	if bestID < 0 || best <= sc.cfg.MinProfitThreshold {
		return
	}

	tri, ok := sc.cat.Triangle(bestID)
	if !ok {
		return
	}
	sc.tryExecute(ctx, tri)
}

// tryExecute performs the fresh-book full re-check, cooldown gate, and
// execution attempt for a cycle that has already cleared the cheap-profit
// threshold.
func (sc *Scanner) tryExecute(ctx context.Context, tri catalog.Triangle) {
	key := tri.Key()
	books := sc.freshBooks(tri)

	estimate := sc.sim.EstimateProfitUSDT(tri, books)
	if !estimate.IsPositive() || estimate.LessThan(sc.cfg.MinProfitUSDT) {
		return
	}

	if !sc.markAttempt(key) {
		return
	}

	record := sc.sim.Execute(ctx, tri, books)
	if !record.Success {
		sc.recordFailure(key, record.FailReason)
	}
}

func (sc *Scanner) freshBooks(tri catalog.Triangle) map[types.Symbol]orderbook.Book {
	books := make(map[types.Symbol]orderbook.Book, 3)
	for _, sym := range tri.Symbols() {
		books[sym] = sc.store.Get(sym)
	}
	return books
}

// markAttempt enforces the per-cycle cooldown: returns false without
// mutating state if the last attempt was less than CooldownSeconds ago,
// otherwise records now as the new last-attempt time and returns true.
func (sc *Scanner) markAttempt(key string) bool {
	sc.cooldownMu.Lock()
	defer sc.cooldownMu.Unlock()

	now := time.Now()
	if last, seen := sc.lastAttempt[key]; seen && now.Sub(last) < sc.cfg.CooldownSeconds {
		return false
	}
	sc.lastAttempt[key] = now
	return true
}

// recordFailure logs a fail_log.csv row and pushes now into key's rolling
// failure window, pruning entries older than FailWindowSeconds.
func (sc *Scanner) recordFailure(key string, reason types.FailReason) {
	now := time.Now()
	if sc.sink != nil {
		sc.sink.LogFailure(now, key, reason)
	}

	sc.failMu.Lock()
	defer sc.failMu.Unlock()
	cutoff := now.Add(-sc.cfg.FailWindowSeconds)
	window := append(sc.failWindow[key], now)
	pruned := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	sc.failWindow[key] = pruned
}

// isBlacklisted reports whether key's rolling failure window currently
// contains at least MaxFailsInWindow entries.
func (sc *Scanner) isBlacklisted(key string) bool {
	sc.failMu.Lock()
	defer sc.failMu.Unlock()

	cutoff := time.Now().Add(-sc.cfg.FailWindowSeconds)
	count := 0
	for _, t := range sc.failWindow[key] {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= sc.cfg.MaxFailsInWindow
}

// GetBestCycle pops the best-profit entry off the priority queue, lazily
// discarding stale entries whose stored profit no longer matches
// lastProfit[cycleID], until a fresh entry is found or the queue empties.
func (sc *Scanner) GetBestCycle() (float64, catalog.Triangle, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for sc.pq.Len() > 0 {
		item := heap.Pop(&sc.pq).(pqItem)
		if sc.lastProfit[item.cycleID] != item.profit {
			continue
		}
		tri, ok := sc.cat.Triangle(item.cycleID)
		if !ok {
			continue
		}
		return item.profit, tri, true
	}
	return 0, catalog.Triangle{}, false
}

// PeekBestCycles returns up to n current best-profit cycles, descending,
// without mutating the priority queue: it pops from a scratch copy of pq so
// read-only callers (the API server) don't drain the same entries a live
// execution pass would otherwise consume.
func (sc *Scanner) PeekBestCycles(n int) []RankedCycle {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	scratch := make(priorityQueue, len(sc.pq))
	copy(scratch, sc.pq)
	heap.Init(&scratch)

	out := make([]RankedCycle, 0, n)
	for scratch.Len() > 0 && len(out) < n {
		item := heap.Pop(&scratch).(pqItem)
		if sc.lastProfit[item.cycleID] != item.profit {
			continue
		}
		tri, ok := sc.cat.Triangle(item.cycleID)
		if !ok {
			continue
		}
		out = append(out, RankedCycle{Triangle: tri, ProfitPct: item.profit})
	}
	return out
}

// RescoreAllConcurrently evaluates every triangle in the catalog in
// parallel, rebuilds the best-cycle priority queue from the results, and
// returns every cycle whose profit percent is at least minProfitPct,
// sorted descending — the materialized list used for the
// profitable_cycles.csv export.
func (sc *Scanner) RescoreAllConcurrently(minProfitPct float64) []RankedCycle {
	triangles := sc.cat.Triangles()
	results := make([]float64, len(triangles))

	var wg sync.WaitGroup
	for i, tri := range triangles {
		wg.Add(1)
		i, tri := i, tri
		sc.submit(func() {
			defer wg.Done()
			results[i] = sc.cheapProfit(tri)
		})
	}
	wg.Wait()

	sc.mu.Lock()
	sc.pq = priorityQueue{}
	heap.Init(&sc.pq)
	for i, tri := range triangles {
		sc.lastProfit[tri.ID] = results[i]
		heap.Push(&sc.pq, pqItem{profit: results[i], cycleID: tri.ID})
	}
	sc.mu.Unlock()

	ranked := make([]RankedCycle, 0)
	for i, tri := range triangles {
		if results[i] >= minProfitPct {
			ranked = append(ranked, RankedCycle{Triangle: tri, ProfitPct: results[i]})
		}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].ProfitPct > ranked[b].ProfitPct })
	return ranked
}
