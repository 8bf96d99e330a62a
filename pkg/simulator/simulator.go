// Package simulator holds the shared depth-walk primitive and the
// Simulator: the component that turns a candidate triangle and a set of
// order books into either a depth-walk profit estimate or an atomic, asset-locked
// three-leg execution against the wallet.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/catalog"
	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
	"github.com/chonky-labs/triarb/pkg/wallet"
)

// unprofitableSentinel is returned by EstimateProfitUSDT whenever a leg
// can't even be walked (empty book, below filter, no fill) — a value the
// scanner's best-cycle comparison treats as strictly worse than any real
// loss.
var unprofitableSentinel = decimal.NewFromInt(-999)

// Executor is the capability a Simulator needs from whatever places real or
// simulated orders and supplies fresh order books in live mode. It is
// defined here, in the consumer package, rather than in pkg/executor, so
// that pkg/executor's concrete types satisfy it structurally and neither
// package needs to import the other.
type Executor interface {
	PlaceMarketOrder(ctx context.Context, symbol types.Symbol, side types.OrderSide, quantityBase decimal.Decimal) (types.OrderResult, error)
	GetOrderBookSnapshot(ctx context.Context, symbol types.Symbol) (orderbook.Book, error)
}

// TradeSink receives the per-cycle and per-leg records a completed or
// failed execution attempt produces, for the CSV sinks to persist.
type TradeSink interface {
	LogCycle(CycleRecord)
	LogLeg(LegRecord)
}

// CycleRecord is one row of sim_log.csv: the outcome of a full three-leg
// cycle attempt.
type CycleRecord struct {
	TradeID      string
	Time         time.Time
	TriangleKey  string
	Live         bool
	Success      bool
	FailReason   types.FailReason
	FailedLeg    int
	StartAsset   types.Asset
	StartBalance decimal.Decimal
	EndBalance   decimal.Decimal
	ProfitUSDT   decimal.Decimal
}

// LegRecord is one row of leg_log.csv: the outcome of a single leg within a
// cycle attempt.
type LegRecord struct {
	TradeID  string
	Time     time.Time
	LegIndex int
	Symbol   types.Symbol
	IsSell   bool
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
	Success  bool
	Reason   types.FailReason
}

// Config holds the trading parameters the simulator consults on every
// estimate and execution attempt.
type Config struct {
	Fee                 decimal.Decimal
	SlippageTolerance   decimal.Decimal
	MinFillRatio        decimal.Decimal
	MaxFractionPerTrade decimal.Decimal
	MinProfitUSDT       decimal.Decimal
	Filters             map[types.Symbol]types.SymbolFilter
	Live                bool
}

func (c Config) filterFor(symbol types.Symbol) types.SymbolFilter {
	if f, ok := c.Filters[symbol]; ok {
		return f
	}
	return types.SymbolFilter{}
}

// Simulator owns the shared depth-walk estimate and the atomic,
// asset-locked three-leg execute. It holds no order-book state of its own;
// callers supply fresh books per call.
type Simulator struct {
	wallet   *wallet.Wallet
	executor Executor
	sink     TradeSink
	log      *logrus.Entry
	cfg      Config

	assetLocks map[types.Asset]*sync.Mutex

	statsMu     sync.Mutex
	totalTrades int64
	totalProfit decimal.Decimal
}

// New builds a Simulator with one pre-allocated mutex per asset appearing
// in cat, allocated once up front rather than grown lazily in the asset-lock
// map while cycles from disjoint triangles execute concurrently.
func New(w *wallet.Wallet, executor Executor, sink TradeSink, log *logrus.Entry, cfg Config, cat *catalog.Catalog) *Simulator {
	locks := make(map[types.Asset]*sync.Mutex)
	for _, tri := range cat.Triangles() {
		for _, leg := range tri.Legs {
			ensureLock(locks, leg.Base)
			ensureLock(locks, leg.Quote)
		}
	}
	return &Simulator{
		wallet:      w,
		executor:    executor,
		sink:        sink,
		log:         log,
		cfg:         cfg,
		assetLocks:  locks,
		totalProfit: decimal.Zero,
	}
}

func ensureLock(locks map[types.Asset]*sync.Mutex, asset types.Asset) {
	if _, ok := locks[asset]; !ok {
		locks[asset] = &sync.Mutex{}
	}
}

// EstimateProfitUSDT shadow-walks the three legs of tri against books
// without touching the real wallet, sizing the trial amount as
// MaxFractionPerTrade of the wallet's free balance in the triangle's
// starting asset. It returns unprofitableSentinel if any leg can't be
// walked at all, and otherwise the fee-adjusted change in that starting
// asset's balance. The name is historical: the figure is denominated in
// whatever asset the triangle starts and ends in, and is only directly
// comparable to a USDT-denominated MinProfitUSDT threshold for triangles
// that start and end in USDT. A triangle starting elsewhere would need its
// delta repriced through that asset's own best USDT book before the
// comparison is meaningful; callers that scan non-USDT-start triangles
// should treat this as a same-asset delta, not a USDT figure.
func (s *Simulator) EstimateProfitUSDT(tri catalog.Triangle, books map[types.Symbol]orderbook.Book) decimal.Decimal {
	startAsset := tri.Legs[0].From()
	startBalance := s.wallet.GetFree(startAsset).Mul(s.cfg.MaxFractionPerTrade)
	if startBalance.IsZero() || startBalance.IsNegative() {
		return unprofitableSentinel
	}

	qty := startBalance
	for _, leg := range tri.Legs {
		book, ok := books[leg.Symbol]
		if !ok {
			return unprofitableSentinel
		}

		isSell := leg.Direction.IsSell()
		desiredBase, ok := desiredBaseQuantity(book, isSell, qty)
		if !ok {
			return unprofitableSentinel
		}

		res, reason := Walk(book, isSell, desiredBase, s.cfg.filterFor(leg.Symbol), s.cfg.MinFillRatio, s.cfg.SlippageTolerance, s.cfg.Fee)
		if reason != types.FailNone {
			return unprofitableSentinel
		}
		qty = received(res, isSell)
	}

	return qty.Sub(startBalance)
}

// received is the amount of the leg's To() asset the trader ends up holding
// after a successful walk: the fee-adjusted quote proceeds on a sell, the
// raw base fill on a buy (Net on a buy already carries the fee on the quote
// side spent, not the base side received).
func received(res WalkResult, isSell bool) decimal.Decimal {
	if isSell {
		return res.Net
	}
	return res.Filled
}

// spent is the amount of the leg's From() asset the trader gives up in a
// successful walk: the raw base fill on a sell, the fee-adjusted quote cost
// on a buy.
func spent(res WalkResult, isSell bool) decimal.Decimal {
	if isSell {
		return res.Filled
	}
	return res.Net
}

// desiredBaseQuantity converts the asset quantity currently held (qty) into
// the base-asset quantity a leg's Walk call needs: unchanged for a sell
// (the held asset already is the symbol's base), or divided through the
// book's best ask for a buy (the held asset is the symbol's quote).
func desiredBaseQuantity(book orderbook.Book, isSell bool, qty decimal.Decimal) (decimal.Decimal, bool) {
	if isSell {
		return qty, true
	}
	best := book.BestAsk()
	if best.IsZero() || best.IsNegative() {
		return decimal.Zero, false
	}
	return qty.Div(best), true
}

// Execute re-estimates tri against freshly fetched books, and if still
// profitable beyond MinProfitUSDT, runs the three legs against the real
// wallet under asset locks held in lexicographic order across the union of
// assets the cycle touches — the ordering that keeps two cycles sharing an
// asset from deadlocking each other.
//
// In local mode, legs are simulated against the supplied books with no
// Executor call. In live mode, each leg is placed through the Executor, and
// a failure after at least one successful leg triggers best-effort reversal
// of every successfully filled leg before the wallet transaction is rolled
// back.
func (s *Simulator) Execute(ctx context.Context, tri catalog.Triangle, books map[types.Symbol]orderbook.Book) CycleRecord {
	tradeID := uuid.NewString()
	now := time.Now()
	startAsset := tri.Legs[0].From()

	record := CycleRecord{
		TradeID:     tradeID,
		Time:        now,
		TriangleKey: tri.Key(),
		Live:        s.cfg.Live,
		StartAsset:  startAsset,
	}

	assetSet := make(map[types.Asset]struct{}, 3)
	for _, leg := range tri.Legs {
		assetSet[leg.Base] = struct{}{}
		assetSet[leg.Quote] = struct{}{}
	}
	ordered := types.SortedAssets(assetSet)
	s.lockAssets(ordered)
	defer s.unlockAssets(ordered)

	startBalance := s.wallet.GetFree(startAsset).Mul(s.cfg.MaxFractionPerTrade)
	record.StartBalance = startBalance
	if startBalance.IsZero() || startBalance.IsNegative() {
		record.FailReason = types.FailBelowFilter
		s.finish(record)
		return record
	}

	estimate := s.EstimateProfitUSDT(tri, books)
	if estimate.LessThan(s.cfg.MinProfitUSDT) {
		record.FailReason = types.FailBelowMinProfit
		record.ProfitUSDT = estimate
		s.finish(record)
		return record
	}

	tx := s.wallet.Begin()
	if !s.wallet.Apply(tx, startAsset, decimal.Zero, startBalance) {
		s.wallet.Rollback(tx)
		record.FailReason = types.FailUnprofitable
		s.finish(record)
		return record
	}

	qty := startBalance
	var reversible []types.ReversibleLeg
	failLeg := 0
	var failReason types.FailReason

	for i, leg := range tri.Legs {
		legNum := i + 1
		book := books[leg.Symbol]
		isSell := leg.Direction.IsSell()

		if s.cfg.Live {
			fresh, err := s.executor.GetOrderBookSnapshot(ctx, leg.Symbol)
			if err == nil {
				book = fresh
			}
		}

		desiredBase, ok := desiredBaseQuantity(book, isSell, qty)
		if !ok {
			failLeg = legNum
			failReason = types.LegEmptyOB(legNum)
			break
		}

		res, reason := Walk(book, isSell, desiredBase, s.cfg.filterFor(leg.Symbol), s.cfg.MinFillRatio, s.cfg.SlippageTolerance, s.cfg.Fee)
		if reason != types.FailNone {
			failLeg = legNum
			failReason = types.LegFail(legNum)
			s.logLeg(tradeID, legNum, leg.Symbol, isSell, desiredBase, decimal.Zero, false, reason)
			break
		}

		if s.cfg.Live {
			side := types.SideSell
			if !isSell {
				side = types.SideBuy
			}
			orderRes, err := s.executor.PlaceMarketOrder(ctx, leg.Symbol, side, res.Filled)
			if err != nil || !orderRes.Success {
				failLeg = legNum
				failReason = types.LegFail(legNum)
				s.logLeg(tradeID, legNum, leg.Symbol, isSell, res.Filled, res.AvgPrice, false, failReason)
				break
			}
			reversible = append(reversible, types.ReversibleLeg{
				Success:            true,
				Symbol:             leg.Symbol,
				IsSell:             isSell,
				FilledQuantityBase: orderRes.FilledQuantity,
			})
			res.Filled = orderRes.FilledQuantity
			res.Net = reprice(res.Net, orderRes, isSell, s.cfg.Fee)
		}

		unlockAmount := decimal.Zero
		if i == 0 {
			unlockAmount = startBalance
		}
		if !s.applyLeg(tx, leg, spent(res, isSell), received(res, isSell), unlockAmount) {
			failLeg = legNum
			failReason = types.FailUnprofitable
			break
		}

		s.logLeg(tradeID, legNum, leg.Symbol, isSell, res.Filled, res.AvgPrice, true, types.FailNone)
		qty = received(res, isSell)
	}

	if failReason != types.FailNone {
		if s.cfg.Live && len(reversible) > 0 {
			s.reverseLive(ctx, reversible)
		}
		s.wallet.Rollback(tx)
		record.FailReason = failReason
		record.FailedLeg = failLeg
		s.finish(record)
		return record
	}

	s.wallet.Commit(tx)
	record.Success = true
	record.EndBalance = qty
	record.ProfitUSDT = qty.Sub(startBalance)

	s.statsMu.Lock()
	s.totalTrades++
	s.totalProfit = s.totalProfit.Add(record.ProfitUSDT)
	s.statsMu.Unlock()

	s.finish(record)
	return record
}

// reprice substitutes the executor's own fill report for the shadow
// estimate's net amount, when the two disagree — live fills are ground
// truth over the pre-trade estimate. The executor reports raw
// CostOrProceeds before fees, same as WalkResult.Cost, so the same
// sell-shrinks/buy-inflates fee treatment Walk applies locally is applied
// here before the amount reaches the wallet.
func reprice(shadowNet decimal.Decimal, live types.OrderResult, isSell bool, fee decimal.Decimal) decimal.Decimal {
	if live.CostOrProceeds.IsZero() {
		return shadowNet
	}
	if isSell {
		return live.CostOrProceeds.Mul(decimal.NewFromInt(1).Sub(fee))
	}
	return live.CostOrProceeds.Mul(decimal.NewFromInt(1).Add(fee))
}

// applyLeg moves the wallet balances for one leg: debits the asset spent by
// the actually-walked spend amount, credits the asset received by the
// actually-walked receive amount, each as its own wallet.Apply invariant
// check. unlockAmount is nonzero only for the cycle's first leg, and is the
// full startAsset amount Execute earmarked as locked before walking any leg
// — not necessarily equal to spend, since an under-filled or slipped walk
// can spend less than what was locked. Releasing the full locked amount
// while debiting only what was actually spent leaves any unused remainder
// free again rather than stuck locked; every later leg spends an
// intermediate asset that was credited as free by the previous leg, so its
// debit carries no locked delta.
func (s *Simulator) applyLeg(tx *wallet.Tx, leg types.DirectedEdge, spend, receive, unlockAmount decimal.Decimal) bool {
	spendAsset := leg.From()
	receiveAsset := leg.To()

	lockedDelta := decimal.Zero
	if !unlockAmount.IsZero() {
		lockedDelta = decimal.Zero.Sub(unlockAmount)
	}
	if !s.wallet.Apply(tx, spendAsset, decimal.Zero.Sub(spend), lockedDelta) {
		return false
	}
	return s.wallet.Apply(tx, receiveAsset, receive, decimal.Zero)
}

// reverseLive attempts to undo every successfully filled live leg in
// reverse order, best-effort: a reversal failure is logged, not retried,
// per the live-partial-reversal policy.
func (s *Simulator) reverseLive(ctx context.Context, legs []types.ReversibleLeg) {
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		side := types.SideBuy
		if !leg.IsSell {
			side = types.SideSell
		}
		res, err := s.executor.PlaceMarketOrder(ctx, leg.Symbol, side, leg.FilledQuantityBase)
		if err != nil || !res.Success {
			s.log.WithFields(logrus.Fields{
				"symbol":         leg.Symbol,
				"filled_base":    leg.FilledQuantityBase,
				"reversible_leg": fmt.Sprintf("%+v", leg),
			}).Error("PARTIAL_REVERSAL: failed to reverse a filled live leg")
		}
	}
}

func (s *Simulator) lockAssets(assets []types.Asset) {
	for _, a := range assets {
		if m, ok := s.assetLocks[a]; ok {
			m.Lock()
		}
	}
}

func (s *Simulator) unlockAssets(assets []types.Asset) {
	for i := len(assets) - 1; i >= 0; i-- {
		if m, ok := s.assetLocks[assets[i]]; ok {
			m.Unlock()
		}
	}
}

func (s *Simulator) logLeg(tradeID string, legNum int, symbol types.Symbol, isSell bool, qty, avgPrice decimal.Decimal, success bool, reason types.FailReason) {
	if s.sink == nil {
		return
	}
	s.sink.LogLeg(LegRecord{
		TradeID:  tradeID,
		Time:     time.Now(),
		LegIndex: legNum,
		Symbol:   symbol,
		IsSell:   isSell,
		Quantity: qty,
		AvgPrice: avgPrice,
		Success:  success,
		Reason:   reason,
	})
}

func (s *Simulator) finish(record CycleRecord) {
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"trade_id": record.TradeID,
			"triangle": record.TriangleKey,
			"success":  record.Success,
			"profit":   record.ProfitUSDT.String(),
			"reason":   record.FailReason,
		}).Debug("cycle attempt finished")
	}
	if s.sink != nil {
		s.sink.LogCycle(record)
	}
}

// Stats reports the cumulative executed-trade count and profit, denominated
// per triangle's own starting asset (see EstimateProfitUSDT).
func (s *Simulator) Stats() (trades int64, profit decimal.Decimal) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.totalTrades, s.totalProfit
}
