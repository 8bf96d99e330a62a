// Package orderbook holds the per-symbol depth snapshots mutated exclusively
// by the market-data plane and read by the Scanner and Simulator.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chonky-labs/triarb/pkg/types"
)

// Book is a depth snapshot: bids descending by price, asks ascending, with
// the time of the last replacement. Every stored level has quantity > 0;
// duplicates at the same price are merged by SortSides before the book is
// published.
type Book struct {
	Bids           []types.PriceLevel
	Asks           []types.PriceLevel
	LastUpdateTime time.Time
}

// BestBid returns the first bid level's price, or zero if there are no bids.
func (b Book) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the first ask level's price, or zero if there are no asks.
func (b Book) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// SortSides drops zero-quantity levels, merges duplicate prices, and returns
// new slices with bids sorted descending / asks ascending; the input slices
// are not modified. Calling it twice is a no-op.
func SortSides(bids, asks []types.PriceLevel) ([]types.PriceLevel, []types.PriceLevel) {
	return mergeAndSort(bids, true), mergeAndSort(asks, false)
}

func mergeAndSort(levels []types.PriceLevel, descending bool) []types.PriceLevel {
	byPrice := make(map[string]decimal.Decimal, len(levels))
	order := make([]decimal.Decimal, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity.IsZero() || lvl.Quantity.IsNegative() {
			continue
		}
		key := lvl.Price.String()
		if existing, ok := byPrice[key]; ok {
			byPrice[key] = existing.Add(lvl.Quantity)
		} else {
			byPrice[key] = lvl.Quantity
			order = append(order, lvl.Price)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if descending {
			return order[i].GreaterThan(order[j])
		}
		return order[i].LessThan(order[j])
	})

	out := make([]types.PriceLevel, 0, len(order))
	for _, price := range order {
		out = append(out, types.PriceLevel{Price: price, Quantity: byPrice[price.String()]})
	}
	return out
}

// Store is the set of per-symbol depth snapshots. Per-symbol mutex
// granularity protects each book's payload; a single global mutex guards the
// map structure itself so that new symbols are never inserted into it
// concurrently from more than one path — callers pre-allocate a symbol's
// mutex/slot exactly once, at catalog build time, via EnsureSymbol.
type Store struct {
	globalMu sync.RWMutex
	symbols  map[types.Symbol]*symbolSlot
}

type symbolSlot struct {
	mu   sync.Mutex
	book Book
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{symbols: make(map[types.Symbol]*symbolSlot)}
}

// EnsureSymbol pre-allocates the per-symbol synchronization slot for symbol
// if it doesn't already exist. Called once per symbol at catalog build time,
// never from the hot ingestion path.
func (s *Store) EnsureSymbol(symbol types.Symbol) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if _, ok := s.symbols[symbol]; !ok {
		s.symbols[symbol] = &symbolSlot{}
	}
}

// KnownSymbols returns every symbol the store has a slot for.
func (s *Store) KnownSymbols() []types.Symbol {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	out := make([]types.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Replace atomically replaces the entire book for symbol and stamps its
// last-update time. The caller must have already sorted bids/asks via
// SortSides.
func (s *Store) Replace(symbol types.Symbol, bids, asks []types.PriceLevel, now time.Time) {
	slot := s.slotFor(symbol)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.book = Book{Bids: bids, Asks: asks, LastUpdateTime: now}
}

// Get returns a copy of symbol's current book. An unknown symbol returns a
// zero-value Book with a zero LastUpdateTime.
func (s *Store) Get(symbol types.Symbol) Book {
	slot := s.slotFor(symbol)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.book
}

// IsStale reports whether symbol has never been updated, or was last updated
// more than maxAge ago.
func (s *Store) IsStale(symbol types.Symbol, maxAge time.Duration, now time.Time) bool {
	slot := s.slotFor(symbol)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.book.LastUpdateTime.IsZero() {
		return true
	}
	return now.Sub(slot.book.LastUpdateTime) > maxAge
}

// LastUpdateTime returns the zero time if symbol has never been updated.
func (s *Store) LastUpdateTime(symbol types.Symbol) time.Time {
	slot := s.slotFor(symbol)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.book.LastUpdateTime
}

// slotFor returns the slot for symbol, allocating it under the global lock
// if EnsureSymbol was never called for it. This keeps Get/IsStale safe to
// call for a symbol the catalog never registered, at the cost of a map
// write; the ingestion hot path always goes through a pre-allocated slot.
func (s *Store) slotFor(symbol types.Symbol) *symbolSlot {
	s.globalMu.RLock()
	slot, ok := s.symbols[symbol]
	s.globalMu.RUnlock()
	if ok {
		return slot
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if slot, ok = s.symbols[symbol]; ok {
		return slot
	}
	slot = &symbolSlot{}
	s.symbols[symbol] = slot
	return slot
}
