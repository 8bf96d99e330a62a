// Package wallet implements the thread-safe transactional balance store
// shared by the Simulator and Executor.
package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chonky-labs/triarb/pkg/types"
)

// Change is one recorded mutation of an asset's (total, locked) pair,
// applied under the Wallet's lock and replayed in reverse on rollback.
type Change struct {
	Asset       types.Asset
	DeltaTotal  decimal.Decimal
	DeltaLocked decimal.Decimal
}

// Tx is a wallet transaction: a sequence of Changes that commit atomically
// together or roll back together. It is created by Begin and is meant to be
// used single-threaded by one logical trade.
type Tx struct {
	active  bool
	changes []Change
}

// Active reports whether further Apply calls on this Tx can succeed.
func (t *Tx) Active() bool { return t.active }

// entry is the (total, locked) pair stored per asset.
type entry struct {
	total  decimal.Decimal
	locked decimal.Decimal
}

// Wallet is a thread-safe store of per-asset (total, locked) balances. A
// single mutex protects both the total and locked maps; apply, commit,
// rollback, and reads all acquire it.
type Wallet struct {
	mu       sync.Mutex
	balances map[types.Asset]entry
}

// New returns an empty Wallet.
func New() *Wallet {
	return &Wallet{balances: make(map[types.Asset]entry)}
}

// SetBalance sets an asset's total, preserving its locked amount (or
// initializing it to zero for a previously unseen asset). Fails if amount < 0.
func (w *Wallet) SetBalance(asset types.Asset, amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.balances[asset]
	if !ok {
		e = entry{}
	}
	e.total = amount
	w.balances[asset] = e
	return true
}

// GetFree returns max(0, total-locked) for asset; zero for an unknown asset.
func (w *Wallet) GetFree(asset types.Asset) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.balances[asset]
	if !ok {
		return decimal.Zero
	}
	free := e.total.Sub(e.locked)
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

// GetTotal returns an asset's total balance; zero for an unknown asset.
func (w *Wallet) GetTotal(asset types.Asset) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.balances[asset]
	if !ok {
		return decimal.Zero
	}
	return e.total
}

// Begin starts a new transaction.
func (w *Wallet) Begin() *Tx {
	return &Tx{active: true}
}

// Apply atomically checks the wallet invariants (total >= 0, locked >= 0,
// locked <= total) against the proposed deltas. On success it records the
// Change on tx and mutates the store; on failure it makes no change at all.
func (w *Wallet) Apply(tx *Tx, asset types.Asset, deltaTotal, deltaLocked decimal.Decimal) bool {
	if tx == nil || !tx.active {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.balances[asset]
	newTotal := e.total.Add(deltaTotal)
	newLocked := e.locked.Add(deltaLocked)

	if newTotal.IsNegative() || newLocked.IsNegative() {
		return false
	}
	if newLocked.GreaterThan(newTotal) {
		return false
	}

	tx.changes = append(tx.changes, Change{Asset: asset, DeltaTotal: deltaTotal, DeltaLocked: deltaLocked})
	w.balances[asset] = entry{total: newTotal, locked: newLocked}
	return true
}

// Commit marks tx inactive. The changes it recorded remain applied.
func (w *Wallet) Commit(tx *Tx) bool {
	if tx == nil || !tx.active {
		return false
	}
	tx.active = false
	return true
}

// Rollback reverses every recorded change in LIFO order, clamping the floor
// at zero as a safety net, and marks tx inactive.
func (w *Wallet) Rollback(tx *Tx) {
	if tx == nil || !tx.active {
		return
	}
	tx.active = false

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(tx.changes) - 1; i >= 0; i-- {
		c := tx.changes[i]
		e := w.balances[c.Asset]
		e.total = e.total.Sub(c.DeltaTotal)
		e.locked = e.locked.Sub(c.DeltaLocked)
		if e.total.IsNegative() {
			e.total = decimal.Zero
		}
		if e.locked.IsNegative() {
			e.locked = decimal.Zero
		}
		w.balances[c.Asset] = e
	}
}

// Snapshot returns a point-in-time copy of every asset's (total, locked)
// pair, keyed by asset. Used by the read-only API server's /api/wallet
// endpoint.
func (w *Wallet) Snapshot() map[types.Asset]Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[types.Asset]Entry, len(w.balances))
	for a, e := range w.balances {
		out[a] = Entry{Total: e.total, Locked: e.locked, Free: freeOf(e)}
	}
	return out
}

func freeOf(e entry) decimal.Decimal {
	f := e.total.Sub(e.locked)
	if f.IsNegative() {
		return decimal.Zero
	}
	return f
}

// Entry is the externally visible (total, locked, free) view of one asset's
// balance, returned by Snapshot. Save and Load persist the separate
// balances/locked string maps of walletFile instead.
type Entry struct {
	Total  decimal.Decimal `json:"total"`
	Locked decimal.Decimal `json:"locked"`
	Free   decimal.Decimal `json:"free,omitempty"`
}

type walletFile struct {
	Balances map[types.Asset]string `json:"balances"`
	Locked   map[types.Asset]string `json:"locked"`
}

// Save persists the (balances, locked) maps to path as a structured
// key-value dump.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	bal := make(map[types.Asset]string, len(w.balances))
	lock := make(map[types.Asset]string, len(w.balances))
	for a, e := range w.balances {
		bal[a] = e.total.String()
		lock[a] = e.locked.String()
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(walletFile{Balances: bal, Locked: lock}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet state: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load rehydrates the (balances, locked) maps from path, replacing the
// wallet's current state.
func (w *Wallet) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read wallet state: %w", err)
	}
	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("unmarshal wallet state: %w", err)
	}

	balances := make(map[types.Asset]entry, len(wf.Balances))
	for a, s := range wf.Balances {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse balance for %s: %w", a, err)
		}
		balances[a] = entry{total: d}
	}
	for a, s := range wf.Locked {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse locked for %s: %w", a, err)
		}
		e := balances[a]
		e.locked = d
		balances[a] = e
	}

	w.mu.Lock()
	w.balances = balances
	w.mu.Unlock()
	return nil
}
