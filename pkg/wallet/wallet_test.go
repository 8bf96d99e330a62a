package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chonky-labs/triarb/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSetBalanceRejectsNegative(t *testing.T) {
	w := New()
	if w.SetBalance("BTC", d("-1")) {
		t.Fatal("expected SetBalance to reject a negative amount")
	}
	if got := w.GetTotal("BTC"); !got.IsZero() {
		t.Fatalf("expected total to remain zero, got %s", got)
	}
}

func TestGetFreeClampsAtZeroAndUnknownAsset(t *testing.T) {
	w := New()
	if got := w.GetFree("DOGE"); !got.IsZero() {
		t.Fatalf("expected zero free balance for unknown asset, got %s", got)
	}

	w.SetBalance("BTC", d("1"))
	tx := w.Begin()
	if !w.Apply(tx, "BTC", d("0"), d("1")) {
		t.Fatal("expected lock of 1 against total 1 to succeed")
	}
	w.Commit(tx)
	if got := w.GetFree("BTC"); !got.IsZero() {
		t.Fatalf("expected free balance 0 when fully locked, got %s", got)
	}
}

func TestApplyRejectsInvariantViolations(t *testing.T) {
	w := New()
	w.SetBalance("BTC", d("1"))

	tx := w.Begin()
	if w.Apply(tx, "BTC", d("-2"), d("0")) {
		t.Fatal("expected apply driving total negative to fail")
	}
	if w.Apply(tx, "BTC", d("0"), d("2")) {
		t.Fatal("expected apply locking more than total to fail")
	}
	if got := w.GetTotal("BTC"); !got.Equal(d("1")) {
		t.Fatalf("expected total unchanged at 1 after rejected applies, got %s", got)
	}
}

func TestApplyOnInactiveTxFails(t *testing.T) {
	w := New()
	w.SetBalance("USDT", d("100"))
	tx := w.Begin()
	w.Commit(tx)

	if w.Apply(tx, "USDT", d("-10"), d("0")) {
		t.Fatal("expected apply on a committed (inactive) tx to fail")
	}
}

// TestRollbackRestoresExactPriorState verifies begin; apply*; rollback
// returns the wallet byte-for-byte identical to its pre-begin state.
func TestRollbackRestoresExactPriorState(t *testing.T) {
	w := New()
	w.SetBalance("BTC", d("1"))
	w.SetBalance("ETH", d("0"))
	w.SetBalance("USDT", d("0"))

	before := w.Snapshot()

	tx := w.Begin()
	if !w.Apply(tx, "BTC", d("-1"), d("0")) {
		t.Fatal("leg1 apply unexpectedly failed")
	}
	if !w.Apply(tx, "ETH", d("10"), d("0")) {
		t.Fatal("leg2 apply unexpectedly failed")
	}
	// leg3 fails (e.g. empty book) -> caller rolls back.
	w.Rollback(tx)

	after := w.Snapshot()
	for asset, wantEntry := range before {
		gotEntry, ok := after[asset]
		if !ok {
			t.Fatalf("asset %s missing after rollback", asset)
		}
		if !gotEntry.Total.Equal(wantEntry.Total) || !gotEntry.Locked.Equal(wantEntry.Locked) {
			t.Fatalf("asset %s: want %+v got %+v", asset, wantEntry, gotEntry)
		}
	}
}

// TestAtomicSellFillsEntirely covers a full-fill sell applied atomically.
func TestAtomicSellFillsEntirely(t *testing.T) {
	w := New()
	w.SetBalance("BTC", d("0.5"))
	w.SetBalance("USDT", d("0"))

	tx := w.Begin()
	proceeds := d("30000").Mul(d("0.5")).Mul(d("1").Sub(d("0.001")))
	if !w.Apply(tx, "BTC", d("-0.5"), d("0")) {
		t.Fatal("sell leg BTC debit failed")
	}
	if !w.Apply(tx, "USDT", proceeds, d("0")) {
		t.Fatal("sell leg USDT credit failed")
	}
	w.Commit(tx)

	if got := w.GetTotal("BTC"); !got.IsZero() {
		t.Fatalf("expected BTC to be fully spent, got %s", got)
	}
	if got := w.GetTotal("USDT"); !got.Equal(d("14985")) {
		t.Fatalf("expected USDT proceeds of 14985, got %s", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	w := New()
	w.SetBalance("BTC", d("1.23456789"))
	w.SetBalance("USDT", d("1000"))
	tx := w.Begin()
	w.Apply(tx, "BTC", d("0"), d("0.5"))
	w.Commit(tx)

	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.json")
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	w2 := New()
	if err := w2.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, asset := range []types.Asset{"BTC", "USDT"} {
		if got, want := w2.GetTotal(asset), w.GetTotal(asset); !got.Equal(want) {
			t.Fatalf("%s total: want %s got %s", asset, want, got)
		}
		if got, want := w2.GetFree(asset), w.GetFree(asset); !got.Equal(want) {
			t.Fatalf("%s free: want %s got %s", asset, want, got)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	w := New()
	if err := w.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error loading a nonexistent wallet file")
	}
	if _, err := os.Stat("/definitely/not/here"); err == nil {
		t.Fatal("sanity check path should not exist")
	}
}
