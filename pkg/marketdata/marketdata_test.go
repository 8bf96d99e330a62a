package marketdata

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestChunkSplitsIntoBoundedGroups(t *testing.T) {
	symbols := make([]types.Symbol, 0, 125)
	for i := 0; i < 125; i++ {
		symbols = append(symbols, types.Symbol("SYM"+string(rune('A'+i%26))))
	}
	groups := chunk(symbols, 50)
	if len(groups) != 3 {
		t.Fatalf("expected 3 chunks of at most 50, got %d", len(groups))
	}
	if len(groups[0]) != 50 || len(groups[1]) != 50 || len(groups[2]) != 25 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(groups[0]), len(groups[1]), len(groups[2]))
	}
}

func TestSymbolFromStream(t *testing.T) {
	cases := map[string]types.Symbol{
		"btcusdt@depth20@100ms": "BTCUSDT",
		"ethbtc@depth20@100ms":  "ETHBTC",
		"nostreamtag":           "",
		"":                      "",
	}
	for in, want := range cases {
		if got := symbolFromStream(in); got != want {
			t.Fatalf("symbolFromStream(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamURLBuildsCombinedStreamsQuery(t *testing.T) {
	url := streamURL("wss://stream.example.com", []types.Symbol{"BTCUSDT", "ETHUSDT"}, 20, 100)
	want := "wss://stream.example.com/stream?streams=btcusdt@depth20@100ms/ethusdt@depth20@100ms"
	if url != want {
		t.Fatalf("got %q, want %q", url, want)
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	b := time.Second
	max := 8 * time.Second
	b = nextBackoff(b, max)
	if b != 2*time.Second {
		t.Fatalf("expected 2s, got %s", b)
	}
	b = nextBackoff(b, max)
	if b != 4*time.Second {
		t.Fatalf("expected 4s, got %s", b)
	}
	b = nextBackoff(b, max)
	if b != 8*time.Second {
		t.Fatalf("expected 8s (capped), got %s", b)
	}
	b = nextBackoff(b, max)
	if b != 8*time.Second {
		t.Fatalf("expected backoff to stay capped at 8s, got %s", b)
	}
}

func TestParseLevelsDropsZeroQuantity(t *testing.T) {
	levels, err := parseLevels([][2]string{{"30000", "1.5"}, {"30001", "0"}, {"30002", "-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("expected exactly 1 surviving level, got %d", len(levels))
	}
	if !levels[0].Quantity.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected surviving level: %+v", levels[0])
	}
}

func TestParseLevelsRejectsUnparseablePrice(t *testing.T) {
	if _, err := parseLevels([][2]string{{"not-a-number", "1"}}); err == nil {
		t.Fatal("expected an error for an unparseable price")
	}
}

func TestHandleMessagePublishesAndNotifiesOnlyAllowedSymbol(t *testing.T) {
	store := orderbook.NewStore()
	notify := make(chan types.Symbol, 4)
	p := New(store, notify, DefaultConfig("wss://example.com"), discardLog())

	allowed := map[types.Symbol]struct{}{"BTCUSDT": {}}
	ctx := context.Background()

	msg := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"bids":[["30000","1"]],"asks":[["30010","2"]]}}`)
	p.handleMessage(ctx, allowed, msg)

	book := store.Get("BTCUSDT")
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("expected the book to be populated, got %+v", book)
	}
	select {
	case sym := <-notify:
		if sym != "BTCUSDT" {
			t.Fatalf("expected notify for BTCUSDT, got %s", sym)
		}
	default:
		t.Fatal("expected a notification to be sent")
	}

	// A message for a symbol outside this chunk's allowed set is dropped.
	other := []byte(`{"stream":"ethusdt@depth20@100ms","data":{"bids":[["2000","1"]],"asks":[["2001","1"]]}}`)
	p.handleMessage(ctx, allowed, other)
	if book := store.Get("ETHUSDT"); len(book.Bids) != 0 {
		t.Fatalf("expected ETHUSDT to remain unpublished, got %+v", book)
	}
	select {
	case sym := <-notify:
		t.Fatalf("expected no notification for a disallowed symbol, got %s", sym)
	default:
	}
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	store := orderbook.NewStore()
	notify := make(chan types.Symbol, 1)
	p := New(store, notify, DefaultConfig("wss://example.com"), discardLog())
	allowed := map[types.Symbol]struct{}{"BTCUSDT": {}}

	p.handleMessage(context.Background(), allowed, []byte(`not json`))

	select {
	case sym := <-notify:
		t.Fatalf("expected no notification for malformed payload, got %s", sym)
	default:
	}
}
