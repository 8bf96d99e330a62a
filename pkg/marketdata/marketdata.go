// Package marketdata implements the multiplexed depth-stream ingestion
// plane: it opens one long-lived websocket connection per chunk of symbols,
// parses and republishes incoming depth updates into an orderbook.Store, and
// reconnects with exponential backoff on failure or staleness. See spec
// §4.2.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

// Config holds the ingestion plane's connection-shape and timing knobs.
type Config struct {
	BaseURL           string
	MaxSymbolsPerConn int
	DepthLevels       int
	CadenceMs         int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	StalenessWindow   time.Duration
	WatchdogInterval  time.Duration
}

// DefaultConfig returns sensible defaults: 50 symbols per connection,
// depth-at-20 at 100ms cadence, backoff from 1s doubling to a 300s cap, and
// a 30s staleness window checked every 5s.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		MaxSymbolsPerConn: 50,
		DepthLevels:       20,
		CadenceMs:         100,
		InitialBackoff:    time.Second,
		MaxBackoff:        300 * time.Second,
		StalenessWindow:   30 * time.Second,
		WatchdogInterval:  5 * time.Second,
	}
}

// wireMessage is the inbound-only combined-stream envelope:
// {stream: "<symbol>@depth20@100ms", data: {bids: [[p,q],...], asks: [[p,q],...]}}.
type wireMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	} `json:"data"`
}

// symbolFromStream extracts the upper-cased symbol from a combined-stream
// tag like "btcusdt@depth20@100ms". Returns "" if the tag has no "@".
func symbolFromStream(stream string) types.Symbol {
	i := strings.IndexByte(stream, '@')
	if i <= 0 {
		return ""
	}
	return types.Symbol(strings.ToUpper(stream[:i]))
}

func parseLevels(raw [][2]string) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", pair[1], err)
		}
		if qty.IsZero() || qty.IsNegative() {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// chunk splits symbols into groups of at most size, preserving order — each
// group drives exactly one streaming connection for the process lifetime.
func chunk(symbols []types.Symbol, size int) [][]types.Symbol {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]types.Symbol
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[i:end])
	}
	return out
}

func streamTag(symbol types.Symbol, depthLevels, cadenceMs int) string {
	return fmt.Sprintf("%s@depth%d@%dms", strings.ToLower(string(symbol)), depthLevels, cadenceMs)
}

func streamURL(baseURL string, symbols []types.Symbol, depthLevels, cadenceMs int) string {
	tags := make([]string, len(symbols))
	for i, s := range symbols {
		tags[i] = streamTag(s, depthLevels, cadenceMs)
	}
	return baseURL + "/stream?streams=" + strings.Join(tags, "/")
}

func nextBackoff(current, max time.Duration) time.Duration {
	doubled := current * 2
	if doubled > max {
		return max
	}
	return doubled
}

// Dialer is the capability Plane needs to open a streaming connection;
// satisfied by *websocket.Dialer, and narrowed here so tests can substitute
// a fake without pulling in a real socket.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// chunkConn tracks the live connection for one symbol chunk so the
// staleness watchdog can force-close it and let the owning reconnect loop
// take over — the symbol/connection mapping is fixed for the process
// lifetime; only the underlying socket churns.
type chunkConn struct {
	symbols []types.Symbol

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *chunkConn) set(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *chunkConn) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Plane is the market-data ingestion plane: it owns one worker goroutine
// per streaming connection plus one staleness-watchdog goroutine, publishing
// every parsed depth update into store and notifying notify with the
// updated symbol.
type Plane struct {
	store  *orderbook.Store
	notify chan<- types.Symbol
	cfg    Config
	log    *logrus.Entry
	dialer Dialer

	mu          sync.Mutex
	chunks      []*chunkConn
	symbolChunk map[types.Symbol]*chunkConn
}

// New builds a Plane publishing into store and notifying notify on every
// symbol update. notify should be buffered: each send blocks the connection's
// ingestion until the notification is received or ctx is cancelled.
func New(store *orderbook.Store, notify chan<- types.Symbol, cfg Config, log *logrus.Entry) *Plane {
	return &Plane{
		store:       store,
		notify:      notify,
		cfg:         cfg,
		log:         log,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		symbolChunk: make(map[types.Symbol]*chunkConn),
	}
}

// Start partitions symbols into chunks bounded by cfg.MaxSymbolsPerConn,
// pre-registers each symbol's slot in store, and spawns one worker goroutine
// per chunk plus the staleness watchdog. It returns immediately; ingestion
// runs until ctx is cancelled.
func (p *Plane) Start(ctx context.Context, symbols []types.Symbol) {
	groups := chunk(symbols, p.cfg.MaxSymbolsPerConn)

	p.mu.Lock()
	for _, g := range groups {
		cc := &chunkConn{symbols: g}
		p.chunks = append(p.chunks, cc)
		for _, s := range g {
			p.store.EnsureSymbol(s)
			p.symbolChunk[s] = cc
		}
	}
	p.mu.Unlock()

	for _, cc := range p.chunks {
		go p.runConnection(ctx, cc)
	}
	go p.watchdog(ctx, symbols)
}

// runConnection is the per-connection worker: dial, read until failure or
// close, sleep for backoff, reopen the same chunk's stream URL, doubling
// backoff up to cfg.MaxBackoff on every consecutive failure and resetting it
// on a successful connect.
func (p *Plane) runConnection(ctx context.Context, cc *chunkConn) {
	url := streamURL(p.cfg.BaseURL, cc.symbols, p.cfg.DepthLevels, p.cfg.CadenceMs)
	backoff := p.cfg.InitialBackoff
	allowed := make(map[types.Symbol]struct{}, len(cc.symbols))
	for _, s := range cc.symbols {
		allowed[s] = struct{}{}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := p.dialer.DialContext(ctx, url, nil)
		if err != nil {
			p.log.WithError(err).WithField("chunk_size", len(cc.symbols)).Warn("depth stream dial failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, p.cfg.MaxBackoff)
			continue
		}

		cc.set(conn)
		backoff = p.cfg.InitialBackoff
		p.log.WithField("chunk_size", len(cc.symbols)).Info("depth stream connected")

		readErr := p.readLoop(ctx, conn, allowed)
		conn.Close()
		cc.set(nil)

		if ctx.Err() != nil {
			return
		}
		p.log.WithError(readErr).Warn("depth stream dropped, reconnecting")
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, p.cfg.MaxBackoff)
	}
}

// readLoop reads messages from conn until ctx is cancelled or the read
// fails, parsing and republishing each incoming payload.
func (p *Plane) readLoop(ctx context.Context, conn *websocket.Conn, allowed map[types.Symbol]struct{}) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.handleMessage(ctx, allowed, raw)
	}
}

func (p *Plane) handleMessage(ctx context.Context, allowed map[types.Symbol]struct{}, raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.log.WithError(err).Debug("dropping malformed depth message")
		return
	}

	symbol := symbolFromStream(msg.Stream)
	if symbol == "" {
		return
	}
	if _, ok := allowed[symbol]; !ok {
		// A symbol is handled by exactly one connection; a message tagged
		// for a symbol outside this chunk is never accepted here.
		return
	}

	bids, err := parseLevels(msg.Data.Bids)
	if err != nil {
		p.log.WithError(err).WithField("symbol", symbol).Debug("dropping depth message with unparseable bids")
		return
	}
	asks, err := parseLevels(msg.Data.Asks)
	if err != nil {
		p.log.WithError(err).WithField("symbol", symbol).Debug("dropping depth message with unparseable asks")
		return
	}

	sortedBids, sortedAsks := orderbook.SortSides(bids, asks)
	p.store.Replace(symbol, sortedBids, sortedAsks, time.Now())

	select {
	case p.notify <- symbol:
	case <-ctx.Done():
	}
}

// watchdog periodically inspects every symbol's last-update time and
// force-closes the owning connection if it has gone stale, letting
// runConnection's reconnect loop take over.
func (p *Plane) watchdog(ctx context.Context, symbols []types.Symbol) {
	ticker := time.NewTicker(p.cfg.WatchdogInterval)
	defer ticker.Stop()

	triggered := make(map[*chunkConn]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for k := range triggered {
				delete(triggered, k)
			}
			p.mu.Lock()
			for _, sym := range symbols {
				if !p.store.IsStale(sym, p.cfg.StalenessWindow, now) {
					continue
				}
				cc, ok := p.symbolChunk[sym]
				if !ok {
					continue
				}
				if _, already := triggered[cc]; already {
					continue
				}
				triggered[cc] = struct{}{}
				p.log.WithField("symbol", sym).Warn("symbol stale past staleness window, forcing reconnect")
				cc.forceClose()
			}
			p.mu.Unlock()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
