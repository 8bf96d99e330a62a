package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/orderbook"
	"github.com/chonky-labs/triarb/pkg/types"
)

// RealConfig holds the venue credentials and connection details a
// RealExecutor needs to sign and issue live orders.
type RealConfig struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	RecvWindow int
}

// RealExecutor signs and issues market orders over HTTP against a live
// venue, using a Binance-style signed-query-string wire format.
// GetOrderBookSnapshot deliberately does not call the venue's REST depth
// endpoint — the streaming plane (pkg/marketdata) is the sole authority on
// book state, live or dry.
type RealExecutor struct {
	cfg     RealConfig
	store   *orderbook.Store
	limiter *RateLimiter
	client  *http.Client
	log     *logrus.Entry
}

// NewRealExecutor builds a RealExecutor reading book snapshots from store
// and throttled by limiter.
func NewRealExecutor(cfg RealConfig, store *orderbook.Store, limiter *RateLimiter, log *logrus.Entry) *RealExecutor {
	return &RealExecutor{
		cfg:     cfg,
		store:   store,
		limiter: limiter,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type orderResponse struct {
	Code                int    `json:"code"`
	Msg                 string `json:"msg"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// PlaceMarketOrder throttles as an order call, signs the canonical query
// string with HMAC-SHA256, and POSTs a MARKET order to /api/v3/order.
func (e *RealExecutor) PlaceMarketOrder(ctx context.Context, symbol types.Symbol, side types.OrderSide, quantityBase decimal.Decimal) (types.OrderResult, error) {
	if err := e.limiter.AdmitOrder(ctx); err != nil {
		return types.OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", string(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", quantityBase.String())
	params.Set("recvWindow", strconv.Itoa(e.cfg.RecvWindow))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := params.Encode()
	params.Set("signature", e.sign(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/v3/order", bytes.NewBufferString(params.Encode()))
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("build order request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return types.OrderResult{Success: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.OrderResult{Success: false, Message: "read order response: " + err.Error()}, nil
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.OrderResult{Success: false, Message: "parse order response: " + string(body)}, nil
	}
	if parsed.Code != 0 {
		return types.OrderResult{Success: false, Message: fmt.Sprintf("venue error code=%d msg=%s", parsed.Code, parsed.Msg)}, nil
	}

	executedQty, err := decimal.NewFromString(parsed.ExecutedQty)
	if err != nil {
		executedQty = decimal.Zero
	}
	cummQuote, err := decimal.NewFromString(parsed.CummulativeQuoteQty)
	if err != nil {
		cummQuote = decimal.Zero
	}

	result := types.OrderResult{Success: true, FilledQuantity: executedQty, CostOrProceeds: cummQuote, Message: "order ok"}
	if executedQty.IsPositive() {
		result.AvgPrice = cummQuote.Div(executedQty)
	}

	e.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"executed": executedQty.String(),
		"quote":    cummQuote.String(),
	}).Info("live order placed")

	return result, nil
}

// GetOrderBookSnapshot reads the shared order-book store, throttled as a
// non-order request.
func (e *RealExecutor) GetOrderBookSnapshot(ctx context.Context, symbol types.Symbol) (orderbook.Book, error) {
	if err := e.limiter.AdmitRequest(ctx); err != nil {
		return orderbook.Book{}, err
	}
	return e.store.Get(symbol), nil
}

func (e *RealExecutor) sign(query string) string {
	h := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}
