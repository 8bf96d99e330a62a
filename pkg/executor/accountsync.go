package executor

import (
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

	"github.com/chonky-labs/triarb/pkg/types"
	"github.com/chonky-labs/triarb/pkg/wallet"
)

// AccountSync periodically refreshes the Wallet's totals from the real
// venue's account endpoint, live mode only — the local shadow wallet and
// the venue's ledger can diverge after a partial-reversal failure, and this
// worker is what eventually reconciles them.
type AccountSync struct {
	cfg      RealConfig
	wallet   *wallet.Wallet
	client   *http.Client
	log      *logrus.Entry
	interval time.Duration
}

// NewAccountSync builds an AccountSync polling the venue every interval.
func NewAccountSync(cfg RealConfig, w *wallet.Wallet, interval time.Duration, log *logrus.Entry) *AccountSync {
	return &AccountSync{
		cfg:      cfg,
		wallet:   w,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (a *AccountSync) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.syncOnce(ctx); err != nil {
				a.log.WithError(err).Warn("account sync failed")
			}
		}
	}
}

type accountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []accountBalance `json:"balances"`
}

func (a *AccountSync) syncOnce(ctx context.Context) error {
	params := url.Values{}
	params.Set("recvWindow", strconv.Itoa(a.cfg.RecvWindow))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	params.Set("signature", a.sign(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/v3/account?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build account request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("account request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read account response: %w", err)
	}

	var parsed accountResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("parse account response: %w", err)
	}

	for _, b := range parsed.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		a.wallet.SetBalance(types.Asset(b.Asset), total)
	}

	return nil
}

func (a *AccountSync) sign(query string) string {
	h := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}
