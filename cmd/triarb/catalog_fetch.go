package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/catalog"
	"github.com/chonky-labs/triarb/pkg/types"
)

// exchangeInfoResponse is the subset of the venue's public exchangeInfo
// payload the catalog builder needs.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
	} `json:"symbols"`
}

// fetchProductCatalog fetches the live product list from baseURL's public
// exchangeInfo endpoint. Callers fall back to the static pairsFile when this
// fails, per SPEC_FULL.md's pairsFile fallback.
func fetchProductCatalog(baseURL string) ([]catalog.Product, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange info returned status %d", resp.StatusCode)
	}

	var parsed exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	products := make([]catalog.Product, 0, len(parsed.Symbols))
	for _, s := range parsed.Symbols {
		products = append(products, catalog.Product{
			Symbol: types.Symbol(s.Symbol),
			Base:   types.Asset(s.BaseAsset),
			Quote:  types.Asset(s.QuoteAsset),
			Status: s.Status,
		})
	}
	return products, nil
}

// loadCatalogProducts tries the live exchange-info fetch first, falling
// back to pairsFile (if set), and finally to whatever error either path
// produced.
func loadCatalogProducts(baseURL, pairsFile string, log *logrus.Entry) ([]catalog.Product, error) {
	products, err := fetchProductCatalog(baseURL)
	if err == nil {
		log.WithField("count", len(products)).Info("fetched live product catalog")
		return products, nil
	}
	if pairsFile == "" {
		return nil, fmt.Errorf("fetch live product catalog and no pairsFile configured: %w", err)
	}
	log.WithError(err).Warn("live product catalog fetch failed, falling back to pairsFile")

	products, err = catalog.LoadPairsFile(pairsFile)
	if err != nil {
		return nil, fmt.Errorf("load pairs file: %w", err)
	}
	log.WithField("pairsFile", pairsFile).Info("loaded static product catalog")
	return products, nil
}
