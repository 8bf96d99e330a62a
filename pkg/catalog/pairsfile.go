package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chonky-labs/triarb/pkg/types"
)

// pairsFile is the on-disk shape of the static catalog fallback named by the
// `pairsFile` config key. It mirrors the (symbol, base, quote, status) shape
// the live product-catalog fetch would have produced, so LoadPairsFile's
// output feeds Build exactly like a REST response would.
type pairsFile struct {
	Pairs []struct {
		Symbol string `yaml:"symbol"`
		Base   string `yaml:"base"`
		Quote  string `yaml:"quote"`
		Status string `yaml:"status"`
	} `yaml:"pairs"`
}

// LoadPairsFile parses a static YAML symbol list, used when the exchange
// product-catalog fetch is unavailable.
func LoadPairsFile(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}

	var pf pairsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}

	products := make([]Product, 0, len(pf.Pairs))
	for _, p := range pf.Pairs {
		products = append(products, Product{
			Symbol: types.Symbol(p.Symbol),
			Base:   types.Asset(p.Base),
			Quote:  types.Asset(p.Quote),
			Status: p.Status,
		})
	}
	return products, nil
}
