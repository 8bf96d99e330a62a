// Package catalog builds the directed asset graph implied by an exchange's
// product list and enumerates every three-leg cycle ("triangle") it
// contains.
package catalog

import (
	"fmt"

	"github.com/chonky-labs/triarb/pkg/types"
)

// Product is one (symbol, base, quote, status) row from the exchange
// product catalog, or from the static pairsFile fallback.
type Product struct {
	Symbol types.Symbol
	Base   types.Asset
	Quote  types.Asset
	Status string
}

// Tradable reports whether a product is eligible to be wired into the
// directed graph.
func (p Product) Tradable() bool {
	return p.Status == "" || p.Status == "TRADING" || p.Status == "ACTIVE"
}

// Triangle is an ordered triple of DirectedEdges returning to the starting
// asset, with a dense index and a canonical direction-tagged key.
type Triangle struct {
	ID   int
	Legs [3]types.DirectedEdge
}

// Key is the canonical string key used by the cooldown and fail-window maps:
// the concatenation of each leg's direction-tagged symbol tag.
func (t Triangle) Key() string {
	return t.Legs[0].Key() + "|" + t.Legs[1].Key() + "|" + t.Legs[2].Key()
}

// Symbols returns the three symbols making up this triangle, in leg order.
func (t Triangle) Symbols() [3]types.Symbol {
	return [3]types.Symbol{t.Legs[0].Symbol, t.Legs[1].Symbol, t.Legs[2].Symbol}
}

// Catalog holds the directed asset graph and the enumerated triangles built
// from it, plus the reverse index from symbol to the triangle IDs that
// reference it. It is built once at startup and is read-only thereafter, so
// it needs no internal synchronization.
type Catalog struct {
	triangles   []Triangle
	bySymbol    map[types.Symbol][]int
	adjacency   map[types.Asset][]types.DirectedEdge
	tradable    map[types.Symbol]Product
}

// Build constructs the directed multigraph from the tradable products,
// enumerates every 3-cycle via the triple-nested BFS walk, and indexes the
// result by symbol.
func Build(products []Product) (*Catalog, error) {
	c := &Catalog{
		bySymbol:  make(map[types.Symbol][]int),
		adjacency: make(map[types.Asset][]types.DirectedEdge),
		tradable:  make(map[types.Symbol]Product),
	}

	for _, p := range products {
		if !p.Tradable() {
			continue
		}
		if p.Base == "" || p.Quote == "" {
			continue
		}
		c.tradable[p.Symbol] = p
		fwd := types.DirectedEdge{Base: p.Base, Quote: p.Quote, Symbol: p.Symbol, Direction: types.Forward}
		inv := types.DirectedEdge{Base: p.Base, Quote: p.Quote, Symbol: p.Symbol, Direction: types.Inverse}
		c.adjacency[fwd.From()] = append(c.adjacency[fwd.From()], fwd)
		c.adjacency[inv.From()] = append(c.adjacency[inv.From()], inv)
	}

	if len(c.tradable) == 0 {
		return nil, fmt.Errorf("catalog: no tradable products supplied")
	}

	for a := range c.adjacency {
		for _, e1 := range c.adjacency[a] {
			b := e1.To()
			for _, e2 := range c.adjacency[b] {
				if e2.From() != b {
					continue
				}
				cNode := e2.To()
				for _, e3 := range c.adjacency[cNode] {
					if e3.From() != cNode || e3.To() != a {
						continue
					}
					id := len(c.triangles)
					tri := Triangle{ID: id, Legs: [3]types.DirectedEdge{e1, e2, e3}}
					c.triangles = append(c.triangles, tri)
					for _, sym := range tri.Symbols() {
						c.bySymbol[sym] = append(c.bySymbol[sym], id)
					}
				}
			}
		}
	}

	return c, nil
}

// Triangles returns every enumerated triangle.
func (c *Catalog) Triangles() []Triangle {
	return c.triangles
}

// Triangle returns the triangle with the given dense ID.
func (c *Catalog) Triangle(id int) (Triangle, bool) {
	if id < 0 || id >= len(c.triangles) {
		return Triangle{}, false
	}
	return c.triangles[id], true
}

// TrianglesForSymbol returns the IDs of every triangle that references
// symbol, via the reverse index built at Build time.
func (c *Catalog) TrianglesForSymbol(symbol types.Symbol) []int {
	return c.bySymbol[symbol]
}

// Symbols returns every tradable symbol in the catalog — the set the
// market-data plane needs to subscribe to.
func (c *Catalog) Symbols() []types.Symbol {
	out := make([]types.Symbol, 0, len(c.tradable))
	for sym := range c.tradable {
		out = append(out, sym)
	}
	return out
}
