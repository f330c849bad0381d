package catalog

import (
	"fmt"
	"sort"
	"strings"

	"OtcPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Catalog maps user-visible asset names to broker data. Immutable after New.
type Catalog struct {
	assets map[string]models.Asset
	order  []string
}

// Option customises catalog construction.
type Option func(map[string]models.Asset)

// WithAsset adds or overrides an entry of the builtin table.
func WithAsset(a models.Asset) Option {
	return func(m map[string]models.Asset) { m[a.Name] = a }
}

// WithActiveID assigns a numeric direct-wire id to a known asset.
func WithActiveID(name string, id int) Option {
	return func(m map[string]models.Asset) {
		if a, ok := m[name]; ok {
			a.ActiveID = id
			m[name] = a
		}
	}
}

// New builds a catalog restricted to names. An unknown name is an error
// wrapping models.ErrUnknownAsset.
func New(names []string, opts ...Option) (*Catalog, error) {
	all := make(map[string]models.Asset, len(builtin))
	for _, e := range builtin {
		all[e.name] = e.asset()
	}
	for _, opt := range opts {
		opt(all)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("catalog: no assets configured: %w", models.ErrConfig)
	}
	c := &Catalog{assets: make(map[string]models.Asset, len(names))}
	for _, n := range names {
		a, ok := all[n]
		if !ok {
			return nil, fmt.Errorf("catalog: %q (known: %s): %w", n, strings.Join(Known(), ", "), models.ErrUnknownAsset)
		}
		if _, dup := c.assets[n]; dup {
			continue
		}
		c.assets[n] = a
		c.order = append(c.order, n)
	}
	return c, nil
}

// Known lists every builtin asset name, sorted.
func Known() []string {
	out := make([]string, 0, len(builtin))
	for _, e := range builtin {
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the asset or ErrUnknownAsset.
func (c *Catalog) Lookup(name string) (models.Asset, error) {
	a, ok := c.assets[name]
	if !ok {
		return models.Asset{}, fmt.Errorf("%q: %w", name, models.ErrUnknownAsset)
	}
	return a, nil
}

// IDs returns the broker id for name.
func (c *Catalog) IDs(name string) (string, error) {
	a, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	return a.BrokerID, nil
}

// SanityBand returns the closed price interval for name.
func (c *Catalog) SanityBand(name string) (decimal.Decimal, decimal.Decimal, error) {
	a, err := c.Lookup(name)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return a.BandLow, a.BandHigh, nil
}

func (c *Catalog) VolatilityClass(name string) (models.VolatilityClass, error) {
	a, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	return a.Volatility, nil
}

// Names returns configured names in configuration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Assets returns configured assets in configuration order.
func (c *Catalog) Assets() []models.Asset {
	out := make([]models.Asset, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.assets[n])
	}
	return out
}

// ByActiveID resolves a numeric wire id back to a configured asset.
func (c *Catalog) ByActiveID(id int) (models.Asset, bool) {
	for _, a := range c.assets {
		if a.ActiveID == id && id != 0 {
			return a, true
		}
	}
	return models.Asset{}, false
}
