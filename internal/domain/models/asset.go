package models

import "github.com/shopspring/decimal"

// VolatilityClass buckets assets by how far a synthetic tick may drift from base.
type VolatilityClass string

const (
	VolatilitySmall  VolatilityClass = "small"
	VolatilityMedium VolatilityClass = "medium"
	VolatilityLarge  VolatilityClass = "large"
)

// JitterFraction is the half-width of the uniform synthetic jitter for the class.
func (v VolatilityClass) JitterFraction() decimal.Decimal {
	switch v {
	case VolatilitySmall:
		return decimal.RequireFromString("0.005")
	case VolatilityLarge:
		return decimal.RequireFromString("0.05")
	default:
		return decimal.RequireFromString("0.015")
	}
}

// Asset is an immutable catalog entry.
type Asset struct {
	Name       string          `json:"name"`
	BrokerID   string          `json:"broker_id"`
	ActiveID   int             `json:"active_id,omitempty"` // numeric id on the direct wire, 0 if none
	Category   string          `json:"category"`
	BasePrice  decimal.Decimal `json:"base_price"`
	BandLow    decimal.Decimal `json:"band_low"`
	BandHigh   decimal.Decimal `json:"band_high"`
	Volatility VolatilityClass `json:"volatility"`
}

// InBand reports whether p lies in the closed sanity interval.
func (a Asset) InBand(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(a.BandLow) && p.LessThanOrEqual(a.BandHigh)
}
