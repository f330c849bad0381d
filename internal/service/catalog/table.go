package catalog

import (
	"OtcPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

type entry struct {
	name       string
	brokerID   string
	activeID   int
	category   string
	base       string
	low, high  string
	volatility models.VolatilityClass
}

// builtin is the static OTC menu. Bands are deliberately wide: they only
// reject obviously wrong quotes.
var builtin = []entry{
	{"UK BRENT", "BRENT_otc", 0, "commodity", "75.0", "40", "150", models.VolatilityMedium},
	{"MICROSOFT", "MSFT_otc", 0, "equity", "420.0", "200", "800", models.VolatilityMedium},
	{"ADA", "ADA_otc", 0, "crypto", "0.35", "0.05", "3", models.VolatilityLarge},
	{"ETH", "ETH_otc", 0, "crypto", "2650.0", "500", "10000", models.VolatilityLarge},
	{"USDINR", "USDINR_otc", 0, "forex", "83.0", "60", "110", models.VolatilitySmall},
	{"USDEGP", "USDEGP_otc", 0, "forex", "48.5", "20", "90", models.VolatilitySmall},

	{"EURUSD-OTC", "EURUSD_otc", 76, "forex", "1.08", "0.8", "1.5", models.VolatilitySmall},
	{"GBPUSD-OTC", "GBPUSD_otc", 77, "forex", "1.27", "1.0", "1.8", models.VolatilitySmall},
	{"USDJPY-OTC", "USDJPY_otc", 78, "forex", "150.0", "100", "200", models.VolatilitySmall},
	{"AUDUSD-OTC", "AUDUSD_otc", 79, "forex", "0.66", "0.5", "1.0", models.VolatilitySmall},
	{"USDCAD-OTC", "USDCAD_otc", 80, "forex", "1.36", "1.1", "1.6", models.VolatilitySmall},
	{"EURJPY-OTC", "EURJPY_otc", 81, "forex", "162.0", "120", "200", models.VolatilitySmall},
	{"GBPJPY-OTC", "GBPJPY_otc", 82, "forex", "190.0", "140", "240", models.VolatilitySmall},
	{"EURGBP-OTC", "EURGBP_otc", 83, "forex", "0.85", "0.7", "1.0", models.VolatilitySmall},
	{"AUDJPY-OTC", "AUDJPY_otc", 84, "forex", "98.0", "80", "120", models.VolatilitySmall},
	{"NZDUSD-OTC", "NZDUSD_otc", 85, "forex", "0.61", "0.45", "0.8", models.VolatilitySmall},
}

func (e entry) asset() models.Asset {
	return models.Asset{
		Name:       e.name,
		BrokerID:   e.brokerID,
		ActiveID:   e.activeID,
		Category:   e.category,
		BasePrice:  decimal.RequireFromString(e.base),
		BandLow:    decimal.RequireFromString(e.low),
		BandHigh:   decimal.RequireFromString(e.high),
		Volatility: e.volatility,
	}
}
