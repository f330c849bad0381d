package usecase

import "OtcPull/internal/domain/models"

type patternEntry struct {
	confidence float64
	direction  models.Direction
}

// patternTables is keyed by pattern length. Keys are oldest-first U/D strings.
var patternTables = map[int]map[string]patternEntry{
	7: {
		"DDDUUDD": {0.88, models.Up},
		"UUUDDUU": {0.86, models.Down},
		"DUDDUDU": {0.82, models.Up},
		"UDUUDUD": {0.84, models.Down},
		"DDDDDDU": {0.95, models.Up},
		"UUUUUUD": {0.93, models.Down},
	},
	5: {
		"UDUDU": {0.75, models.Down},
		"DUDUD": {0.77, models.Up},
	},
	4: {
		"UUUU": {0.80, models.Down},
		"DDDD": {0.82, models.Up},
		"UUDD": {0.75, models.Up},
		"DDUU": {0.77, models.Down},
	},
	3: {
		"DDD": {0.85, models.Up},
		"UUU": {0.83, models.Down},
		"DUD": {0.75, models.Up},
		"UDU": {0.77, models.Down},
		"DDU": {0.78, models.Down},
		"UUD": {0.82, models.Up},
	},
}

// patternLengths is the lookup order, strongest first.
var patternLengths = []int{7, 5, 4, 3}

// correlations holds symmetric pairwise coefficients, |rho| <= 0.8.
var correlations = map[[2]string]float64{
	{"UK BRENT", "USDINR"}:    -0.45,
	{"UK BRENT", "USDEGP"}:    -0.38,
	{"UK BRENT", "ETH"}:       0.25,
	{"UK BRENT", "MICROSOFT"}: 0.15,
	{"UK BRENT", "ADA"}:       0.12,
	{"MICROSOFT", "ETH"}:      0.42,
	{"MICROSOFT", "ADA"}:      0.35,
	{"ADA", "ETH"}:            0.78,
	{"ADA", "USDINR"}:         -0.22,
	{"ADA", "USDEGP"}:         -0.15,
	{"ETH", "USDINR"}:         -0.18,
	{"USDINR", "USDEGP"}:      0.65,
}

// correlation returns rho(a, b) and whether the pair is known.
func correlation(a, b string) (float64, bool) {
	if v, ok := correlations[[2]string{a, b}]; ok {
		return v, true
	}
	v, ok := correlations[[2]string{b, a}]
	return v, ok
}

// defaultSeeds are realistic ten-sample histories so predictions can fire
// before a natural warm-up.
var defaultSeeds = map[string]string{
	"UK BRENT":  "DUDDUDUDUD",
	"MICROSOFT": "UUDUDUUDUD",
	"ADA":       "DUUDDUDUDU",
	"ETH":       "UDUUDUDDUU",
}

const alternatingSeed = "UDUDUDUDUD"

// DefaultSeed returns the builtin ten-sample seed for asset.
func DefaultSeed(asset string) []models.Direction {
	s, ok := defaultSeeds[asset]
	if !ok {
		s = alternatingSeed
	}
	out := make([]models.Direction, len(s))
	for i := range s {
		if s[i] == 'U' {
			out[i] = models.Up
		} else {
			out[i] = models.Down
		}
	}
	return out
}
