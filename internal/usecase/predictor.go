package usecase

import (
	"sort"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
)

const (
	MaxConfidence          = 0.98
	correlationWeight      = 0.3
	trendWindow            = 10
	DefaultMinConfidence   = 0.78
	DefaultFallbackMinConf = 0.70
)

// Predictor matches recent candle patterns against the constant tables.
// It holds no randomness: equal store contents give equal output.
type Predictor struct {
	store       *CandleStore
	clock       drepo.Clock
	minConf     float64
	fallbackMin float64
}

type PredictorOption func(*Predictor)

// WithThresholds overrides the multi-candle and 3-candle minimums.
func WithThresholds(minConf, fallbackMin float64) PredictorOption {
	return func(p *Predictor) {
		if minConf > 0 {
			p.minConf = minConf
		}
		if fallbackMin > 0 {
			p.fallbackMin = fallbackMin
		}
	}
}

func NewPredictor(store *CandleStore, clock drepo.Clock, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		store:       store,
		clock:       clock,
		minConf:     DefaultMinConfidence,
		fallbackMin: DefaultFallbackMinConf,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict returns nil when nothing matches or the boosted confidence is
// below the threshold for the matched table.
func (p *Predictor) Predict(asset string) *models.Prediction {
	var (
		best    patternEntry
		bestK   int
		bestKey string
	)
	for _, k := range patternLengths {
		recent, ok := p.store.Recent(asset, k)
		if !ok {
			continue
		}
		key := PatternKey(recent)
		e, ok := patternTables[k][key]
		if !ok {
			continue
		}
		// strictly greater: on a tie the longer pattern, seen first, stays
		if bestK == 0 || e.confidence > best.confidence {
			best, bestK, bestKey = e, k, key
		}
	}
	if bestK == 0 {
		return nil
	}

	trend := p.trendBoost(asset)
	corr := p.correlationBoost(asset, best.direction)
	final := clamp(best.confidence+trend+correlationWeight*corr, 0, MaxConfidence)

	threshold := p.minConf
	if bestK == 3 {
		threshold = p.fallbackMin
	}
	if final < threshold {
		return nil
	}
	return &models.Prediction{
		Asset:            asset,
		Direction:        best.direction,
		Confidence:       final,
		BaseConfidence:   best.confidence,
		TrendBoost:       trend,
		CorrelationBoost: corr,
		Pattern:          bestKey,
		AnalysisType:     bestK,
		DetectedAt:       p.clock.Now(),
	}
}

func (p *Predictor) trendBoost(asset string) float64 {
	recent, ok := p.store.Recent(asset, trendWindow)
	if !ok {
		return 0
	}
	ups := 0
	for _, d := range recent {
		if d == models.Up {
			ups++
		}
	}
	same := ups
	if downs := len(recent) - ups; downs > same {
		same = downs
	}
	switch {
	case same >= 8:
		return 0.10
	case same >= 7:
		return 0.08
	case same >= 6:
		return 0.05
	}
	return 0
}

// correlationBoost averages |rho| over other assets that agree with dir.
// A negatively correlated asset agrees when it last moved the other way.
func (p *Predictor) correlationBoost(asset string, dir models.Direction) float64 {
	others := p.store.Assets()
	sort.Strings(others)

	var sum float64
	var n int
	for _, other := range others {
		if other == asset {
			continue
		}
		rho, ok := correlation(asset, other)
		if !ok {
			continue
		}
		last, ok := p.store.Last(other)
		if !ok {
			continue
		}
		agrees := (rho > 0 && last == dir) || (rho < 0 && last == dir.Opposite())
		if agrees {
			if rho < 0 {
				rho = -rho
			}
			sum += rho
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
