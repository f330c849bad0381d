package usecase

import (
	"context"
	"fmt"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	domsvc "OtcPull/internal/domain/service"
	"OtcPull/pkg/logger"
)

// SignalProcessor folds a tick into the candle store, asks the predictor,
// and offers any prediction to the scheduler.
type SignalProcessor struct {
	store     *CandleStore
	predictor *Predictor
	sink      domsvc.SignalSink
	log       *logger.Logger
	metrics   drepo.Metrics
}

func NewSignalProcessor(store *CandleStore, predictor *Predictor, sink domsvc.SignalSink, log *logger.Logger, metrics drepo.Metrics) *SignalProcessor {
	return &SignalProcessor{store: store, predictor: predictor, sink: sink, log: log, metrics: metrics}
}

// Process handles one accepted tick.
func (p *SignalProcessor) Process(_ context.Context, t models.Tick) error {
	if err := p.store.Observe(t.Asset, t.Direction); err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process tick: %w", err)
	}
	pred := p.predictor.Predict(t.Asset)
	if pred == nil {
		return nil
	}
	p.metrics.RecordPrediction(pred.Asset, pred.AnalysisType)
	p.log.Info("prediction",
		logger.String("asset", pred.Asset),
		logger.String("direction", string(pred.Direction)),
		logger.Float64("confidence", pred.Confidence),
		logger.String("pattern", pred.Pattern),
		logger.Int("analysis_type", pred.AnalysisType),
		logger.String("tick_source", string(t.Source)),
	)
	p.sink.Offer(*pred)
	return nil
}
