package service

import "OtcPull/internal/domain/models"

// SignalSink accepts predictions for scheduling. Offer never blocks on I/O.
type SignalSink interface {
	Offer(p models.Prediction) (models.OfferDecision, *models.ScheduledTrade)
}

// TradeBoard is the read/cancel view of in-flight trades.
type TradeBoard interface {
	InFlight() []models.ScheduledTrade
	Cancel(asset string) bool
}
