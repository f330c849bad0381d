package models

import "time"

// Prediction is emitted by the pattern predictor when a table entry matches
// and the boosted confidence clears the threshold.
type Prediction struct {
	Asset            string    `json:"asset"`
	Direction        Direction `json:"direction"`
	Confidence       float64   `json:"confidence"`
	BaseConfidence   float64   `json:"base_confidence"`
	TrendBoost       float64   `json:"trend_boost"`
	CorrelationBoost float64   `json:"correlation_boost"`
	Pattern          string    `json:"pattern"`
	AnalysisType     int       `json:"analysis_type"`
	DetectedAt       time.Time `json:"detected_at"`
}
