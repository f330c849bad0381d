package models

import "time"

// Requests and responses of the operator HTTP endpoints.

type ManualSignalRequest struct {
	Asset      string  `json:"asset" validate:"required"`
	Direction  string  `json:"direction" validate:"required,oneof=UP DOWN up down call put"`
	Confidence float64 `json:"confidence" default:"0.9" validate:"gt=0,lte=0.98"`
}

type TradesRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type CancelRequest struct {
	Asset string `param:"asset" validate:"required"`
}

type SignalResponse struct {
	Decision OfferDecision   `json:"decision"`
	Trade    *ScheduledTrade `json:"trade,omitempty"`
}

type TradesResponse struct {
	InFlight []ScheduledTrade `json:"in_flight"`
	Recent   []TradeResult    `json:"recent"`
}

// RuntimeStatus is the operator's view of a running pipeline.
type RuntimeStatus struct {
	Transport  string             `json:"transport"`
	Ready      bool               `json:"ready"`
	State      string             `json:"state"`
	Assets     []string           `json:"assets"`
	InFlight   int                `json:"in_flight"`
	Results    map[TradeState]int `json:"results"`
	StartedAt  time.Time          `json:"started_at"`
	UptimeSecs int64              `json:"uptime_seconds"`
}
