package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeState is the lifecycle of a ScheduledTrade.
type TradeState string

const (
	StatePending   TradeState = "pending"
	StateFiring    TradeState = "firing"
	StateDone      TradeState = "done"
	StateFailed    TradeState = "failed"
	StateCancelled TradeState = "cancelled"
	StateOrphaned  TradeState = "orphaned"
)

// Terminal reports whether no further transition is possible.
func (s TradeState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled, StateOrphaned:
		return true
	}
	return false
}

// ScheduledTrade is an order intent anchored to a minute boundary.
type ScheduledTrade struct {
	ID         string          `json:"id"`
	Asset      string          `json:"asset"`
	BrokerID   string          `json:"broker_id"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	Duration   time.Duration   `json:"duration"`
	Anchor     time.Time       `json:"anchor"`
	State      TradeState      `json:"state"`
	Confidence float64         `json:"confidence"`
	Prediction Prediction      `json:"prediction"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Outcome of a transport place call.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// OrderRequest is what the executor hands to a transport.
type OrderRequest struct {
	Asset     Asset
	Direction Direction
	Amount    decimal.Decimal
	Duration  time.Duration
	Anchor    time.Time
}

// PlaceResult is Accepted(order id), Rejected(reason) or Unknown(err).
type PlaceResult struct {
	Outcome Outcome
	OrderID string
	Reason  string
	Err     error
}

func Accepted(orderID string) PlaceResult {
	return PlaceResult{Outcome: OutcomeAccepted, OrderID: orderID}
}

func Rejected(reason string) PlaceResult {
	return PlaceResult{Outcome: OutcomeRejected, Reason: reason}
}

func Unknown(err error) PlaceResult {
	return PlaceResult{Outcome: OutcomeUnknown, Err: err}
}

// WinState is tri-state: nil pointer fields are used for unknown in JSON.
type WinState int

const (
	WinUnknown WinState = iota
	WinYes
	WinNo
	WinTie
)

// TradeResult is emitted on the executor's merged stream.
type TradeResult struct {
	TradeID     string           `json:"trade_id"`
	Asset       string           `json:"asset"`
	Direction   Direction        `json:"direction"`
	Anchor      time.Time        `json:"anchor"`
	State       TradeState       `json:"state"`
	Accepted    bool             `json:"accepted"`
	OrderID     string           `json:"order_id,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Win         WinState         `json:"-"`
	ProfitDelta *decimal.Decimal `json:"profit_delta,omitempty"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// JournalEntry is one append-only journal line.
type JournalEntry struct {
	TS        time.Time `json:"ts"`
	Asset     string    `json:"asset"`
	Direction Direction `json:"direction"`
	Anchor    time.Time `json:"anchor"`
	State     string    `json:"state"`
	OrderID   string    `json:"order_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Win       *bool     `json:"win,omitempty"`
}

// NewJournalEntry flattens a TradeResult into the journal format.
func NewJournalEntry(r TradeResult) JournalEntry {
	e := JournalEntry{
		TS:        r.FinishedAt,
		Asset:     r.Asset,
		Direction: r.Direction,
		Anchor:    r.Anchor,
		State:     string(r.State),
		OrderID:   r.OrderID,
		Reason:    r.Reason,
	}
	switch r.Win {
	case WinYes:
		w := true
		e.Win = &w
	case WinNo:
		w := false
		e.Win = &w
	}
	return e
}

// OfferDecision is the scheduler's verdict on a prediction.
type OfferDecision string

const (
	OfferScheduled          OfferDecision = "scheduled"
	OfferReplaced           OfferDecision = "replaced"
	OfferDiscardedBusy      OfferDecision = "discarded_busy"
	OfferDiscardedCapacity  OfferDecision = "discarded_capacity"
	OfferDiscardedThreshold OfferDecision = "discarded_threshold"
	OfferDiscardedStale     OfferDecision = "discarded_stale"
	OfferDiscardedStopped   OfferDecision = "discarded_stopped"
	OfferDiscardedUnknown   OfferDecision = "discarded_unknown_asset"
)

// Accepted reports whether the offer produced or updated a trade.
func (d OfferDecision) Accepted() bool {
	return d == OfferScheduled || d == OfferReplaced
}
