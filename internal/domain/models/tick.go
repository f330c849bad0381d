package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a candle. There is no neutral value.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// Letter returns the single-letter form used in pattern keys.
func (d Direction) Letter() byte {
	if d == Up {
		return 'U'
	}
	return 'D'
}

// ParseDirection accepts UP/DOWN and the call/put vocabulary.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "UP", "up", "U", "call", "CALL":
		return Up, nil
	case "DOWN", "down", "D", "put", "PUT":
		return Down, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// DirectionOf classifies price against last; equal prices count as DOWN.
func DirectionOf(price, last decimal.Decimal) Direction {
	if price.GreaterThan(last) {
		return Up
	}
	return Down
}

// TickSource tells live broker quotes apart from fallback ticks.
type TickSource string

const (
	SourceLive      TickSource = "live"
	SourceSynthetic TickSource = "synthetic"
)

// Tick is one price observation for an asset.
type Tick struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    TickSource      `json:"source"`
	Direction Direction       `json:"direction"`
}
