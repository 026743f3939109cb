// Package types defines the core data structures shared by the breakout
// engine packages.
//
//   - Bar = one OHLCV bar of the price series
//   - ConsolidationBox = a qualified trading range awaiting a breakout
//   - BreakoutSignal = a confirmed boundary break, consumed by the planner
//   - TradeIntent = a fully specified order request
//   - Position = the lifecycle entity tracked from open to close
package types

import (
	"fmt"
	"time"
)

// Bar represents a single OHLCV bar. Bars are immutable once appended to a
// series and are ordered strictly by timestamp.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Direction represents trade direction.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// ConsolidationBox describes a qualified consolidation range. A box is valid
// from the moment the detector confirms it until a bar closes outside the
// band; the first boundary touch ends the episode whether or not it confirms
// as a breakout.
type ConsolidationBox struct {
	HighLevel  float64
	LowLevel   float64
	StartIndex int
	EndIndex   int
	RangeWidth float64
}

// Contains reports whether a price lies inside the box boundaries.
func (b ConsolidationBox) Contains(price float64) bool {
	return price >= b.LowLevel && price <= b.HighLevel
}

// BreakoutSignal is produced once per qualifying bar and consumed immediately
// by the planner, or discarded if confirmation fails.
type BreakoutSignal struct {
	Direction    Direction
	TriggerPrice float64
	TriggerIndex int
	Strength     float64 // excess beyond the boundary, in price units
	VolumeRatio  float64 // bar volume / recent average, 0 when unknown
	TrendAligned bool
}

// TradeIntent is an order request derived from a confirmed breakout.
// For Buy intents StopLoss < EntryPrice < TakeProfit; for Sell the reverse.
type TradeIntent struct {
	Direction  Direction
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Size       float64
	RiskAmount float64
}

// RejectReason is the normal-outcome result of a planner declining to
// produce an intent. The empty value means the intent was accepted.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectGateClosed  RejectReason = "gate_closed"
	RejectSizeZero    RejectReason = "size_zero"
	RejectRiskCap     RejectReason = "risk_cap"
	RejectInvalidStop RejectReason = "invalid_stop"
)

// PositionState tracks a position through its lifecycle. All Closed* states
// are terminal.
type PositionState string

const (
	Open         PositionState = "open"
	ClosedWin    PositionState = "closed_win"
	ClosedLoss   PositionState = "closed_loss"
	ClosedManual PositionState = "closed_manual"
)

// Terminal reports whether the state is one of the closed states.
func (s PositionState) Terminal() bool {
	return s == ClosedWin || s == ClosedLoss || s == ClosedManual
}

// Position is the lifecycle entity created when a TradeIntent is accepted.
// It is owned exclusively by the lifecycle tracker until closed, after which
// it is immutable.
type Position struct {
	ID         string        `json:"id"`
	Direction  Direction     `json:"direction"`
	EntryPrice float64       `json:"entry_price"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Size       float64       `json:"size"`
	OpenedAt   time.Time     `json:"opened_at"`
	State      PositionState `json:"state"`
	ClosedAt   time.Time     `json:"closed_at"`
	ExitPrice  float64       `json:"exit_price"`
	ExitReason string        `json:"exit_reason,omitempty"`
}

// Points returns the signed price move captured by a closed position.
func (p Position) Points() float64 {
	if p.Direction == Buy {
		return p.ExitPrice - p.EntryPrice
	}
	return p.EntryPrice - p.ExitPrice
}

// Profit returns the currency P&L for a closed position given the
// instrument's point value.
func (p Position) Profit(pointValue float64) float64 {
	return p.Points() * p.Size * pointValue
}

// String returns a human-readable representation of the position.
func (p Position) String() string {
	return fmt.Sprintf(
		"%s %s entry=%.2f sl=%.2f tp=%.2f size=%.2f state=%s",
		p.ID, p.Direction, p.EntryPrice, p.StopLoss, p.TakeProfit, p.Size, p.State,
	)
}

// Account holds the equity and risk parameters the planner sizes against.
type Account struct {
	Equity       float64
	RiskFraction float64
	MinLotStep   float64
	PointValue   float64
}
