// Package engine implements the bar-by-bar strategy engine that drives the
// consolidation/breakout pipeline.
//
// Each Step processes exactly one bar: append to the series, advance any open
// position, then look for a new box or evaluate an active one. The engine is
// single-threaded and owns its mutable state (current box, open position)
// exclusively; external collaborators interact only through the Gate and
// Executor interfaces and the ordered event sequence each step returns.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tradeforge/boxbot/pkg/breakout"
	"github.com/tradeforge/boxbot/pkg/consolidation"
	"github.com/tradeforge/boxbot/pkg/indicators"
	"github.com/tradeforge/boxbot/pkg/lifecycle"
	"github.com/tradeforge/boxbot/pkg/planner"
	"github.com/tradeforge/boxbot/pkg/series"
	"github.com/tradeforge/boxbot/pkg/types"
)

// Gate is the external session policy queried before opening a new trade.
// Implementations own daily-limit and consecutive-loss semantics; the engine
// only reads the boolean answer.
type Gate interface {
	CanOpenNewTrade(at time.Time) bool
}

// Executor submits accepted intents to the broker boundary. The returned
// fill price is authoritative for the position entry. A submission error
// never creates a position.
type Executor interface {
	Submit(intent types.TradeIntent) (fillPrice float64, err error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(at time.Time) bool

// CanOpenNewTrade implements Gate.
func (f GateFunc) CanOpenNewTrade(at time.Time) bool { return f(at) }

// AcceptAll is an executor that fills every intent at its requested entry
// price. Used by backtests and as the default when no broker is wired.
type AcceptAll struct{}

// Submit implements Executor.
func (AcceptAll) Submit(intent types.TradeIntent) (float64, error) {
	return intent.EntryPrice, nil
}

// Params bundles the engine's collaborators and strategy parameters.
type Params struct {
	Detector  consolidation.Detector
	Evaluator breakout.Evaluator
	Planner   planner.Planner
	Account   types.Account

	// ATRPeriod is the lookback for the volatility stop policy.
	ATRPeriod int

	// TrailingStopPct is forwarded to the lifecycle tracker. Zero disables.
	TrailingStopPct float64

	// BarInterval is the expected feed cadence. A gap of more than one
	// interval invalidates any active box. Zero disables gap handling.
	BarInterval time.Duration

	Gate     Gate
	Executor Executor
	Logger   *slog.Logger
}

// Engine orchestrates detection, confirmation, planning and lifecycle
// tracking over an append-only price series.
type Engine struct {
	detector  consolidation.Detector
	evaluator breakout.Evaluator
	planner   planner.Planner
	account   types.Account

	atrPeriod   int
	barInterval time.Duration

	gate Gate
	exec Executor

	series  *series.Series
	tracker *lifecycle.Tracker
	box     *types.ConsolidationBox

	logger *slog.Logger
}

// New creates an engine. Nil Gate means always-open; nil Executor accepts
// all intents at the requested price.
func New(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := p.Gate
	if gate == nil {
		gate = GateFunc(func(time.Time) bool { return true })
	}
	exec := p.Executor
	if exec == nil {
		exec = AcceptAll{}
	}
	logger.Info("Strategy engine initialised",
		"consolidation_periods", p.Detector.Periods,
		"tolerance", p.Detector.Tolerance,
		"stop_policy", p.Planner.StopPolicy,
		"risk_reward", p.Planner.RiskRewardRatio,
	)
	return &Engine{
		detector:    p.Detector,
		evaluator:   p.Evaluator,
		planner:     p.Planner,
		account:     p.Account,
		atrPeriod:   p.ATRPeriod,
		barInterval: p.BarInterval,
		gate:        gate,
		exec:        exec,
		series:      series.New(1024),
		tracker:     lifecycle.NewTracker(p.TrailingStopPct, logger),
		logger:      logger,
	}
}

// Step consumes one bar and returns the ordered events it produced. A
// non-nil error means the bar was rejected as malformed or out of order; the
// engine state is unchanged and processing resumes on the next valid bar.
func (e *Engine) Step(bar types.Bar) ([]Event, error) {
	// Vet the bar before touching any state: a rejected bar must leave the
	// box and position exactly as they were.
	if err := e.series.Check(bar); err != nil {
		return nil, fmt.Errorf("rejecting bar: %w", err)
	}

	var events []Event

	// Feed gap: the prior consolidation evidence is stale, drop the box.
	if e.box != nil && e.series.GapExceeds(bar, e.barInterval) {
		events = append(events, Event{
			Type: EventBoxInvalidated, Time: bar.Timestamp,
			Reason: InvalidateDataGap, Box: e.box,
		})
		e.box = nil
	}

	e.series.Append(bar) //nolint:errcheck // vetted above
	idx := e.series.Len() - 1

	// Advance the open position first: a position can never be opened and
	// closed on the bar that created it.
	if closed := e.tracker.Advance(bar); closed != nil {
		events = append(events, Event{
			Type: EventPositionClosed, Time: bar.Timestamp, Position: closed,
			Reason: closed.ExitReason,
		})
	}

	if !e.tracker.HasOpen() {
		if e.box == nil {
			if box := e.detector.Evaluate(e.series.Window(e.detector.Periods), idx); box != nil {
				e.box = box
				events = append(events, Event{Type: EventBoxFormed, Time: bar.Timestamp, Box: box})
				e.logger.Debug("Consolidation box formed",
					"high", box.HighLevel, "low", box.LowLevel, "width", box.RangeWidth,
				)
			}
		} else {
			events = append(events, e.evaluateBox(bar, idx)...)
		}
	}

	return events, nil
}

// evaluateBox handles an active box against the newest bar. Any close beyond
// a boundary ends the consolidation episode: the box is consumed whether the
// break confirms, fails its filters, or the planner rejects the intent.
func (e *Engine) evaluateBox(bar types.Bar, idx int) []Event {
	box := e.box

	if box.Contains(bar.Close) {
		// Close stayed inside. A high or low piercing the band still breaks
		// the containment invariant, so the box is discarded without a
		// breakout attempt.
		if bar.High > box.HighLevel || bar.Low < box.LowLevel {
			e.box = nil
			return []Event{{
				Type: EventBoxInvalidated, Time: bar.Timestamp,
				Reason: InvalidateRangeViolation, Box: box,
			}}
		}
		return nil
	}

	// Boundary close: episode over.
	e.box = nil

	signal := e.evaluator.Evaluate(box, e.series.Bars(), idx)
	if signal == nil {
		return []Event{{
			Type: EventBreakoutRejected, Time: bar.Timestamp,
			Reason: RejectConfirmation, Box: box,
		}}
	}

	atr, _ := indicators.ATR(e.series.Bars(), e.atrPeriod)
	gateOpen := e.gate.CanOpenNewTrade(bar.Timestamp)

	intent, reject := e.planner.Plan(signal, box, atr, e.account, gateOpen)
	if reject != types.RejectNone {
		e.logger.Debug("Breakout rejected by planner",
			"direction", signal.Direction, "reason", reject,
		)
		return []Event{{
			Type: EventBreakoutRejected, Time: bar.Timestamp,
			Reason: string(reject), Box: box, Signal: signal,
		}}
	}

	fill, err := e.exec.Submit(intent)
	if err != nil {
		// The collaborator failed; bookkeeping stays consistent: the box is
		// consumed and no position exists.
		e.logger.Warn("Order submission failed", "error", err)
		return []Event{{
			Type: EventOrderFailed, Time: bar.Timestamp,
			Reason: err.Error(), Intent: &intent,
		}}
	}

	pos := e.tracker.Open(intent, fill, bar.Timestamp)
	return []Event{{
		Type: EventPositionOpened, Time: bar.Timestamp,
		Position: pos, Signal: signal, Intent: &intent,
	}}
}

// CloseManual closes any open position at the supplied price and returns the
// closed-position event, or nil when flat.
func (e *Engine) CloseManual(exitPrice float64, at time.Time) *Event {
	closed := e.tracker.CloseManual(exitPrice, at)
	if closed == nil {
		return nil
	}
	return &Event{
		Type: EventPositionClosed, Time: at, Position: closed,
		Reason: closed.ExitReason,
	}
}

// Box returns the active consolidation box, or nil.
func (e *Engine) Box() *types.ConsolidationBox {
	if e.box == nil {
		return nil
	}
	cp := *e.box
	return &cp
}

// OpenPosition returns a snapshot of the open position, or nil when flat.
func (e *Engine) OpenPosition() *types.Position { return e.tracker.Position() }

// BarCount returns the number of bars consumed so far.
func (e *Engine) BarCount() int { return e.series.Len() }
