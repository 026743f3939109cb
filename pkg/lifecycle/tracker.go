// Package lifecycle tracks an open position from placement through exit.
//
// The tracker is a small state machine: Open -> ClosedWin | ClosedLoss |
// ClosedManual, all closed states terminal. Transition rules are evaluated
// once per new bar. When a single bar's range spans both the stop and the
// target, the stop is assumed to be hit first — the pessimistic ordering is a
// deliberate policy, covered by tests, not an accident of evaluation order.
package lifecycle

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/tradeforge/boxbot/pkg/types"
)

// Exit reasons recorded on closed positions.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonTrailingStop = "trailing_stop"
	ReasonManual       = "manual"
)

// Tracker owns at most one open position and advances it per bar.
type Tracker struct {
	// TrailingStopPct ratchets the stop behind the best price seen, as a
	// fraction of the entry price. Zero disables trailing.
	TrailingStopPct float64

	logger *slog.Logger

	position     *types.Position
	trailingStop float64
	bestPrice    float64
	worstPrice   float64
	barsHeld     int
}

// NewTracker creates a tracker with no open position.
func NewTracker(trailingStopPct float64, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{TrailingStopPct: trailingStopPct, logger: logger}
}

// HasOpen reports whether a position is currently open.
func (t *Tracker) HasOpen() bool {
	return t.position != nil && t.position.State == types.Open
}

// Position returns a snapshot of the open position, or nil when flat.
func (t *Tracker) Position() *types.Position {
	if !t.HasOpen() {
		return nil
	}
	cp := *t.position
	return &cp
}

// Open creates a position from an accepted intent. entryPrice is the fill
// price reported by the executor, which is authoritative over the intent's
// requested entry. Opening while a position is already open is a programming
// error and returns nil.
func (t *Tracker) Open(intent types.TradeIntent, entryPrice float64, openedAt time.Time) *types.Position {
	if t.HasOpen() {
		t.logger.Warn("Open called with a position already open", "id", t.position.ID)
		return nil
	}
	if entryPrice <= 0 {
		entryPrice = intent.EntryPrice
	}

	t.position = &types.Position{
		ID:         uuid.NewString(),
		Direction:  intent.Direction,
		EntryPrice: entryPrice,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
		Size:       intent.Size,
		OpenedAt:   openedAt,
		State:      types.Open,
	}
	t.trailingStop = intent.StopLoss
	t.bestPrice = entryPrice
	t.worstPrice = entryPrice
	t.barsHeld = 0

	t.logger.Info("Position opened",
		"id", t.position.ID,
		"direction", t.position.Direction,
		"entry", entryPrice,
		"stop", intent.StopLoss,
		"target", intent.TakeProfit,
		"size", intent.Size,
	)
	cp := *t.position
	return &cp
}

// Advance evaluates the transition rules against a new bar. It returns the
// closed position record when a transition fired, or nil. A terminal
// position is never re-evaluated, and at most one transition occurs per bar.
func (t *Tracker) Advance(bar types.Bar) *types.Position {
	if !t.HasOpen() {
		return nil
	}
	pos := t.position
	t.barsHeld++

	if pos.Direction == types.Buy {
		t.bestPrice = math.Max(t.bestPrice, bar.High)
		t.worstPrice = math.Min(t.worstPrice, bar.Low)
	} else {
		t.bestPrice = math.Min(t.bestPrice, bar.Low)
		t.worstPrice = math.Max(t.worstPrice, bar.High)
	}

	stop, trailing := t.effectiveStop(bar)

	// Stop before target: pessimistic tie-break.
	if pos.Direction == types.Buy {
		if bar.Low <= stop {
			return t.close(stop, bar.Timestamp, stopReason(trailing))
		}
		if bar.High >= pos.TakeProfit {
			return t.close(pos.TakeProfit, bar.Timestamp, ReasonTakeProfit)
		}
	} else {
		if bar.High >= stop {
			return t.close(stop, bar.Timestamp, stopReason(trailing))
		}
		if bar.Low <= pos.TakeProfit {
			return t.close(pos.TakeProfit, bar.Timestamp, ReasonTakeProfit)
		}
	}
	return nil
}

// CloseManual closes the open position at an externally supplied price,
// regardless of bar data. Returns nil when flat.
func (t *Tracker) CloseManual(exitPrice float64, at time.Time) *types.Position {
	if !t.HasOpen() {
		return nil
	}
	pos := t.close(exitPrice, at, ReasonManual)
	pos.State = types.ClosedManual
	return pos
}

// BarsHeld returns the number of bars the current position has been held.
func (t *Tracker) BarsHeld() int { return t.barsHeld }

// effectiveStop ratchets the trailing stop (when enabled) and returns the
// level the stop check uses, plus whether the trailing stop has tightened
// past the initial stop.
func (t *Tracker) effectiveStop(bar types.Bar) (level float64, trailing bool) {
	pos := t.position
	if t.TrailingStopPct <= 0 {
		return pos.StopLoss, false
	}
	dist := pos.EntryPrice * t.TrailingStopPct
	if pos.Direction == types.Buy {
		if next := t.bestPrice - dist; next > t.trailingStop {
			t.trailingStop = next
		}
		return t.trailingStop, t.trailingStop > pos.StopLoss
	}
	if next := t.bestPrice + dist; next < t.trailingStop {
		t.trailingStop = next
	}
	return t.trailingStop, t.trailingStop < pos.StopLoss
}

func stopReason(trailing bool) string {
	if trailing {
		return ReasonTrailingStop
	}
	return ReasonStopLoss
}

// close finalises the position and releases tracker ownership. The returned
// record is immutable from the tracker's point of view.
func (t *Tracker) close(exitPrice float64, at time.Time, reason string) *types.Position {
	pos := t.position
	pos.ExitPrice = exitPrice
	pos.ClosedAt = at
	pos.ExitReason = reason
	if pos.Points() > 0 {
		pos.State = types.ClosedWin
	} else {
		pos.State = types.ClosedLoss
	}

	t.logger.Info("Position closed",
		"id", pos.ID,
		"reason", reason,
		"exit", exitPrice,
		"points", pos.Points(),
		"bars_held", t.barsHeld,
	)

	t.position = nil
	return pos
}
