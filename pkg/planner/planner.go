// Package planner converts a confirmed breakout signal into an order intent:
// entry, stop-loss, take-profit and size under the configured risk model.
//
// Planning is pure computation. Declines are reported as a RejectReason, a
// normal outcome, never an error.
package planner

import (
	"math"

	"github.com/tradeforge/boxbot/pkg/types"
)

// StopPolicy selects how the stop-loss is placed.
type StopPolicy string

const (
	// StopBox places the stop at the opposite box boundary.
	StopBox StopPolicy = "box"

	// StopATR places the stop a multiple of the average true range away
	// from the entry.
	StopATR StopPolicy = "atr"
)

// Planner derives trade intents from breakout signals.
type Planner struct {
	StopPolicy      StopPolicy
	ATRMultiplier   float64
	RiskRewardRatio float64
}

// Plan computes the order intent for a signal against the box it broke out
// of. atr is the average true range at the trigger bar, used only by the
// StopATR policy. gateOpen is the external session gate (daily limits,
// consecutive-loss stops); a closed gate yields RejectGateClosed.
func (p Planner) Plan(
	signal *types.BreakoutSignal,
	box *types.ConsolidationBox,
	atr float64,
	account types.Account,
	gateOpen bool,
) (types.TradeIntent, types.RejectReason) {
	if !gateOpen {
		return types.TradeIntent{}, types.RejectGateClosed
	}

	entry := signal.TriggerPrice
	stop := p.stopLoss(signal.Direction, entry, box, atr)

	risk := math.Abs(entry - stop)
	if risk <= 0 || math.IsNaN(risk) || math.IsInf(risk, 0) {
		// Zero-width box under the box policy, or missing ATR.
		return types.TradeIntent{}, types.RejectInvalidStop
	}

	var target float64
	if signal.Direction == types.Buy {
		target = entry + p.RiskRewardRatio*risk
	} else {
		target = entry - p.RiskRewardRatio*risk
	}

	size, riskAmount, reason := p.size(risk, account)
	if reason != types.RejectNone {
		return types.TradeIntent{}, reason
	}

	return types.TradeIntent{
		Direction:  signal.Direction,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Size:       size,
		RiskAmount: riskAmount,
	}, types.RejectNone
}

func (p Planner) stopLoss(dir types.Direction, entry float64, box *types.ConsolidationBox, atr float64) float64 {
	switch p.StopPolicy {
	case StopATR:
		dist := atr * p.ATRMultiplier
		if dir == types.Buy {
			return entry - dist
		}
		return entry + dist
	default: // StopBox
		if dir == types.Buy {
			return box.LowLevel
		}
		return box.HighLevel
	}
}

// size floors the position size to the account's minimum tradable increment
// such that riskAmount never exceeds equity * riskFraction.
func (p Planner) size(risk float64, account types.Account) (float64, float64, types.RejectReason) {
	pointValue := account.PointValue
	if pointValue <= 0 {
		pointValue = 1.0
	}
	step := account.MinLotStep
	if step <= 0 {
		step = 1.0
	}

	maxRisk := account.Equity * account.RiskFraction
	perUnit := risk * pointValue
	if maxRisk <= 0 {
		return 0, 0, types.RejectRiskCap
	}

	size := math.Floor(maxRisk/perUnit/step) * step
	if size < step {
		if step*perUnit > maxRisk {
			// Even the minimum increment breaches the risk cap.
			return 0, 0, types.RejectRiskCap
		}
		return 0, 0, types.RejectSizeZero
	}

	return size, size * perUnit, types.RejectNone
}
