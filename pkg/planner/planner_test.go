package planner

import (
	"math"
	"testing"

	"github.com/tradeforge/boxbot/pkg/types"
)

var (
	testBox = &types.ConsolidationBox{
		HighLevel:  25410,
		LowLevel:   25360,
		RangeWidth: 50,
	}
	testAccount = types.Account{
		Equity:       10000,
		RiskFraction: 0.02,
		MinLotStep:   0.01,
		PointValue:   1.0,
	}
)

func buySignal(price float64) *types.BreakoutSignal {
	return &types.BreakoutSignal{Direction: types.Buy, TriggerPrice: price}
}

func sellSignal(price float64) *types.BreakoutSignal {
	return &types.BreakoutSignal{Direction: types.Sell, TriggerPrice: price}
}

func TestPlanBoxStopBuy(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}

	intent, reject := p.Plan(buySignal(25415), testBox, 0, testAccount, true)
	if reject != types.RejectNone {
		t.Fatalf("unexpected rejection: %q", reject)
	}
	if intent.StopLoss != 25360 {
		t.Errorf("StopLoss = %f, want 25360 (opposite boundary)", intent.StopLoss)
	}
	// risk = 55, target = 25415 + 2*55 = 25525
	if math.Abs(intent.TakeProfit-25525) > 1e-9 {
		t.Errorf("TakeProfit = %f, want 25525", intent.TakeProfit)
	}
	// maxRisk = 200, per-unit risk = 55: floor(200/55/0.01)*0.01 = 3.63
	if math.Abs(intent.Size-3.63) > 1e-9 {
		t.Errorf("Size = %f, want 3.63", intent.Size)
	}
	if intent.RiskAmount > 200+1e-9 {
		t.Errorf("RiskAmount = %f exceeds the 200 cap", intent.RiskAmount)
	}
}

func TestPlanBoxStopSell(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}

	intent, reject := p.Plan(sellSignal(25355), testBox, 0, testAccount, true)
	if reject != types.RejectNone {
		t.Fatalf("unexpected rejection: %q", reject)
	}
	if intent.StopLoss != 25410 {
		t.Errorf("StopLoss = %f, want 25410", intent.StopLoss)
	}
	// risk = 55, target = 25355 - 110 = 25245
	if math.Abs(intent.TakeProfit-25245) > 1e-9 {
		t.Errorf("TakeProfit = %f, want 25245", intent.TakeProfit)
	}
	if !(intent.TakeProfit < intent.EntryPrice && intent.EntryPrice < intent.StopLoss) {
		t.Errorf("sell ordering violated: tp=%f entry=%f sl=%f",
			intent.TakeProfit, intent.EntryPrice, intent.StopLoss)
	}
}

func TestPlanATRStop(t *testing.T) {
	p := Planner{StopPolicy: StopATR, ATRMultiplier: 2.0, RiskRewardRatio: 2.0}

	intent, reject := p.Plan(buySignal(25415), testBox, 12.5, testAccount, true)
	if reject != types.RejectNone {
		t.Fatalf("unexpected rejection: %q", reject)
	}
	// stop = 25415 - 2*12.5 = 25390
	if math.Abs(intent.StopLoss-25390) > 1e-9 {
		t.Errorf("StopLoss = %f, want 25390", intent.StopLoss)
	}
	// risk = 25, target = 25415 + 50 = 25465
	if math.Abs(intent.TakeProfit-25465) > 1e-9 {
		t.Errorf("TakeProfit = %f, want 25465", intent.TakeProfit)
	}
}

func TestPlanGateClosed(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}
	if _, reject := p.Plan(buySignal(25415), testBox, 0, testAccount, false); reject != types.RejectGateClosed {
		t.Errorf("reject = %q, want gate_closed", reject)
	}
}

func TestPlanInvalidStop(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}

	// Zero-width box under the box policy: entry equals the stop.
	flat := &types.ConsolidationBox{HighLevel: 25400, LowLevel: 25400}
	sig := buySignal(25400)
	if _, reject := p.Plan(sig, flat, 0, testAccount, true); reject != types.RejectInvalidStop {
		t.Errorf("reject = %q, want invalid_stop", reject)
	}

	// Missing ATR under the ATR policy.
	atr := Planner{StopPolicy: StopATR, ATRMultiplier: 2.0, RiskRewardRatio: 2.0}
	if _, reject := atr.Plan(buySignal(25415), testBox, math.NaN(), testAccount, true); reject != types.RejectInvalidStop {
		t.Errorf("reject = %q, want invalid_stop for NaN ATR", reject)
	}
}

func TestPlanRiskCap(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}

	// maxRisk = 2, per-unit risk = 55: even one lot step (1.0) breaches it.
	tiny := types.Account{Equity: 100, RiskFraction: 0.02, MinLotStep: 1.0, PointValue: 1.0}
	if _, reject := p.Plan(buySignal(25415), testBox, 0, tiny, true); reject != types.RejectRiskCap {
		t.Errorf("reject = %q, want risk_cap", reject)
	}
}

func TestPlanSizeNeverExceedsRiskBudget(t *testing.T) {
	p := Planner{StopPolicy: StopBox, RiskRewardRatio: 2.0}

	// Flooring property across a spread of risks and equities.
	for _, equity := range []float64{500, 2500, 10000, 250000} {
		for _, entry := range []float64{25411, 25415, 25440, 25500} {
			acct := types.Account{Equity: equity, RiskFraction: 0.02, MinLotStep: 0.01, PointValue: 1.0}
			intent, reject := p.Plan(buySignal(entry), testBox, 0, acct, true)
			if reject != types.RejectNone {
				continue
			}
			budget := equity * 0.02
			if intent.RiskAmount > budget+1e-9 {
				t.Errorf("equity %.0f entry %.0f: risk %f exceeds budget %f",
					equity, entry, intent.RiskAmount, budget)
			}
			// Size is an exact multiple of the lot step.
			steps := intent.Size / 0.01
			if math.Abs(steps-math.Round(steps)) > 1e-6 {
				t.Errorf("size %f is not a multiple of the lot step", intent.Size)
			}
		}
	}
}
