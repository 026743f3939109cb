package breakout

import (
	"math"
	"testing"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

var testBox = &types.ConsolidationBox{
	HighLevel:  25410,
	LowLevel:   25360,
	RangeWidth: 50,
}

func makeBars(closes []float64, volumes []float64) []types.Bar {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		vol := 100.0
		if volumes != nil {
			vol = volumes[i]
		}
		bars[i] = types.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    vol,
		}
	}
	return bars
}

func TestRawBoundaryBreak(t *testing.T) {
	e := Evaluator{} // all filters off
	bars := makeBars([]float64{25400, 25420}, nil)

	sig := e.Evaluate(testBox, bars, 1)
	if sig == nil {
		t.Fatal("expected a signal for close above the high boundary")
	}
	if sig.Direction != types.Buy {
		t.Errorf("Direction = %q, want buy", sig.Direction)
	}
	if math.Abs(sig.Strength-10) > 1e-9 {
		t.Errorf("Strength = %f, want 10", sig.Strength)
	}
	if sig.TriggerPrice != 25420 || sig.TriggerIndex != 1 {
		t.Errorf("trigger = (%f, %d), want (25420, 1)", sig.TriggerPrice, sig.TriggerIndex)
	}
}

func TestNoBreakInsideBox(t *testing.T) {
	e := Evaluator{}
	bars := makeBars([]float64{25400, 25405}, nil)
	if sig := e.Evaluate(testBox, bars, 1); sig != nil {
		t.Errorf("expected nil for close inside the box, got %+v", sig)
	}
	// A close exactly on the boundary is not beyond it.
	bars = makeBars([]float64{25400, 25410}, nil)
	if sig := e.Evaluate(testBox, bars, 1); sig != nil {
		t.Errorf("expected nil for close exactly at the boundary, got %+v", sig)
	}
}

func TestSellBreak(t *testing.T) {
	e := Evaluator{}
	bars := makeBars([]float64{25400, 25350}, nil)

	sig := e.Evaluate(testBox, bars, 1)
	if sig == nil {
		t.Fatal("expected a signal for close below the low boundary")
	}
	if sig.Direction != types.Sell {
		t.Errorf("Direction = %q, want sell", sig.Direction)
	}
	if math.Abs(sig.Strength-10) > 1e-9 {
		t.Errorf("Strength = %f, want 10", sig.Strength)
	}
}

func TestStrengthFilter(t *testing.T) {
	// 0.15 * 50 = 7.5 points required beyond the boundary.
	e := Evaluator{MinStrength: 0.15}

	// Close 25412: only 2 points beyond, rejected.
	bars := makeBars([]float64{25400, 25412}, nil)
	if sig := e.Evaluate(testBox, bars, 1); sig != nil {
		t.Errorf("expected weak break to be rejected, got %+v", sig)
	}

	// Close 25420: 10 points beyond, confirmed.
	bars = makeBars([]float64{25400, 25420}, nil)
	if sig := e.Evaluate(testBox, bars, 1); sig == nil {
		t.Error("expected strong break to confirm")
	}
}

func TestVolumeFilter(t *testing.T) {
	e := Evaluator{VolumeMultiplier: 1.1, VolumeLookback: 3}

	closes := []float64{25400, 25400, 25400, 25420}

	// Average of the 3 preceding bars is 100; a 105 bar misses 1.1x.
	low := makeBars(closes, []float64{100, 100, 100, 105})
	if sig := e.Evaluate(testBox, low, 3); sig != nil {
		t.Errorf("expected low-volume break to be rejected, got %+v", sig)
	}

	high := makeBars(closes, []float64{100, 100, 100, 120})
	sig := e.Evaluate(testBox, high, 3)
	if sig == nil {
		t.Fatal("expected high-volume break to confirm")
	}
	if math.Abs(sig.VolumeRatio-1.2) > 1e-9 {
		t.Errorf("VolumeRatio = %f, want 1.2", sig.VolumeRatio)
	}
}

func TestVolumeFilterShortHistory(t *testing.T) {
	// Fewer bars than the lookback: the filter passes instead of starving
	// the strategy at series start.
	e := Evaluator{VolumeMultiplier: 1.1, VolumeLookback: 20}
	bars := makeBars([]float64{25400, 25420}, []float64{100, 50})
	if sig := e.Evaluate(testBox, bars, 1); sig == nil {
		t.Error("expected the volume filter to pass without enough history")
	}
}

func TestTrendFilter(t *testing.T) {
	e := Evaluator{TrendPeriod: 3}

	// Rising closes: SMA(3) over {25400, 25410, 25430} = 25413.33 < 25430,
	// buy break aligned.
	up := makeBars([]float64{25400, 25410, 25430}, nil)
	sig := e.Evaluate(testBox, up, 2)
	if sig == nil {
		t.Fatal("expected trend-aligned break to confirm")
	}
	if !sig.TrendAligned {
		t.Error("expected TrendAligned to be set")
	}

	// Buy break below the SMA: rejected.
	down := makeBars([]float64{25500, 25480, 25420}, nil)
	if sig := e.Evaluate(testBox, down, 2); sig != nil {
		t.Errorf("expected counter-trend break to be rejected, got %+v", sig)
	}

	// Too little history for the SMA: rejected rather than guessed.
	short := makeBars([]float64{25430}, nil)
	if sig := e.Evaluate(testBox, short, 0); sig != nil {
		t.Errorf("expected rejection without SMA history, got %+v", sig)
	}
}

func TestRSIVeto(t *testing.T) {
	e := Evaluator{RSIPeriod: 3, RSIOverbought: 70, RSIOversold: 30}

	// Monotonic rise gives RSI 100: buy break vetoed.
	up := makeBars([]float64{25380, 25390, 25400, 25430}, nil)
	if sig := e.Evaluate(testBox, up, 3); sig != nil {
		t.Errorf("expected overbought buy to be vetoed, got %+v", sig)
	}

	// Same shape downward: sell break vetoed at RSI 0.
	down := makeBars([]float64{25420, 25410, 25400, 25350}, nil)
	if sig := e.Evaluate(testBox, down, 3); sig != nil {
		t.Errorf("expected oversold sell to be vetoed, got %+v", sig)
	}

	// Not enough history: the veto passes.
	short := makeBars([]float64{25400, 25430}, nil)
	if sig := e.Evaluate(testBox, short, 1); sig == nil {
		t.Error("expected the RSI veto to pass without enough history")
	}
}

func TestDirectionSymmetry(t *testing.T) {
	// The strength filter treats both boundaries identically.
	e := Evaluator{MinStrength: 0.15}

	buy := makeBars([]float64{25400, 25420}, nil)
	sell := makeBars([]float64{25400, 25350}, nil)

	sb := e.Evaluate(testBox, buy, 1)
	ss := e.Evaluate(testBox, sell, 1)
	if sb == nil || ss == nil {
		t.Fatal("expected both directions to confirm")
	}
	if math.Abs(sb.Strength-ss.Strength) > 1e-9 {
		t.Errorf("asymmetric strengths: buy %f, sell %f", sb.Strength, ss.Strength)
	}
}

func TestEvaluateGuards(t *testing.T) {
	e := Evaluator{}
	bars := makeBars([]float64{25420}, nil)
	if e.Evaluate(nil, bars, 0) != nil {
		t.Error("nil box must yield nil")
	}
	if e.Evaluate(testBox, bars, -1) != nil || e.Evaluate(testBox, bars, 1) != nil {
		t.Error("out-of-range index must yield nil")
	}
}
