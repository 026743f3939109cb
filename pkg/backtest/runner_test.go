package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/tradeforge/boxbot/pkg/config"
	"github.com/tradeforge/boxbot/pkg/types"
)

// Friday 2024-03-01, inside the default Monday-Friday session.
var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func bar(i int, high, low, close float64) types.Bar {
	return types.Bar{
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Strategy.ConsolidationPeriods = 3
	cfg.Strategy.ConsolidationTolerance = 0.02
	cfg.Strategy.MinBreakoutStrength = 0
	cfg.Strategy.VolumeMultiplier = 0
	cfg.Strategy.TrendPeriod = 0
	return cfg
}

func TestRunFullCycle(t *testing.T) {
	bars := []types.Bar{
		bar(0, 100.5, 99.5, 100),
		bar(1, 100.5, 99.5, 100),
		bar(2, 100.5, 99.5, 100),  // box forms: 99.5..100.5
		bar(3, 101.2, 100.8, 101), // breakout: stop 99.5, target 104
		bar(4, 104.5, 101.5, 104), // target hit
	}

	r := NewRunner(testConfig(), nil)
	summary, err := r.Run(bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalTrades != 1 || summary.WinningTrades != 1 {
		t.Errorf("trades = %d/%d wins, want 1/1", summary.TotalTrades, summary.WinningTrades)
	}
	if summary.WinRate != 100 {
		t.Errorf("WinRate = %f, want 100", summary.WinRate)
	}
	if summary.NetProfit <= 0 {
		t.Errorf("NetProfit = %f, want > 0", summary.NetProfit)
	}

	positions := r.Positions()
	if len(positions) != 1 {
		t.Fatalf("Positions() len = %d, want 1", len(positions))
	}
	if positions[0].ExitPrice != 104 {
		t.Errorf("ExitPrice = %f, want the target 104", positions[0].ExitPrice)
	}
}

func TestRunClosesOpenPositionAtEnd(t *testing.T) {
	bars := []types.Bar{
		bar(0, 100.5, 99.5, 100),
		bar(1, 100.5, 99.5, 100),
		bar(2, 100.5, 99.5, 100),
		bar(3, 101.2, 100.8, 101),  // opens
		bar(4, 101.6, 100.9, 101.5), // rides, no exit level hit
	}

	r := NewRunner(testConfig(), nil)
	summary, err := r.Run(bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalTrades != 1 || summary.ManualCloses != 1 {
		t.Errorf("trades = %d, manual = %d, want 1/1", summary.TotalTrades, summary.ManualCloses)
	}
	positions := r.Positions()
	if len(positions) != 1 {
		t.Fatalf("Positions() len = %d, want 1", len(positions))
	}
	// Flattened at the last close.
	if math.Abs(positions[0].ExitPrice-101.5) > 1e-9 {
		t.Errorf("ExitPrice = %f, want 101.5", positions[0].ExitPrice)
	}
	if positions[0].State != types.ClosedManual {
		t.Errorf("State = %q, want closed_manual", positions[0].State)
	}
}

func TestRunSkipsBadBars(t *testing.T) {
	bars := []types.Bar{
		bar(0, 100.5, 99.5, 100),
		bar(0, 100.5, 99.5, 100), // duplicate timestamp, skipped
		bar(1, 100.5, 99.5, 100),
		bar(2, 100.5, 99.5, 100),
	}

	r := NewRunner(testConfig(), nil)
	if _, err := r.Run(bars); err != nil {
		t.Fatalf("Run must skip bad bars, got %v", err)
	}
}

func TestRunEmptyInput(t *testing.T) {
	r := NewRunner(testConfig(), nil)
	if _, err := r.Run(nil); err == nil {
		t.Error("expected an error for empty input")
	}
}

func TestRunCountsRejections(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.MinBreakoutStrength = 0.5 // 0.5 points beyond the boundary

	bars := []types.Bar{
		bar(0, 100.5, 99.5, 100),
		bar(1, 100.5, 99.5, 100),
		bar(2, 100.5, 99.5, 100),
		bar(3, 100.8, 100.2, 100.6), // weak break, rejected
	}

	r := NewRunner(cfg, nil)
	summary, err := r.Run(bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", summary.TotalTrades)
	}
	if summary.Rejections["confirmation_failed"] != 1 {
		t.Errorf("Rejections = %v, want one confirmation_failed", summary.Rejections)
	}
}
