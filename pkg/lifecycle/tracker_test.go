package lifecycle

import (
	"math"
	"testing"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

var opened = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func buyIntent(entry, stop, target float64) types.TradeIntent {
	return types.TradeIntent{
		Direction:  types.Buy,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Size:       1,
	}
}

func sellIntent(entry, stop, target float64) types.TradeIntent {
	return types.TradeIntent{
		Direction:  types.Sell,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Size:       1,
	}
}

func bar(i int, high, low, close float64) types.Bar {
	return types.Bar{
		Timestamp: opened.Add(time.Duration(i) * time.Minute),
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	}
}

func TestOpenAssignsID(t *testing.T) {
	tr := NewTracker(0, nil)
	pos := tr.Open(buyIntent(110, 100, 120), 110, opened)
	if pos == nil {
		t.Fatal("Open returned nil")
	}
	if pos.ID == "" {
		t.Error("expected a generated position ID")
	}
	if pos.State != types.Open {
		t.Errorf("State = %q, want open", pos.State)
	}
	if !tr.HasOpen() {
		t.Error("HasOpen must be true after Open")
	}
}

func TestOpenUsesFillPrice(t *testing.T) {
	tr := NewTracker(0, nil)
	// The executor's fill is authoritative over the requested entry.
	pos := tr.Open(buyIntent(110, 100, 120), 110.5, opened)
	if pos.EntryPrice != 110.5 {
		t.Errorf("EntryPrice = %f, want the fill price 110.5", pos.EntryPrice)
	}
}

func TestOpenWhileOpen(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)
	if tr.Open(buyIntent(110, 100, 120), 110, opened) != nil {
		t.Error("second Open must return nil while a position is open")
	}
}

func TestStopLossBuy(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)

	if closed := tr.Advance(bar(1, 112, 105, 108)); closed != nil {
		t.Fatalf("no exit expected, got %+v", closed)
	}
	closed := tr.Advance(bar(2, 108, 99, 101))
	if closed == nil {
		t.Fatal("expected stop exit")
	}
	if closed.State != types.ClosedLoss {
		t.Errorf("State = %q, want closed_loss", closed.State)
	}
	if closed.ExitPrice != 100 {
		t.Errorf("ExitPrice = %f, want the stop level 100", closed.ExitPrice)
	}
	if closed.ExitReason != ReasonStopLoss {
		t.Errorf("ExitReason = %q, want stop_loss", closed.ExitReason)
	}
	if tr.HasOpen() {
		t.Error("tracker must be flat after close")
	}
}

func TestTakeProfitSell(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(sellIntent(110, 120, 95), 110, opened)

	closed := tr.Advance(bar(1, 112, 94, 96))
	if closed == nil {
		t.Fatal("expected target exit")
	}
	if closed.State != types.ClosedWin {
		t.Errorf("State = %q, want closed_win", closed.State)
	}
	if closed.ExitPrice != 95 {
		t.Errorf("ExitPrice = %f, want 95", closed.ExitPrice)
	}
	if closed.ExitReason != ReasonTakeProfit {
		t.Errorf("ExitReason = %q, want take_profit", closed.ExitReason)
	}
}

func TestPessimisticTieBreak(t *testing.T) {
	// A single bar spanning both levels resolves to the stop.
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)

	closed := tr.Advance(bar(1, 125, 95, 118))
	if closed == nil {
		t.Fatal("expected an exit")
	}
	if closed.ExitReason != ReasonStopLoss {
		t.Errorf("ExitReason = %q, want stop_loss on the spanning bar", closed.ExitReason)
	}
	if closed.ExitPrice != 100 {
		t.Errorf("ExitPrice = %f, want 100", closed.ExitPrice)
	}
	if closed.State != types.ClosedLoss {
		t.Errorf("State = %q, want closed_loss", closed.State)
	}
}

func TestTerminalIdempotence(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)
	if tr.Advance(bar(1, 125, 95, 118)) == nil {
		t.Fatal("expected an exit")
	}

	// Further bars on a flat tracker do nothing.
	if tr.Advance(bar(2, 130, 90, 100)) != nil {
		t.Error("closed position must not transition again")
	}
	if tr.CloseManual(100, opened.Add(time.Hour)) != nil {
		t.Error("manual close on a flat tracker must return nil")
	}
}

func TestCloseManual(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)

	at := opened.Add(10 * time.Minute)
	closed := tr.CloseManual(115, at)
	if closed == nil {
		t.Fatal("expected a manual close")
	}
	if closed.State != types.ClosedManual {
		t.Errorf("State = %q, want closed_manual", closed.State)
	}
	if closed.ExitReason != ReasonManual {
		t.Errorf("ExitReason = %q, want manual", closed.ExitReason)
	}
	if closed.ExitPrice != 115 || !closed.ClosedAt.Equal(at) {
		t.Errorf("close record = (%f, %v), want (115, %v)", closed.ExitPrice, closed.ClosedAt, at)
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	// 2% trailing on a 100 entry: the stop follows 2 points behind the best
	// high and never loosens.
	tr := NewTracker(0.02, nil)
	tr.Open(buyIntent(100, 95, 130), 100, opened)

	// High 110 lifts the trailing stop to 108; the bar holds above it.
	if closed := tr.Advance(bar(1, 110, 108.5, 109)); closed != nil {
		t.Fatalf("no exit expected, got %+v", closed)
	}
	// Pullback to 107.5 is below the ratcheted stop.
	closed := tr.Advance(bar(2, 109.5, 107.5, 108.5))
	if closed == nil {
		t.Fatal("expected a trailing stop exit")
	}
	if closed.ExitReason != ReasonTrailingStop {
		t.Errorf("ExitReason = %q, want trailing_stop", closed.ExitReason)
	}
	if math.Abs(closed.ExitPrice-108) > 1e-9 {
		t.Errorf("ExitPrice = %f, want 108", closed.ExitPrice)
	}
	// Exit above entry: a win despite being a stop.
	if closed.State != types.ClosedWin {
		t.Errorf("State = %q, want closed_win", closed.State)
	}
}

func TestTrailingStopSell(t *testing.T) {
	tr := NewTracker(0.02, nil)
	tr.Open(sellIntent(100, 105, 70), 100, opened)

	// Low 90 pulls the trailing stop down to 92; the bar stays below it.
	if closed := tr.Advance(bar(1, 91.5, 90, 91)); closed != nil {
		t.Fatalf("no exit expected, got %+v", closed)
	}
	closed := tr.Advance(bar(2, 93, 91, 92.5))
	if closed == nil {
		t.Fatal("expected a trailing stop exit")
	}
	if closed.ExitReason != ReasonTrailingStop {
		t.Errorf("ExitReason = %q, want trailing_stop", closed.ExitReason)
	}
	if math.Abs(closed.ExitPrice-92) > 1e-9 {
		t.Errorf("ExitPrice = %f, want 92", closed.ExitPrice)
	}
}

func TestBarsHeld(t *testing.T) {
	tr := NewTracker(0, nil)
	tr.Open(buyIntent(110, 100, 120), 110, opened)
	tr.Advance(bar(1, 112, 105, 108))
	tr.Advance(bar(2, 113, 106, 109))
	if tr.BarsHeld() != 2 {
		t.Errorf("BarsHeld() = %d, want 2", tr.BarsHeld())
	}
}
