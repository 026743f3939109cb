// Package backtest replays historical bars through a fresh strategy engine
// and reports session statistics, so the strategy can be evaluated without a
// live feed or broker.
package backtest

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tradeforge/boxbot/pkg/config"
	"github.com/tradeforge/boxbot/pkg/engine"
	"github.com/tradeforge/boxbot/pkg/risk"
	"github.com/tradeforge/boxbot/pkg/series"
	"github.com/tradeforge/boxbot/pkg/stats"
	"github.com/tradeforge/boxbot/pkg/types"
)

// Runner drives one backtest over a bar slice.
type Runner struct {
	engine    *engine.Engine
	collector *stats.Collector
	policy    *risk.SessionPolicy
	logger    *slog.Logger
}

// NewRunner wires a fresh engine, session policy and statistics collector
// from the configuration. Intents are filled at their requested entry price.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	policy := risk.NewSessionPolicy(
		cfg.Session.MaxDailyTrades,
		cfg.Session.MaxConsecutiveLosses,
		cfg.Session.TradingStartHour,
		cfg.Session.TradingEndHour,
		cfg.Session.Weekdays(),
		logger,
	)
	collector := stats.NewCollector(cfg.Account.Equity, cfg.Account.PointValue, "", logger)
	eng := engine.NewFromConfig(cfg, policy, engine.AcceptAll{}, logger)

	return &Runner{
		engine:    eng,
		collector: collector,
		policy:    policy,
		logger:    logger,
	}
}

// Run replays the bars in order. Malformed or out-of-order bars are skipped
// with a warning, matching the engine's per-bar recovery semantics. Any
// position still open at end of data is closed manually at the last close.
func (r *Runner) Run(bars []types.Bar) (stats.Summary, error) {
	if len(bars) == 0 {
		return stats.Summary{}, fmt.Errorf("no bars to backtest")
	}

	skipped := 0
	for _, bar := range bars {
		events, err := r.engine.Step(bar)
		if err != nil {
			if errors.Is(err, series.ErrOutOfOrder) || errors.Is(err, series.ErrMalformed) {
				skipped++
				r.logger.Warn("Skipping bad bar", "error", err)
				continue
			}
			return stats.Summary{}, err
		}
		r.consume(events)
	}

	// End of data: flatten at the last close.
	if r.engine.OpenPosition() != nil {
		last := bars[len(bars)-1]
		if ev := r.engine.CloseManual(last.Close, last.Timestamp); ev != nil {
			r.consume([]engine.Event{*ev})
		}
	}

	summary := r.collector.Snapshot()
	r.logger.Info("Backtest complete",
		"bars", r.engine.BarCount(),
		"skipped", skipped,
		"trades", summary.TotalTrades,
		"win_rate", summary.WinRate,
		"net_profit", summary.NetProfit,
	)
	return summary, nil
}

// consume folds engine events into the session policy and collector.
func (r *Runner) consume(events []engine.Event) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EventPositionOpened:
			r.policy.RecordOpen(ev.Time)
		case engine.EventPositionClosed:
			r.collector.RecordClose(ev.Position)
			r.policy.RecordOutcome(ev.Position)
		case engine.EventBreakoutRejected:
			r.collector.RecordRejection(ev.Reason)
		}
	}
}

// Positions returns the closed positions recorded during the run.
func (r *Runner) Positions() []types.Position {
	return r.collector.Positions()
}
