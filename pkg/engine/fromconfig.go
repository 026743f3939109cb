package engine

import (
	"log/slog"

	"github.com/tradeforge/boxbot/pkg/breakout"
	"github.com/tradeforge/boxbot/pkg/config"
	"github.com/tradeforge/boxbot/pkg/consolidation"
	"github.com/tradeforge/boxbot/pkg/planner"
	"github.com/tradeforge/boxbot/pkg/types"
)

// NewFromConfig assembles an engine from a validated configuration.
// Gate and Executor may be nil (always-open / accept-all).
func NewFromConfig(cfg *config.Config, gate Gate, exec Executor, logger *slog.Logger) *Engine {
	s := cfg.Strategy

	var rsiPeriod int
	if s.RSIPeriod > 0 {
		rsiPeriod = s.RSIPeriod
	}

	return New(Params{
		Detector: consolidation.Detector{
			Periods:            s.ConsolidationPeriods,
			Tolerance:          s.ConsolidationTolerance,
			MinBoundaryTouches: s.MinBoundaryTouches,
		},
		Evaluator: breakout.Evaluator{
			MinStrength:      s.MinBreakoutStrength,
			VolumeMultiplier: s.VolumeMultiplier,
			TrendPeriod:      s.TrendPeriod,
			RSIPeriod:        rsiPeriod,
			RSIOverbought:    s.RSIOverbought,
			RSIOversold:      s.RSIOversold,
		},
		Planner: planner.Planner{
			StopPolicy:      planner.StopPolicy(s.StopPolicy),
			ATRMultiplier:   s.ATRMultiplier,
			RiskRewardRatio: s.RiskRewardRatio,
		},
		Account: types.Account{
			Equity:       cfg.Account.Equity,
			RiskFraction: cfg.Account.RiskFraction,
			MinLotStep:   cfg.Account.MinLotStep,
			PointValue:   cfg.Account.PointValue,
		},
		ATRPeriod:       s.ATRPeriod,
		TrailingStopPct: s.TrailingStopPct,
		BarInterval:     cfg.Feed.Interval(),
		Gate:            gate,
		Executor:        exec,
		Logger:          logger,
	})
}
