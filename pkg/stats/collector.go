// Package stats provides thread-safe collection of session statistics from
// closed positions and rejection events. It is the store queried by the
// monitoring API endpoints and printed at the end of a backtest, so
// dashboards can show live win rate, profit factor, and drawdown.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// Collector accumulates outcomes for one trading session or backtest run.
type Collector struct {
	mu     sync.RWMutex
	logger *slog.Logger

	initialEquity  float64
	pointValue     float64
	equity         float64
	peak           float64
	maxDrawdown    float64
	maxDrawdownPct float64

	positions []types.Position
	wins      int
	losses    int
	manual    int

	grossProfit float64
	grossLoss   float64
	largestWin  float64
	largestLoss float64

	rejections map[string]int

	startedAt time.Time
	version   string
}

// NewCollector creates a collector seeded with the starting account equity.
func NewCollector(initialEquity, pointValue float64, version string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if pointValue <= 0 {
		pointValue = 1.0
	}
	if version == "" {
		version = "dev"
	}
	return &Collector{
		logger:        logger,
		initialEquity: initialEquity,
		pointValue:    pointValue,
		equity:        initialEquity,
		peak:          initialEquity,
		rejections:    make(map[string]int),
		startedAt:     time.Now(),
		version:       version,
	}
}

// RecordClose folds a closed position into the running statistics. The
// position is copied; it must already be in a terminal state.
func (c *Collector) RecordClose(pos *types.Position) {
	if pos == nil || !pos.State.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	profit := pos.Profit(c.pointValue)
	c.equity += profit
	if c.equity > c.peak {
		c.peak = c.equity
	}
	if dd := c.peak - c.equity; dd > c.maxDrawdown {
		c.maxDrawdown = dd
		if c.peak > 0 {
			c.maxDrawdownPct = dd / c.peak * 100
		}
	}

	switch {
	case pos.State == types.ClosedManual:
		c.manual++
	case profit > 0:
		c.wins++
	default:
		c.losses++
	}
	if profit > 0 {
		c.grossProfit += profit
		if profit > c.largestWin {
			c.largestWin = profit
		}
	} else {
		c.grossLoss += -profit
		if -profit > c.largestLoss {
			c.largestLoss = -profit
		}
	}

	c.positions = append(c.positions, *pos)
	c.logger.Debug("Recorded closed position",
		"id", pos.ID,
		"state", pos.State,
		"profit", profit,
		"equity", c.equity,
	)
}

// RecordRejection counts a rejected breakout by reason.
func (c *Collector) RecordRejection(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections[reason]++
}

// Positions returns a copy of all recorded closed positions, in close order.
func (c *Collector) Positions() []types.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Position, len(c.positions))
	copy(out, c.positions)
	return out
}

// StartedAt returns the collector creation time.
func (c *Collector) StartedAt() time.Time { return c.startedAt }

// Version returns the version string reported by the health endpoint.
func (c *Collector) Version() string { return c.version }

// UptimeSeconds returns seconds since the collector was created.
func (c *Collector) UptimeSeconds() float64 { return time.Since(c.startedAt).Seconds() }

// Summary is a point-in-time snapshot of the session statistics.
type Summary struct {
	TotalTrades    int            `json:"total_trades"`
	WinningTrades  int            `json:"winning_trades"`
	LosingTrades   int            `json:"losing_trades"`
	ManualCloses   int            `json:"manual_closes"`
	WinRate        float64        `json:"win_rate"`
	GrossProfit    float64        `json:"gross_profit"`
	GrossLoss      float64        `json:"gross_loss"`
	NetProfit      float64        `json:"net_profit"`
	ProfitFactor   float64        `json:"profit_factor"`
	AvgWin         float64        `json:"avg_win"`
	AvgLoss        float64        `json:"avg_loss"`
	LargestWin     float64        `json:"largest_win"`
	LargestLoss    float64        `json:"largest_loss"`
	InitialEquity  float64        `json:"initial_equity"`
	FinalEquity    float64        `json:"final_equity"`
	ReturnPct      float64        `json:"return_pct"`
	MaxDrawdown    float64        `json:"max_drawdown"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	Rejections     map[string]int `json:"rejections"`
}

// Snapshot computes a consistent summary of everything recorded so far.
func (c *Collector) Snapshot() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.wins + c.losses + c.manual
	s := Summary{
		TotalTrades:    total,
		WinningTrades:  c.wins,
		LosingTrades:   c.losses,
		ManualCloses:   c.manual,
		GrossProfit:    c.grossProfit,
		GrossLoss:      c.grossLoss,
		NetProfit:      c.grossProfit - c.grossLoss,
		LargestWin:     c.largestWin,
		LargestLoss:    c.largestLoss,
		InitialEquity:  c.initialEquity,
		FinalEquity:    c.equity,
		MaxDrawdown:    c.maxDrawdown,
		MaxDrawdownPct: c.maxDrawdownPct,
		Rejections:     make(map[string]int, len(c.rejections)),
	}
	for k, v := range c.rejections {
		s.Rejections[k] = v
	}

	if total > 0 {
		s.WinRate = float64(c.wins) / float64(total) * 100
	}
	if c.wins > 0 {
		s.AvgWin = c.grossProfit / float64(c.wins)
	}
	if c.losses > 0 {
		s.AvgLoss = c.grossLoss / float64(c.losses)
	}
	// Undefined without losses; zero keeps the summary JSON-encodable.
	if c.grossLoss > 0 {
		s.ProfitFactor = c.grossProfit / c.grossLoss
	}
	if c.initialEquity > 0 {
		s.ReturnPct = (c.equity - c.initialEquity) / c.initialEquity * 100
	}
	return s
}
