// Package risk implements the session-level policy gate the planner consults
// before opening a new trade: daily trade limits, a consecutive-loss stop,
// and trading-hours/weekday windows. The gate is shared state read by the
// engine and updated by whichever loop observes position outcomes, so it is
// safe for concurrent use.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// SessionPolicy gates new trade entries. The zero limits disable the
// corresponding checks.
type SessionPolicy struct {
	// MaxDailyTrades caps opened trades per UTC calendar day. Zero = no cap.
	MaxDailyTrades int

	// MaxConsecutiveLosses halts new entries after this many straight
	// losses, until Reset is called. Zero = no halt.
	MaxConsecutiveLosses int

	// StartHour and EndHour bound the trading window (inclusive, UTC).
	// StartHour > EndHour denotes an overnight session.
	StartHour int
	EndHour   int

	// TradingDays whitelists weekdays. Empty means every day.
	TradingDays map[time.Weekday]bool

	logger *slog.Logger

	mu                sync.Mutex
	day               time.Time // UTC date of the current counter window
	tradesToday       int
	consecutiveLosses int
	halted            bool
}

// NewSessionPolicy creates a policy gate.
func NewSessionPolicy(maxDaily, maxConsecutiveLosses, startHour, endHour int, days []time.Weekday, logger *slog.Logger) *SessionPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	var whitelist map[time.Weekday]bool
	if len(days) > 0 {
		whitelist = make(map[time.Weekday]bool, len(days))
		for _, d := range days {
			whitelist[d] = true
		}
	}
	return &SessionPolicy{
		MaxDailyTrades:       maxDaily,
		MaxConsecutiveLosses: maxConsecutiveLosses,
		StartHour:            startHour,
		EndHour:              endHour,
		TradingDays:          whitelist,
		logger:               logger,
	}
}

// CanOpenNewTrade reports whether a new trade may be opened at the given
// time. It never mutates counters beyond the calendar-day rollover.
func (p *SessionPolicy) CanOpenNewTrade(at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(at)

	if p.halted {
		return false
	}
	if p.MaxDailyTrades > 0 && p.tradesToday >= p.MaxDailyTrades {
		return false
	}
	if !p.inSession(at.UTC()) {
		return false
	}
	return true
}

// RecordOpen counts an opened trade against the daily limit.
func (p *SessionPolicy) RecordOpen(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(at)
	p.tradesToday++
}

// RecordOutcome updates the consecutive-loss counter from a closed position.
// Wins reset the streak; manual closes leave it unchanged.
func (p *SessionPolicy) RecordOutcome(pos *types.Position) {
	if pos == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch pos.State {
	case types.ClosedWin:
		p.consecutiveLosses = 0
	case types.ClosedLoss:
		p.consecutiveLosses++
		if p.MaxConsecutiveLosses > 0 && p.consecutiveLosses >= p.MaxConsecutiveLosses {
			p.halted = true
			p.logger.Warn("Consecutive-loss stop triggered",
				"losses", p.consecutiveLosses,
				"limit", p.MaxConsecutiveLosses,
			)
		}
	}
}

// Reset clears the consecutive-loss halt and streak.
func (p *SessionPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = false
	p.consecutiveLosses = 0
	p.logger.Info("Session policy reset")
}

// TradesToday returns the count of trades opened in the current UTC day.
func (p *SessionPolicy) TradesToday() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tradesToday
}

// Halted reports whether the consecutive-loss stop is active.
func (p *SessionPolicy) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// rollover resets the daily counter on a UTC date change. Must be called
// with p.mu held.
func (p *SessionPolicy) rollover(at time.Time) {
	date := at.UTC().Truncate(24 * time.Hour)
	if !date.Equal(p.day) {
		if !p.day.IsZero() {
			p.logger.Info("New trading day", "date", date.Format("2006-01-02"))
		}
		p.day = date
		p.tradesToday = 0
	}
}

// inSession checks the weekday whitelist and the hour window, including
// overnight windows where StartHour > EndHour.
func (p *SessionPolicy) inSession(at time.Time) bool {
	if p.TradingDays != nil && !p.TradingDays[at.Weekday()] {
		return false
	}
	hour := at.Hour()
	if p.StartHour <= p.EndHour {
		return hour >= p.StartHour && hour <= p.EndHour
	}
	return hour >= p.StartHour || hour <= p.EndHour
}
