// Package persistence stores completed runs and their positions in Postgres.
// A run is one backtest or one live session; positions reference their run
// by foreign key.
package persistence

import (
	"context"
	"io"
	"time"

	"github.com/tradeforge/boxbot/pkg/stats"
	"github.com/tradeforge/boxbot/pkg/types"
)

// Persister defines the interface for run persistence. Implemented by
// Client (direct pgx); tests can substitute an in-memory fake.
type Persister interface {
	// SaveRun inserts a run summary row and returns its database ID.
	SaveRun(ctx context.Context, run RunRecord) (int64, error)

	// SavePositions bulk-inserts positions for a run.
	SavePositions(ctx context.Context, runID int64, positions []types.Position) (int, error)

	// Persist saves the run summary and its positions in one workflow.
	// Returns the run ID and the number of position rows inserted.
	Persist(ctx context.Context, run RunRecord, positions []types.Position) (int64, int, error)

	// Close releases resources.
	io.Closer
}

// RunRecord is one row in the boxbot_runs table.
type RunRecord struct {
	Symbol      string
	Interval    string
	Mode        string // "backtest" or "live"
	PeriodStart time.Time
	PeriodEnd   time.Time
	Summary     stats.Summary
	ConfigJSON  []byte
}
