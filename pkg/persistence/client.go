package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeforge/boxbot/pkg/types"
)

// Client provides Postgres persistence via a pgx connection pool.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Persister = (*Client)(nil)

// NewClient creates a database client with a connection pool.
func NewClient(ctx context.Context, connStr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connection pool established", "max_conns", config.MaxConns)
	return &Client{pool: pool, logger: logger}, nil
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	c.pool.Close()
	c.logger.Info("Database connection pool closed")
	return nil
}

// SaveRun inserts a run summary row into boxbot_runs and returns its ID.
func (c *Client) SaveRun(ctx context.Context, run RunRecord) (int64, error) {
	var id int64
	s := run.Summary
	err := c.pool.QueryRow(ctx,
		`INSERT INTO boxbot_runs
			(symbol, interval, mode, period_start, period_end,
			 total_trades, winning_trades, losing_trades, manual_closes,
			 win_rate, gross_profit, gross_loss, net_profit, profit_factor,
			 initial_equity, final_equity, return_pct,
			 max_drawdown, max_drawdown_pct, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 RETURNING id`,
		run.Symbol, run.Interval, run.Mode, run.PeriodStart, run.PeriodEnd,
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.ManualCloses,
		s.WinRate, s.GrossProfit, s.GrossLoss, s.NetProfit, s.ProfitFactor,
		s.InitialEquity, s.FinalEquity, s.ReturnPct,
		s.MaxDrawdown, s.MaxDrawdownPct, run.ConfigJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	c.logger.Info("Saved run", "run_id", id, "symbol", run.Symbol, "trades", s.TotalTrades)
	return id, nil
}

// SavePositions bulk-inserts positions into boxbot_positions using COPY.
// Only terminal positions are persisted; open ones are skipped.
func (c *Client) SavePositions(ctx context.Context, runID int64, positions []types.Position) (int, error) {
	rows := make([][]interface{}, 0, len(positions))
	for _, p := range positions {
		if !p.State.Terminal() {
			continue
		}
		rows = append(rows, []interface{}{
			runID,
			p.ID,
			string(p.Direction),
			p.EntryPrice,
			p.StopLoss,
			p.TakeProfit,
			p.Size,
			p.OpenedAt,
			p.ClosedAt,
			p.ExitPrice,
			p.ExitReason,
			string(p.State),
			p.Points(),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"boxbot_positions"},
		[]string{
			"run_id", "position_id", "direction",
			"entry_price", "stop_loss", "take_profit", "size",
			"opened_at", "closed_at", "exit_price", "exit_reason",
			"state", "points",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting positions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing positions transaction: %w", err)
	}

	c.logger.Info("Saved positions", "run_id", runID, "count", copyCount)
	return int(copyCount), nil
}

// Persist saves a run summary and its positions in one workflow. The run row
// is written first so positions can reference it by foreign key.
func (c *Client) Persist(ctx context.Context, run RunRecord, positions []types.Position) (int64, int, error) {
	runID, err := c.SaveRun(ctx, run)
	if err != nil {
		return 0, 0, fmt.Errorf("saving run: %w", err)
	}

	count, err := c.SavePositions(ctx, runID, positions)
	if err != nil {
		return runID, 0, fmt.Errorf("saving positions: %w", err)
	}
	return runID, count, nil
}
