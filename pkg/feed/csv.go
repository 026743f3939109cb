// Package feed provides the bar sources consumed by the engine: CSV files
// for backtests, a REST client for historical backfill, and a WebSocket
// client for live bars. The engine itself never performs I/O; these sources
// run outside the step loop and hand it validated bars in timestamp order.
package feed

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// LoadCSV loads bars from a CSV file with a header row. Required columns:
// timestamp, open, high, low, close, volume. Extra columns are ignored.
func LoadCSV(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header + at least 1 data row")
	}

	headers := records[0]
	colIdx := make(map[string]int)
	for i, h := range headers {
		colIdx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, col := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	bars := make([]types.Bar, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		if len(row) != len(headers) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", rowNum+2, len(headers), len(row))
		}

		ts, err := ParseTimestamp(row[colIdx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", rowNum+2, err)
		}

		bar := types.Bar{Timestamp: ts}
		for col, dst := range map[string]*float64{
			"open":   &bar.Open,
			"high":   &bar.High,
			"low":    &bar.Low,
			"close":  &bar.Close,
			"volume": &bar.Volume,
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[colIdx[col]]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %w", rowNum+2, col, err)
			}
			*dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ParseTimestamp tries multiple timestamp formats.
func ParseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}
