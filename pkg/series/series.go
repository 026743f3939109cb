// Package series implements the append-only OHLCV price series that all
// detection components read. Bars are validated on append: malformed or
// out-of-order bars are rejected with an error and the series is left
// unchanged, so processing can resume on the next valid bar.
package series

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// Sentinel input errors. Callers match them with errors.Is; a rejected bar is
// fatal only to that bar's processing.
var (
	ErrOutOfOrder = errors.New("bar timestamp not after previous bar")
	ErrMalformed  = errors.New("malformed bar")
)

// Series is an ordered, append-only sequence of bars.
type Series struct {
	bars []types.Bar
}

// New creates an empty series with the given initial capacity.
func New(capacity int) *Series {
	if capacity < 0 {
		capacity = 0
	}
	return &Series{bars: make([]types.Bar, 0, capacity)}
}

// FromBars builds a series from an existing slice, validating every bar.
func FromBars(bars []types.Bar) (*Series, error) {
	s := New(len(bars))
	for i, b := range bars {
		if err := s.Append(b); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}
	return s, nil
}

// Append validates and appends a bar. Timestamps must be strictly
// increasing; duplicates are rejected as out of order.
func (s *Series) Append(bar types.Bar) error {
	if err := s.Check(bar); err != nil {
		return err
	}
	s.bars = append(s.bars, bar)
	return nil
}

// Check reports whether the bar would be accepted by Append, without
// appending it. Callers that must stay side-effect free on rejected input
// vet the bar here before acting on it.
func (s *Series) Check(bar types.Bar) error {
	if err := validate(bar); err != nil {
		return err
	}
	if n := len(s.bars); n > 0 && !bar.Timestamp.After(s.bars[n-1].Timestamp) {
		return fmt.Errorf("%w: %s <= %s",
			ErrOutOfOrder, bar.Timestamp.Format(time.RFC3339), s.bars[n-1].Timestamp.Format(time.RFC3339))
	}
	return nil
}

func validate(bar types.Bar) error {
	if bar.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrMalformed)
	}
	for _, v := range [...]float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite field", ErrMalformed)
		}
	}
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrMalformed)
	}
	if bar.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrMalformed)
	}
	if bar.High < bar.Low {
		return fmt.Errorf("%w: high %.4f below low %.4f", ErrMalformed, bar.High, bar.Low)
	}
	return nil
}

// Len returns the number of bars in the series.
func (s *Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s *Series) At(i int) types.Bar { return s.bars[i] }

// Last returns the most recent bar and false when the series is empty.
func (s *Series) Last() (types.Bar, bool) {
	if len(s.bars) == 0 {
		return types.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Window returns the trailing n bars, or nil when fewer are available.
// The returned slice aliases the series storage and must not be mutated.
func (s *Series) Window(n int) []types.Bar {
	if n <= 0 || len(s.bars) < n {
		return nil
	}
	return s.bars[len(s.bars)-n:]
}

// Bars returns the full underlying slice. Read-only by convention.
func (s *Series) Bars() []types.Bar { return s.bars }

// Closes returns the trailing n close prices, or nil when fewer are available.
func (s *Series) Closes(n int) []float64 {
	w := s.Window(n)
	if w == nil {
		return nil
	}
	out := make([]float64, n)
	for i, b := range w {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the trailing n volumes, or nil when fewer are available.
func (s *Series) Volumes(n int) []float64 {
	w := s.Window(n)
	if w == nil {
		return nil
	}
	out := make([]float64, n)
	for i, b := range w {
		out[i] = b.Volume
	}
	return out
}

// GapExceeds reports whether the interval between the last bar and next is
// more than one bar interval (with a small allowance for clock jitter).
// Feed gaps invalidate any active consolidation box upstream.
func (s *Series) GapExceeds(next types.Bar, interval time.Duration) bool {
	last, ok := s.Last()
	if !ok || interval <= 0 {
		return false
	}
	return next.Timestamp.Sub(last.Timestamp) > interval+interval/2
}
