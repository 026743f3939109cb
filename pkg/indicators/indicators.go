// Package indicators provides the window math used by the breakout filters
// and the volatility-based stop policy. All functions are pure; they return
// (value, false) when the window is too short rather than guessing.
package indicators

import (
	"math"

	"github.com/tradeforge/boxbot/pkg/types"
)

// Mean returns the arithmetic mean of values, and false for an empty slice.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return math.NaN(), false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

// SMA returns the simple moving average of the trailing `period` closes.
func SMA(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return math.NaN(), false
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period), true
}

// ATR returns the average true range over the trailing `period` bars.
// True range is max(high-low, |high-prevClose|, |low-prevClose|); one extra
// bar is required to seed the previous close.
func ATR(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN(), false
	}
	window := bars[len(bars)-period-1:]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		sum += trueRange(window[i], window[i-1].Close)
	}
	return sum / float64(period), true
}

func trueRange(bar types.Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	if hc := math.Abs(bar.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(bar.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}

// RSI returns the relative strength index over the trailing `period` closes,
// using the simple-average form. A window with no losses returns 100.
func RSI(bars []types.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN(), false
	}
	window := bars[len(bars)-period-1:]
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		delta := window[i].Close - window[i-1].Close
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	if loss == 0 {
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}
