// Package breakout decides whether a bar breaks out of an active
// consolidation box and whether the configured confirmation filters agree.
//
// The evaluator is pure. All filters are independently toggleable and
// compose with logical AND; with every filter disabled the evaluator reduces
// to the raw boundary-break test. The caller discards the box whether or not
// a signal is produced: a boundary touch ends that consolidation episode.
package breakout

import (
	"github.com/tradeforge/boxbot/pkg/indicators"
	"github.com/tradeforge/boxbot/pkg/types"
)

// DefaultVolumeLookback is the number of preceding bars averaged for the
// volume confirmation filter.
const DefaultVolumeLookback = 20

// Evaluator applies the boundary-break test plus optional confirmation
// filters to the newest bar.
type Evaluator struct {
	// MinStrength requires the close to exceed the boundary by at least this
	// fraction of the box range width. Zero or negative disables the filter.
	MinStrength float64

	// VolumeMultiplier requires bar volume >= multiplier * average volume
	// over VolumeLookback preceding bars. Zero or negative disables.
	VolumeMultiplier float64

	// VolumeLookback is the averaging window for the volume filter.
	// Zero means DefaultVolumeLookback.
	VolumeLookback int

	// TrendPeriod requires direction agreement with the close relative to
	// this SMA period. Zero or negative disables.
	TrendPeriod int

	// RSIPeriod enables the overbought/oversold veto when positive:
	// Buy is rejected above RSIOverbought, Sell below RSIOversold.
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
}

// Evaluate inspects bars[idx] against the box. It returns a confirmed signal
// or nil. bars must be the series the box was detected on so the filters can
// look back past the trigger bar.
func (e Evaluator) Evaluate(box *types.ConsolidationBox, bars []types.Bar, idx int) *types.BreakoutSignal {
	if box == nil || idx < 0 || idx >= len(bars) {
		return nil
	}
	bar := bars[idx]

	var direction types.Direction
	var strength float64
	switch {
	case bar.Close > box.HighLevel:
		direction = types.Buy
		strength = bar.Close - box.HighLevel
	case bar.Close < box.LowLevel:
		direction = types.Sell
		strength = box.LowLevel - bar.Close
	default:
		return nil
	}

	if e.MinStrength > 0 && strength < e.MinStrength*box.RangeWidth {
		return nil
	}

	volumeRatio := 0.0
	if e.VolumeMultiplier > 0 {
		ratio, ok := e.volumeRatio(bars, idx)
		if ok {
			volumeRatio = ratio
			if ratio < e.VolumeMultiplier {
				return nil
			}
		}
		// Too little history to average: the filter passes rather than
		// starving the strategy at series start.
	}

	trendAligned := false
	if e.TrendPeriod > 0 {
		ma, ok := indicators.SMA(bars[:idx+1], e.TrendPeriod)
		if !ok {
			return nil
		}
		trendAligned = (direction == types.Buy && bar.Close > ma) ||
			(direction == types.Sell && bar.Close < ma)
		if !trendAligned {
			return nil
		}
	}

	if e.RSIPeriod > 0 {
		if rsi, ok := indicators.RSI(bars[:idx+1], e.RSIPeriod); ok {
			if direction == types.Buy && rsi > e.RSIOverbought {
				return nil
			}
			if direction == types.Sell && rsi < e.RSIOversold {
				return nil
			}
		}
	}

	return &types.BreakoutSignal{
		Direction:    direction,
		TriggerPrice: bar.Close,
		TriggerIndex: idx,
		Strength:     strength,
		VolumeRatio:  volumeRatio,
		TrendAligned: trendAligned,
	}
}

// volumeRatio computes bar volume relative to the average of the preceding
// lookback bars.
func (e Evaluator) volumeRatio(bars []types.Bar, idx int) (float64, bool) {
	lookback := e.VolumeLookback
	if lookback <= 0 {
		lookback = DefaultVolumeLookback
	}
	if idx < lookback {
		return 0, false
	}
	sum := 0.0
	for _, b := range bars[idx-lookback : idx] {
		sum += b.Volume
	}
	avg := sum / float64(lookback)
	if avg <= 0 {
		return 0, false
	}
	return bars[idx].Volume / avg, true
}
