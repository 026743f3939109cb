// Package consolidation implements range (box) detection over a trailing
// window of bars. The detector is a pure function of its window: it either
// confirms a qualifying consolidation and returns its bounds, or returns nil.
package consolidation

import (
	"github.com/tradeforge/boxbot/pkg/types"
)

// Detector qualifies consolidation boxes.
//
// Tolerance is the consolidation qualification band: a window qualifies when
// (maxHigh - minLow) / lastClose <= Tolerance. This parameter is deliberately
// distinct from the breakout package's minimum breakout strength, even though
// both default from the same historical 0.15% figure.
type Detector struct {
	// Periods is the number of trailing bars a box is measured over.
	Periods int

	// Tolerance is the maximum range-to-price ratio that still counts as
	// consolidation.
	Tolerance float64

	// MinBoundaryTouches optionally requires the window to have touched the
	// box edges this many times (highs near the top plus lows near the
	// bottom). Zero disables the quality check.
	MinBoundaryTouches int
}

// touchBand is the fraction of the range width within which a bar extreme
// counts as touching a boundary.
const touchBand = 0.1

// Evaluate scans the window and returns a confirmed box, or nil when the
// window is too short or its range exceeds the tolerance. endIndex is the
// series index of the window's last bar; box indices are series-relative.
//
// Flat windows (range width zero) still qualify; downstream consumers must
// guard divisions by RangeWidth.
func (d Detector) Evaluate(window []types.Bar, endIndex int) *types.ConsolidationBox {
	if d.Periods < 2 || len(window) < d.Periods {
		return nil
	}
	window = window[len(window)-d.Periods:]

	high := window[0].High
	low := window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}

	width := high - low
	last := window[len(window)-1].Close
	if last <= 0 || width/last > d.Tolerance {
		return nil
	}

	box := &types.ConsolidationBox{
		HighLevel:  high,
		LowLevel:   low,
		StartIndex: endIndex - d.Periods + 1,
		EndIndex:   endIndex,
		RangeWidth: width,
	}

	if d.MinBoundaryTouches > 0 && countTouches(window, box) < d.MinBoundaryTouches {
		return nil
	}
	return box
}

// countTouches counts bars whose high comes within the touch band of the box
// top plus bars whose low comes within the band of the bottom. A zero-width
// box counts every bar as touching both edges.
func countTouches(window []types.Bar, box *types.ConsolidationBox) int {
	threshold := box.RangeWidth * touchBand
	touches := 0
	for _, b := range window {
		if box.HighLevel-b.High <= threshold {
			touches++
		}
		if b.Low-box.LowLevel <= threshold {
			touches++
		}
	}
	return touches
}
