package chanlun

import (
	"fmt"
	"strings"
)

// Format renders result as a fixed text block. Sections appear in this
// order: header, score, recommendation, trend, fractal/stroke/segment
// summaries, pivot (if any), divergence (if declared), buy/sell point (if
// any), key levels. Report parsers depend on the order.
func Format(r *Result) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("=== %s Chan analysis ===", r.Code)
	line("")
	line("Score: %d/100", r.Score)
	line("Recommendation: %s", r.Recommendation)
	line("")
	line("Trend: %s", r.Trend)
	line("   %s", r.TrendSummary)
	line("")
	line("Fractals: %s", r.FractalSummary)
	line("Strokes: %s", r.StrokeSummary)
	line("Segments: %s", r.SegmentSummary)
	line("")

	if r.CurrentPivot != nil {
		line("Pivot:")
		line("   %s", r.PivotSummary)
		line("   Price position: %s", r.PositionSummary)
		line("")
	}

	if r.Divergence.Declared() {
		line("Divergence:")
		line("   Type: %s", r.Divergence.Type)
		line("   %s", r.DivergenceSummary)
		line("")
	}

	if r.Point != NoPoint {
		line("Buy/sell point:")
		line("   Signal: %s", r.Point.Label())
		line("   %s", r.PointReason)
		line("")
	}

	if len(r.KeyLevels) > 0 {
		line("Key levels:")
		levels := []struct {
			key   LevelKey
			label string
		}{
			{LevelCurrentPrice, "Current price"},
			{LevelPivotZG, "Pivot top"},
			{LevelPivotZD, "Pivot bottom"},
			{LevelStopLoss, "Stop loss"},
			{LevelTarget, "Target"},
		}
		for _, l := range levels {
			if v, ok := r.KeyLevels.Get(l.key); ok {
				line("   %s: %.2f", l.label, v)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
