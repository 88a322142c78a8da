package chanlun

import (
	"fmt"
	"strings"
)

const (
	dateLayout = "2006-01-02"

	insufficientDataSummary = "insufficient data, Chan analysis not completed"
)

func summarizeFractals(fractals []Fractal) string {
	if len(fractals) == 0 {
		return "no valid fractals"
	}
	tops := len(fractalsOfType(fractals, Top))
	last := fractals[len(fractals)-1]
	return fmt.Sprintf("%d fractals (%d top/%d bottom), latest is a %s (%s)",
		len(fractals), tops, len(fractals)-tops, last.Type.Label(), last.Date.Format(dateLayout))
}

func summarizeStrokes(strokes []Stroke) string {
	if len(strokes) == 0 {
		return "no valid strokes"
	}
	up := 0
	for _, s := range strokes {
		if s.Direction == Up {
			up++
		}
	}
	return fmt.Sprintf("%d strokes (%d up/%d down), currently %s",
		len(strokes), up, len(strokes)-up, strokes[len(strokes)-1].Direction)
}

func summarizeSegments(segments []Segment) string {
	if len(segments) == 0 {
		return "no valid segments"
	}
	last := segments[len(segments)-1]
	return fmt.Sprintf("%d segments, currently %s (high %.2f/low %.2f)",
		len(segments), last.Direction, last.High, last.Low)
}

// Describe renders a price position the way reports quote it.
func (p PricePosition) Describe() string {
	switch p.Zone {
	case ZoneAbove:
		return fmt.Sprintf("above pivot (+%.1f%%)", p.Percent)
	case ZoneBelow:
		return fmt.Sprintf("below pivot (-%.1f%%)", p.Percent)
	case ZoneInside:
		return fmt.Sprintf("inside pivot (%.0f%% position)", p.Percent)
	}
	return "unknown"
}

func summarizePivot(p Pivot, pos PricePosition) string {
	return fmt.Sprintf("pivot range [%.2f, %.2f], price %s", p.ZD, p.ZG, pos.Describe())
}

func summarizeDivergence(sig DivergenceSignal, strokes, window int) string {
	switch {
	case strokes < window:
		return "not enough strokes to judge divergence"
	case !sig.Compared:
		return "no earlier stroke in the same direction, divergence not judged"
	}

	if !sig.Declared() {
		return fmt.Sprintf("no divergence, power ratio %.1f%%", sig.Ratio*100)
	}

	prefix := ""
	if sig.Type == RangeDivergence {
		prefix = "inside the pivot, "
	}
	switch sig.Direction {
	case Down:
		return fmt.Sprintf("%sbottom divergence: decline momentum fell to %.1f%% of the previous leg, bulls are about to counterattack", prefix, sig.Ratio*100)
	case Up:
		return fmt.Sprintf("%stop divergence: rally momentum fell to %.1f%% of the previous leg, bears are about to counterattack", prefix, sig.Ratio*100)
	}
	return fmt.Sprintf("divergence, power ratio %.1f%%", sig.Ratio*100)
}

// compositeSummary joins the trend, pivot, divergence, signal and level
// sections. Sections without content are left out.
func compositeSummary(r *Result) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[trend] %s: %s", r.Trend, r.TrendSummary))

	if r.CurrentPivot != nil {
		parts = append(parts, "[pivot] "+r.PivotSummary)
	}
	if r.Divergence.Declared() {
		parts = append(parts, "[divergence] "+r.DivergenceSummary)
	}
	if r.Point != NoPoint {
		parts = append(parts, fmt.Sprintf("[signal] %s: %s", r.Point.Label(), r.PointReason))
	}

	if zg, ok := r.KeyLevels.Get(LevelPivotZG); ok {
		zd, _ := r.KeyLevels.Get(LevelPivotZD)
		parts = append(parts, fmt.Sprintf("[levels] pivot top %.2f, pivot bottom %.2f", zg, zd))
	}
	if sl, ok := r.KeyLevels.Get(LevelStopLoss); ok {
		parts = append(parts, fmt.Sprintf("[stop] %.2f", sl))
	}

	return strings.Join(parts, "\n")
}
