package chanlun

import (
	"math"

	"chanlun-engine/internal/analysis/indicators"
)

// BuildStrokes connects consecutive fractals. Bottom to top is an up stroke,
// top to bottom a down stroke; any other pair is skipped. Power is the sum
// of |histogram| over the bar range the stroke spans, endpoints included.
func BuildStrokes(fractals []Fractal, histogram []float64) []Stroke {
	if len(fractals) < 2 {
		return nil
	}

	strokes := make([]Stroke, 0, len(fractals)-1)
	for i := 0; i+1 < len(fractals); i++ {
		start, end := fractals[i], fractals[i+1]

		var dir Direction
		switch {
		case start.Type == Bottom && end.Type == Top:
			dir = Up
		case start.Type == Top && end.Type == Bottom:
			dir = Down
		default:
			continue
		}

		strokes = append(strokes, Stroke{
			Start:     start,
			End:       end,
			Direction: dir,
			High:      math.Max(start.High, end.High),
			Low:       math.Min(start.Low, end.Low),
			Power:     strokePower(histogram, start.Index, end.Index),
		})
	}
	return strokes
}

func strokePower(histogram []float64, from, to int) float64 {
	if len(histogram) == 0 {
		return 0
	}
	return indicators.AbsArea(histogram, from, to)
}

// BuildSegments groups strokes into windows of three advancing by two, so
// neighbouring segments share one stroke.
func BuildSegments(strokes []Stroke) []Segment {
	if len(strokes) < 3 {
		return nil
	}

	var segments []Segment
	for i := 0; i+2 < len(strokes); i += 2 {
		window := strokes[i : i+3]
		seg := Segment{
			Strokes:   append([]Stroke(nil), window...),
			Direction: window[0].Direction,
			High:      window[0].High,
			Low:       window[0].Low,
		}
		for _, s := range window[1:] {
			seg.High = math.Max(seg.High, s.High)
			seg.Low = math.Min(seg.Low, s.Low)
		}
		segments = append(segments, seg)
	}
	return segments
}
