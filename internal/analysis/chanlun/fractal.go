package chanlun

// DefaultMinFractalGap is the minimum index distance between an accepted
// fractal and the next one of the opposite type. It counts the three bars
// of the fractal itself.
const DefaultMinFractalGap = 4

// FractalDetector finds turning points in a normalized bar series.
type FractalDetector struct {
	minGap int
}

// NewFractalDetector creates a detector. A non-positive gap selects the default.
func NewFractalDetector(minGap int) *FractalDetector {
	if minGap <= 0 {
		minGap = DefaultMinFractalGap
	}
	return &FractalDetector{minGap: minGap}
}

func (d *FractalDetector) Name() string {
	return "FractalDetector"
}

// Detect returns the filtered, strictly alternating fractals of bars.
func (d *FractalDetector) Detect(bars []NormalizedBar) []Fractal {
	return d.Filter(RawFractals(bars))
}

// RawFractals returns every interior bar whose adjusted high exceeds both
// neighbours (top) or, failing that, whose adjusted low is below both
// neighbours (bottom). The first and last bar can never be fractals.
func RawFractals(bars []NormalizedBar) []Fractal {
	var out []Fractal
	for i := 1; i < len(bars)-1; i++ {
		prev, curr, next := bars[i-1], bars[i], bars[i+1]

		var t FractalType
		switch {
		case curr.High > prev.High && curr.High > next.High:
			t = Top
		case curr.Low < prev.Low && curr.Low < next.Low:
			t = Bottom
		default:
			continue
		}

		out = append(out, Fractal{
			Index: i,
			Type:  t,
			High:  curr.High,
			Low:   curr.Low,
			Date:  curr.Date,
		})
	}
	return out
}

// Filter enforces alternation. A fractal of the same type as the last
// accepted one replaces it when more extreme. An opposite-type fractal
// closer than the minimum gap is dropped, not merged.
func (d *FractalDetector) Filter(raw []Fractal) []Fractal {
	if len(raw) == 0 {
		return nil
	}

	filtered := []Fractal{raw[0]}
	for _, fx := range raw[1:] {
		last := &filtered[len(filtered)-1]

		if fx.Type == last.Type {
			if moreExtreme(fx, *last) {
				*last = fx
			}
			continue
		}

		if fx.Index-last.Index >= d.minGap {
			filtered = append(filtered, fx)
		}
	}
	return filtered
}

func moreExtreme(a, b Fractal) bool {
	switch a.Type {
	case Top:
		return a.High > b.High
	case Bottom:
		return a.Low < b.Low
	}
	return false
}
