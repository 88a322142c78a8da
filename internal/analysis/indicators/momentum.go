// Package indicators computes the momentum oscillator the structural
// analysis consumes.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

var (
	// ErrInsufficientData is returned when the series is too short.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned for a non-positive or inverted period.
	ErrInvalidPeriod = errors.New("invalid period")
)

// MomentumPoint is the oscillator state of a single bar.
type MomentumPoint struct {
	Dif       float64
	Dea       float64
	Histogram float64
}

// MomentumSource selects the implementation behind a Momentum calculator.
type MomentumSource string

const (
	// SourceEMA seeds each average with the first observation (no warm-up).
	SourceEMA MomentumSource = "ema"
	// SourceTalib delegates to TA-Lib, whose averages are SMA-seeded and
	// leave the warm-up window at zero.
	SourceTalib MomentumSource = "talib"
)

// ParseMomentumSource converts a configuration value to a MomentumSource.
func ParseMomentumSource(s string) (MomentumSource, error) {
	switch MomentumSource(s) {
	case SourceEMA, "":
		return SourceEMA, nil
	case SourceTalib:
		return SourceTalib, nil
	}
	return "", fmt.Errorf("unknown momentum source %q", s)
}

// Momentum computes the fast/slow moving-average oscillator used as the
// strength proxy of strokes.
type Momentum struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	source       MomentumSource
}

// NewMomentum creates a Momentum calculator. The usual periods are 12, 26, 9.
func NewMomentum(fast, slow, signal int, source MomentumSource) *Momentum {
	if source == "" {
		source = SourceEMA
	}
	return &Momentum{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
		source:       source,
	}
}

func (m *Momentum) Name() string {
	return fmt.Sprintf("Momentum_%s_%d_%d_%d", m.source, m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

func (m *Momentum) Period() int {
	return m.slowPeriod + m.signalPeriod - 1
}

// Calculate returns one MomentumPoint per close.
func (m *Momentum) Calculate(closes []float64) ([]MomentumPoint, error) {
	if m.fastPeriod <= 0 || m.slowPeriod <= 0 || m.signalPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(closes) == 0 {
		return nil, ErrInsufficientData
	}

	switch m.source {
	case SourceEMA:
		return m.calculateEMA(closes), nil
	case SourceTalib:
		return m.calculateTalib(closes)
	}
	return nil, fmt.Errorf("unknown momentum source %q", m.source)
}

func (m *Momentum) calculateEMA(closes []float64) []MomentumPoint {
	fast := RecursiveEMA(closes, m.fastPeriod)
	slow := RecursiveEMA(closes, m.slowPeriod)

	dif := make([]float64, len(closes))
	for i := range closes {
		dif[i] = fast[i] - slow[i]
	}
	dea := RecursiveEMA(dif, m.signalPeriod)

	points := make([]MomentumPoint, len(closes))
	for i := range closes {
		points[i] = MomentumPoint{
			Dif:       dif[i],
			Dea:       dea[i],
			Histogram: 2 * (dif[i] - dea[i]),
		}
	}
	return points
}

func (m *Momentum) calculateTalib(closes []float64) ([]MomentumPoint, error) {
	if len(closes) < m.Period() {
		return nil, ErrInsufficientData
	}
	dif, dea, hist := talib.Macd(closes, m.fastPeriod, m.slowPeriod, m.signalPeriod)

	points := make([]MomentumPoint, len(closes))
	for i := range closes {
		if i >= len(dif) || i >= len(dea) || i >= len(hist) {
			break
		}
		points[i] = MomentumPoint{
			Dif:       dif[i],
			Dea:       dea[i],
			Histogram: 2 * hist[i],
		}
	}
	return points, nil
}

// RecursiveEMA is an exponential moving average with smoothing 2/(span+1)
// seeded with the first value, so every index carries a value.
func RecursiveEMA(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	result := make([]float64, len(values))
	result[0] = values[0]
	for i := 1; i < len(values); i++ {
		result[i] = alpha*values[i] + (1-alpha)*result[i-1]
	}
	return result
}

// Histogram extracts the histogram column of a momentum series.
func Histogram(points []MomentumPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Histogram
	}
	return out
}

// AbsArea sums |values[i]| over the inclusive index range [from, to],
// clamped to the slice bounds.
func AbsArea(values []float64, from, to int) float64 {
	if from > to {
		from, to = to, from
	}
	if from < 0 {
		from = 0
	}
	if to >= len(values) {
		to = len(values) - 1
	}
	var area float64
	for i := from; i <= to; i++ {
		area += math.Abs(values[i])
	}
	return area
}
