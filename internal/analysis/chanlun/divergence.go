package chanlun

const (
	// DefaultDivergenceThreshold is the golden-ratio power ratio below which
	// a stroke is considered exhausted.
	DefaultDivergenceThreshold = 0.618
	// DefaultDivergenceWindow is how many trailing strokes are searched.
	DefaultDivergenceWindow = 5
)

// DivergenceDetector compares the momentum power of the latest stroke
// with the nearest earlier stroke of the same direction.
type DivergenceDetector struct {
	threshold float64
	window    int
}

// NewDivergenceDetector creates a detector. Non-positive arguments select
// the defaults.
func NewDivergenceDetector(threshold float64, window int) *DivergenceDetector {
	if threshold <= 0 {
		threshold = DefaultDivergenceThreshold
	}
	if window <= 0 {
		window = DefaultDivergenceWindow
	}
	return &DivergenceDetector{threshold: threshold, window: window}
}

func (d *DivergenceDetector) Name() string {
	return "DivergenceDetector"
}

// Detect evaluates the trailing strokes. current may be nil; when both
// compared strokes belong to it the divergence is a range divergence.
func (d *DivergenceDetector) Detect(strokes []Stroke, current *Pivot) DivergenceSignal {
	if len(strokes) < d.window {
		return DivergenceSignal{}
	}

	base := len(strokes) - d.window
	recent := strokes[base:]
	last := recent[len(recent)-1]
	lastIdx := len(strokes) - 1

	prevIdx := -1
	for k := len(recent) - 2; k >= 0; k-- {
		if recent[k].Direction == last.Direction {
			prevIdx = base + k
			break
		}
	}
	if prevIdx < 0 {
		return DivergenceSignal{Direction: last.Direction}
	}

	ratio := 1.0
	if prev := strokes[prevIdx]; prev.Power > 0 {
		ratio = last.Power / prev.Power
	}

	sig := DivergenceSignal{
		Ratio:     ratio,
		Direction: last.Direction,
		Compared:  true,
	}
	if ratio < d.threshold {
		sig.Type = TrendDivergence
		if current != nil && current.Contains(prevIdx) && current.Contains(lastIdx) {
			sig.Type = RangeDivergence
		}
	}
	return sig
}
