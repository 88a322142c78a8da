package chanlun

import "fmt"

const (
	stopLossMargin = 0.03
	// keyLevelFractals is how many trailing fractals feed recent_top/recent_bottom.
	keyLevelFractals = 10
)

// pointInput is what the buy/sell point rules look at.
type pointInput struct {
	price      float64
	divergence DivergenceSignal
	fractals   []Fractal
	strokes    []Stroke
	pivot      *Pivot
}

// classifyPoint applies the buy/sell point rules in priority order: a
// declared divergence, then a third-class pivot exit, then a second-class
// fractal comparison.
func classifyPoint(in pointInput) (BuySellPoint, string) {
	var last *Stroke
	if n := len(in.strokes); n > 0 {
		last = &in.strokes[n-1]
	}

	if in.divergence.Declared() && last != nil {
		switch last.Direction {
		case Down:
			return Buy1, "bottom divergence: the decline is losing momentum, first-class buy point"
		case Up:
			return Sell1, "top divergence: the rally is losing momentum, first-class sell point"
		}
	}

	if p := in.pivot; p != nil && last != nil {
		switch {
		case in.price > p.ZG:
			if last.Direction == Down && last.Low > p.ZG {
				return Buy3, fmt.Sprintf("pulled back after leaving the pivot, low %.2f held above pivot top %.2f, third-class buy point", last.Low, p.ZG)
			}
		case in.price < p.ZD:
			if last.Direction == Up && last.High < p.ZD {
				return Sell3, fmt.Sprintf("rebounded after leaving the pivot, high %.2f stayed below pivot bottom %.2f, third-class sell point", last.High, p.ZD)
			}
		}
	}

	if len(in.strokes) >= 4 && len(in.fractals) > 0 {
		lastFx := in.fractals[len(in.fractals)-1]
		same := fractalsOfType(in.fractals, lastFx.Type)
		if len(same) >= 2 {
			prev := same[len(same)-2]
			switch lastFx.Type {
			case Bottom:
				if lastFx.Low > prev.Low {
					return Buy2, fmt.Sprintf("pullback low %.2f held above the previous low %.2f, second-class buy point", lastFx.Low, prev.Low)
				}
			case Top:
				if lastFx.High < prev.High {
					return Sell2, fmt.Sprintf("rebound high %.2f failed below the previous high %.2f, second-class sell point", lastFx.High, prev.High)
				}
			}
		}
	}

	return NoPoint, "no clear buy/sell point"
}

func fractalsOfType(fractals []Fractal, t FractalType) []Fractal {
	var out []Fractal
	for _, fx := range fractals {
		if fx.Type == t {
			out = append(out, fx)
		}
	}
	return out
}

// classifyTrend derives the large-scale trend from the pivot sequence, or
// from the last stroke when there is no pivot.
func classifyTrend(pivots []Pivot, strokes []Stroke) (TrendType, string) {
	switch len(pivots) {
	case 0:
		if len(strokes) == 0 {
			return Consolidation, "not enough structure to determine the trend"
		}
		switch strokes[len(strokes)-1].Direction {
		case Up:
			return UpTrend, "no pivot, currently in an up stroke"
		case Down:
			return DownTrend, "no pivot, currently in a down stroke"
		}
		return Consolidation, "not enough structure to determine the trend"
	case 1:
		return Consolidation, "a single pivot has formed, the market is consolidating"
	}

	last, prev := pivots[len(pivots)-1], pivots[len(pivots)-2]
	switch {
	case last.ZD > prev.ZG:
		return UpTrend, "pivots are stepping higher, the uptrend is established"
	case last.ZG < prev.ZD:
		return DownTrend, "pivots are stepping lower, the downtrend is established"
	default:
		return Consolidation, "pivots overlap, large-scale consolidation"
	}
}

var pointScores = map[BuySellPoint]int{
	NoPoint: 0,
	Buy1:    25,
	Buy3:    20,
	Buy2:    15,
	Sell1:   -25,
	Sell3:   -20,
	Sell2:   -15,
}

// score combines trend, buy/sell point, divergence and pivot position into
// a value clamped to [0, 100].
func score(r *Result) int {
	s := 50

	switch r.Trend {
	case UpTrend:
		s += 15
	case DownTrend:
		s -= 15
	}

	s += pointScores[r.Point]

	if r.Divergence.Declared() {
		if r.LastStroke != nil && r.LastStroke.Direction == Down {
			s += 15
		} else {
			s -= 15
		}
	}

	if r.PricePosition != nil {
		switch r.PricePosition.Zone {
		case ZoneAbove:
			s += 10
		case ZoneBelow:
			s -= 10
		}
	}

	return clampScore(s)
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// keyLevels collects display levels. Stop loss and target are only set
// while a buy or sell point is active.
func keyLevels(r *Result, price float64) KeyLevels {
	levels := KeyLevels{LevelCurrentPrice: price}

	if p := r.CurrentPivot; p != nil {
		levels[LevelPivotZG] = p.ZG
		levels[LevelPivotZD] = p.ZD
		levels[LevelPivotGG] = p.GG
		levels[LevelPivotDD] = p.DD
	}

	recent := r.Fractals
	if len(recent) > keyLevelFractals {
		recent = recent[len(recent)-keyLevelFractals:]
	}
	var haveTop, haveBottom bool
	for _, fx := range recent {
		switch fx.Type {
		case Top:
			if !haveTop || fx.High > levels[LevelRecentTop] {
				levels[LevelRecentTop] = fx.High
				haveTop = true
			}
		case Bottom:
			if !haveBottom || fx.Low < levels[LevelRecentBottom] {
				levels[LevelRecentBottom] = fx.Low
				haveBottom = true
			}
		}
	}

	switch {
	case r.Point.IsBuy():
		if r.CurrentPivot != nil {
			levels[LevelStopLoss] = r.CurrentPivot.ZD * (1 - stopLossMargin)
		} else if r.LastStroke != nil {
			levels[LevelStopLoss] = r.LastStroke.Low * (1 - stopLossMargin)
		}
		if haveTop {
			levels[LevelTarget] = levels[LevelRecentTop]
		}
	case r.Point.IsSell():
		if r.CurrentPivot != nil {
			levels[LevelStopLoss] = r.CurrentPivot.ZG * (1 + stopLossMargin)
		} else if r.LastStroke != nil {
			levels[LevelStopLoss] = r.LastStroke.High * (1 + stopLossMargin)
		}
		if haveBottom {
			levels[LevelTarget] = levels[LevelRecentBottom]
		}
	}

	return levels
}
