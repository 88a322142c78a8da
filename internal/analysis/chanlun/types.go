// Package chanlun implements the Chan pattern engine: it turns a daily bar
// series into fractals, strokes, segments and pivots, measures momentum
// divergence between strokes and classifies the result into buy/sell
// points, a trend type and a 0-100 score.
package chanlun

import (
	"time"

	"chanlun-engine/internal/models"
	"chanlun-engine/internal/statemachine"
)

// NormalizedBar is a bar after inclusion processing. High and Low are the
// adjusted geometry used by every later stage; Bar keeps the original OHLC.
type NormalizedBar struct {
	models.Bar
	Index int
	High  float64
	Low   float64
}

// FractalType is the kind of turning point.
type FractalType int

const (
	Top FractalType = iota + 1
	Bottom
)

func (t FractalType) String() string {
	switch t {
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	}
	return "none"
}

// Label returns the human-readable name used in summaries.
func (t FractalType) Label() string {
	switch t {
	case Top:
		return "top fractal"
	case Bottom:
		return "bottom fractal"
	}
	return "no fractal"
}

// Fractal is a three-bar local extremum of the normalized series.
type Fractal struct {
	Index int         `json:"index"`
	Type  FractalType `json:"type"`
	High  float64     `json:"high"`
	Low   float64     `json:"low"`
	Date  time.Time   `json:"date"`
}

// Value is the extreme that defines the fractal: high for a top, low for a bottom.
func (f Fractal) Value() float64 {
	if f.Type == Top {
		return f.High
	}
	return f.Low
}

// Direction is the direction of a stroke or segment.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "none"
}

// StrokeLabel returns the state machine label a fresh stroke in this direction proposes.
func (d Direction) StrokeLabel() models.StrokeLabel {
	switch d {
	case Up:
		return models.LabelUpStroke
	case Down:
		return models.LabelDownStroke
	}
	return models.LabelUnknown
}

// Stroke connects two consecutive alternating fractals.
type Stroke struct {
	Start     Fractal   `json:"start"`
	End       Fractal   `json:"end"`
	Direction Direction `json:"direction"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Power     float64   `json:"power"`
}

// Segment is a window of three consecutive strokes.
type Segment struct {
	Strokes   []Stroke  `json:"strokes"`
	Direction Direction `json:"direction"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
}

// Pivot is the overlap range of three or more consecutive strokes.
type Pivot struct {
	// First and Last are the indices of the first and last member stroke.
	First     int       `json:"first"`
	Last      int       `json:"last"`
	Strokes   []Stroke  `json:"strokes"`
	ZG        float64   `json:"zg"`
	ZD        float64   `json:"zd"`
	GG        float64   `json:"gg"`
	DD        float64   `json:"dd"`
	Direction Direction `json:"direction"`
}

// Range is the width of the pivot's overlap band.
func (p Pivot) Range() float64 {
	return p.ZG - p.ZD
}

// Center is the midpoint of the overlap band.
func (p Pivot) Center() float64 {
	return (p.ZG + p.ZD) / 2
}

// Contains reports whether stroke index i is a member of the pivot.
func (p Pivot) Contains(i int) bool {
	return i >= p.First && i <= p.Last
}

// PriceZone places a price relative to a pivot.
type PriceZone int

const (
	ZoneInside PriceZone = iota + 1
	ZoneAbove
	ZoneBelow
)

func (z PriceZone) String() string {
	switch z {
	case ZoneInside:
		return "inside"
	case ZoneAbove:
		return "above"
	case ZoneBelow:
		return "below"
	}
	return "unknown"
}

// PricePosition is a price's location relative to the current pivot.
// Percent is the overshoot above ZG, the undershoot below ZD, or the
// 0-100 position inside [ZD, ZG].
type PricePosition struct {
	Zone    PriceZone `json:"zone"`
	Percent float64   `json:"percent"`
}

// DivergenceType distinguishes how a divergence was established.
type DivergenceType int

const (
	NoDivergence DivergenceType = iota
	TrendDivergence
	RangeDivergence
)

func (t DivergenceType) String() string {
	switch t {
	case NoDivergence:
		return "none"
	case TrendDivergence:
		return "trend divergence"
	case RangeDivergence:
		return "range divergence"
	}
	return "unknown"
}

// DivergenceSignal is the result of comparing the latest stroke's power
// against the nearest prior stroke of the same direction.
type DivergenceSignal struct {
	Type      DivergenceType `json:"type"`
	Ratio     float64        `json:"ratio"`
	Direction Direction      `json:"direction"`
	Compared  bool           `json:"compared"`
}

// Declared reports whether a divergence was found.
func (d DivergenceSignal) Declared() bool {
	return d.Type != NoDivergence
}

// Bottom reports a bottom divergence: a weakening decline.
func (d DivergenceSignal) Bottom() bool {
	return d.Declared() && d.Direction == Down
}

// Top reports a top divergence: a weakening rally.
func (d DivergenceSignal) Top() bool {
	return d.Declared() && d.Direction == Up
}

// BuySellPoint is the classified trading opportunity.
type BuySellPoint int

const (
	NoPoint BuySellPoint = iota
	Buy1
	Buy2
	Buy3
	Sell1
	Sell2
	Sell3
)

func (p BuySellPoint) String() string {
	switch p {
	case NoPoint:
		return "none"
	case Buy1:
		return "buy1"
	case Buy2:
		return "buy2"
	case Buy3:
		return "buy3"
	case Sell1:
		return "sell1"
	case Sell2:
		return "sell2"
	case Sell3:
		return "sell3"
	}
	return "unknown"
}

// Label returns the display name of the point.
func (p BuySellPoint) Label() string {
	switch p {
	case NoPoint:
		return "no buy/sell point"
	case Buy1:
		return "first-class buy"
	case Buy2:
		return "second-class buy"
	case Buy3:
		return "third-class buy"
	case Sell1:
		return "first-class sell"
	case Sell2:
		return "second-class sell"
	case Sell3:
		return "third-class sell"
	}
	return "unknown"
}

// IsBuy reports whether p is one of the buy points.
func (p BuySellPoint) IsBuy() bool {
	return p == Buy1 || p == Buy2 || p == Buy3
}

// IsSell reports whether p is one of the sell points.
func (p BuySellPoint) IsSell() bool {
	return p == Sell1 || p == Sell2 || p == Sell3
}

// TrendType is the large-scale structure of the series.
type TrendType int

const (
	Consolidation TrendType = iota
	UpTrend
	DownTrend
)

func (t TrendType) String() string {
	switch t {
	case Consolidation:
		return "consolidation"
	case UpTrend:
		return "uptrend"
	case DownTrend:
		return "downtrend"
	}
	return "unknown"
}

// Recommendation is the five-tier reading of the score.
type Recommendation int

const (
	RecommendSell Recommendation = iota
	RecommendReduce
	RecommendHold
	RecommendBuy
	RecommendStrongBuy
)

// RecommendationFor maps a score onto its tier.
func RecommendationFor(score int) Recommendation {
	switch {
	case score >= 80:
		return RecommendStrongBuy
	case score >= 65:
		return RecommendBuy
	case score >= 50:
		return RecommendHold
	case score >= 35:
		return RecommendReduce
	default:
		return RecommendSell
	}
}

// Tier is the short machine-readable name of the recommendation.
func (r Recommendation) Tier() string {
	switch r {
	case RecommendStrongBuy:
		return "strong_buy"
	case RecommendBuy:
		return "buy"
	case RecommendHold:
		return "hold"
	case RecommendReduce:
		return "reduce"
	case RecommendSell:
		return "sell"
	}
	return "unknown"
}

func (r Recommendation) String() string {
	switch r {
	case RecommendStrongBuy:
		return "strong buy: several Chan signals align, trend is up"
	case RecommendBuy:
		return "buy: Chan signals are positive, accumulate on dips"
	case RecommendHold:
		return "hold: oscillating around the pivot, wait for direction"
	case RecommendReduce:
		return "reduce: Chan signals are weakening, watch the risk"
	case RecommendSell:
		return "sell: Chan signals are bearish, consider exiting"
	}
	return "unknown"
}

// LevelKey names an entry of the key levels map.
type LevelKey string

const (
	LevelCurrentPrice LevelKey = "current_price"
	LevelPivotZG      LevelKey = "pivot_zg"
	LevelPivotZD      LevelKey = "pivot_zd"
	LevelPivotGG      LevelKey = "pivot_gg"
	LevelPivotDD      LevelKey = "pivot_dd"
	LevelRecentTop    LevelKey = "recent_top"
	LevelRecentBottom LevelKey = "recent_bottom"
	LevelStopLoss     LevelKey = "stop_loss"
	LevelTarget       LevelKey = "target"
)

// KeyLevels holds the price levels exposed for display.
type KeyLevels map[LevelKey]float64

// Get returns the level and whether it is present.
func (k KeyLevels) Get(key LevelKey) (float64, bool) {
	v, ok := k[key]
	return v, ok
}

// Result is the complete output of one Analyze run.
type Result struct {
	Code             string `json:"code"`
	InsufficientData bool   `json:"insufficient_data"`
	BarCount         int    `json:"bar_count"`

	Fractals       []Fractal `json:"fractals"`
	LastFractal    *Fractal  `json:"last_fractal,omitempty"`
	FractalSummary string    `json:"fractal_summary"`

	Strokes         []Stroke `json:"strokes"`
	LastStroke      *Stroke  `json:"last_stroke,omitempty"`
	StrokeSummary   string   `json:"stroke_summary"`
	StrokeDirection string   `json:"stroke_direction"`

	Segments       []Segment `json:"segments"`
	LastSegment    *Segment  `json:"last_segment,omitempty"`
	SegmentSummary string    `json:"segment_summary"`

	Pivots          []Pivot        `json:"pivots"`
	CurrentPivot    *Pivot         `json:"current_pivot,omitempty"`
	PivotSummary    string         `json:"pivot_summary"`
	PricePosition   *PricePosition `json:"price_position,omitempty"`
	PositionSummary string         `json:"position_summary"`

	Divergence        DivergenceSignal `json:"divergence"`
	DivergenceSummary string           `json:"divergence_summary"`
	MomentumDiverged  bool             `json:"momentum_diverged"`

	Point       BuySellPoint `json:"buy_sell_point"`
	PointReason string       `json:"buy_sell_reason"`

	Trend        TrendType `json:"trend"`
	TrendSummary string    `json:"trend_summary"`

	Score          int            `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	KeyLevels      KeyLevels      `json:"key_levels"`
	Summary        string         `json:"summary"`

	StrokeState models.StrokeLabel       `json:"stroke_state,omitempty"`
	Transition  *statemachine.Transition `json:"transition,omitempty"`
}

// MarshalText renders enums by name in JSON output.
func (t FractalType) MarshalText() ([]byte, error)    { return []byte(t.String()), nil }
func (d Direction) MarshalText() ([]byte, error)      { return []byte(d.String()), nil }
func (t DivergenceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (p BuySellPoint) MarshalText() ([]byte, error)   { return []byte(p.String()), nil }
func (t TrendType) MarshalText() ([]byte, error)      { return []byte(t.String()), nil }
func (z PriceZone) MarshalText() ([]byte, error)      { return []byte(z.String()), nil }
func (r Recommendation) MarshalText() ([]byte, error) { return []byte(r.Tier()), nil }
