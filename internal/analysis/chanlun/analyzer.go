package chanlun

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chanlun-engine/internal/analysis/indicators"
	"chanlun-engine/internal/logging"
	"chanlun-engine/internal/models"
	"chanlun-engine/internal/statemachine"
)

// DefaultMinBars is the shortest series the pipeline analyses.
const DefaultMinBars = 10

// Options tunes the pipeline.
type Options struct {
	MinBars             int
	MinFractalGap       int
	DivergenceThreshold float64
	DivergenceWindow    int
	FastPeriod          int
	SlowPeriod          int
	SignalPeriod        int
	MomentumSource      indicators.MomentumSource
}

// DefaultOptions returns the standard Chan settings.
func DefaultOptions() Options {
	return Options{
		MinBars:             DefaultMinBars,
		MinFractalGap:       DefaultMinFractalGap,
		DivergenceThreshold: DefaultDivergenceThreshold,
		DivergenceWindow:    DefaultDivergenceWindow,
		FastPeriod:          12,
		SlowPeriod:          26,
		SignalPeriod:        9,
		MomentumSource:      indicators.SourceEMA,
	}
}

// StateAdvancer validates and persists the stroke label proposed by a run.
type StateAdvancer interface {
	Advance(ctx context.Context, req statemachine.Request) statemachine.Transition
}

// Analyzer runs the Chan pipeline. It holds no per-run state and is safe
// for concurrent use as long as its StateAdvancer is.
type Analyzer struct {
	opts       Options
	logger     zerolog.Logger
	momentum   *indicators.Momentum
	fallback   *indicators.Momentum
	fractals   *FractalDetector
	divergence *DivergenceDetector
	state      StateAdvancer
}

// NewAnalyzer creates an Analyzer. Zero-valued options fall back to the defaults.
func NewAnalyzer(opts Options, logger zerolog.Logger) *Analyzer {
	def := DefaultOptions()
	if opts.MinBars <= 0 {
		opts.MinBars = def.MinBars
	}
	if opts.FastPeriod <= 0 {
		opts.FastPeriod = def.FastPeriod
	}
	if opts.SlowPeriod <= 0 {
		opts.SlowPeriod = def.SlowPeriod
	}
	if opts.SignalPeriod <= 0 {
		opts.SignalPeriod = def.SignalPeriod
	}
	if opts.DivergenceWindow <= 0 {
		opts.DivergenceWindow = def.DivergenceWindow
	}
	if opts.MomentumSource == "" {
		opts.MomentumSource = def.MomentumSource
	}

	return &Analyzer{
		opts:       opts,
		logger:     logger,
		momentum:   indicators.NewMomentum(opts.FastPeriod, opts.SlowPeriod, opts.SignalPeriod, opts.MomentumSource),
		fallback:   indicators.NewMomentum(opts.FastPeriod, opts.SlowPeriod, opts.SignalPeriod, indicators.SourceEMA),
		fractals:   NewFractalDetector(opts.MinFractalGap),
		divergence: NewDivergenceDetector(opts.DivergenceThreshold, opts.DivergenceWindow),
	}
}

// WithState attaches a cross-run state machine. Without one, Analyze
// leaves StrokeState and Transition empty.
func (a *Analyzer) WithState(s StateAdvancer) *Analyzer {
	a.state = s
	return a
}

// Options returns the effective options.
func (a *Analyzer) Options() Options {
	return a.opts
}

// Analyze runs the pipeline over bars for code. A malformed bar is the
// only error; too few bars yields a neutral result flagged InsufficientData.
func (a *Analyzer) Analyze(ctx context.Context, code string, bars []models.Bar) (*Result, error) {
	logger := logging.WithRunID(logging.WithCode(a.logger, code), uuid.NewString())
	start := time.Now()

	if err := ValidateBars(bars); err != nil {
		logger.Error().Err(err).Msg("Rejected malformed bar series")
		return nil, err
	}

	if len(bars) < a.opts.MinBars {
		logger.Warn().Int("bars", len(bars)).Int("min_bars", a.opts.MinBars).Msg("Insufficient data for Chan analysis")
		return insufficientResult(code, len(bars)), nil
	}

	sorted := SortBars(bars)
	normalized := Normalize(sorted)
	hist := a.histogram(logger, normalized)

	r := &Result{Code: code, BarCount: len(bars)}

	r.Fractals = a.fractals.Detect(normalized)
	r.FractalSummary = summarizeFractals(r.Fractals)
	if n := len(r.Fractals); n > 0 {
		last := r.Fractals[n-1]
		r.LastFractal = &last
	}

	r.Strokes = BuildStrokes(r.Fractals, hist)
	r.StrokeSummary = summarizeStrokes(r.Strokes)
	if n := len(r.Strokes); n > 0 {
		last := r.Strokes[n-1]
		r.LastStroke = &last
		r.StrokeDirection = last.Direction.String()
	}

	r.Segments = BuildSegments(r.Strokes)
	r.SegmentSummary = summarizeSegments(r.Segments)
	if n := len(r.Segments); n > 0 {
		last := r.Segments[n-1]
		r.LastSegment = &last
	}

	price := sorted[len(sorted)-1].Close
	r.Pivots = LocatePivots(r.Strokes)
	if n := len(r.Pivots); n > 0 {
		current := r.Pivots[n-1]
		pos := Position(price, current)
		r.CurrentPivot = &current
		r.PricePosition = &pos
		r.PositionSummary = pos.Describe()
		r.PivotSummary = summarizePivot(current, pos)
	}

	r.Divergence = a.divergence.Detect(r.Strokes, r.CurrentPivot)
	r.DivergenceSummary = summarizeDivergence(r.Divergence, len(r.Strokes), a.divergence.window)
	r.MomentumDiverged = r.Divergence.Declared()

	r.Trend, r.TrendSummary = classifyTrend(r.Pivots, r.Strokes)
	r.Point, r.PointReason = classifyPoint(pointInput{
		price:      price,
		divergence: r.Divergence,
		fractals:   r.Fractals,
		strokes:    r.Strokes,
		pivot:      r.CurrentPivot,
	})
	r.KeyLevels = keyLevels(r, price)
	r.Score = score(r)
	r.Recommendation = RecommendationFor(r.Score)
	r.Summary = compositeSummary(r)

	if a.state != nil && r.LastStroke != nil {
		req := statemachine.Request{
			Code:     code,
			Proposed: r.LastStroke.Direction.StrokeLabel(),
			Date:     sorted[len(sorted)-1].Date.Format(dateLayout),
		}
		if r.CurrentPivot != nil {
			zd, zg := r.CurrentPivot.ZD, r.CurrentPivot.ZG
			req.PivotLow, req.PivotHigh = &zd, &zg
		}
		t := a.state.Advance(ctx, req)
		r.Transition = &t
		r.StrokeState = t.Corrected
	}

	logger.Debug().
		Int("bars", len(bars)).
		Int("fractals", len(r.Fractals)).
		Int("strokes", len(r.Strokes)).
		Int("pivots", len(r.Pivots)).
		Str("point", r.Point.String()).
		Int("score", r.Score).
		Dur("duration", time.Since(start)).
		Msg("Chan analysis complete")

	return r, nil
}

func (a *Analyzer) histogram(logger zerolog.Logger, bars []NormalizedBar) []float64 {
	cl := closes(bars)
	points, err := a.momentum.Calculate(cl)
	if err != nil {
		stage := logging.WithStage(logger, "momentum")
		stage.Warn().Err(err).Str("source", string(a.opts.MomentumSource)).Msg("Momentum source failed, using recursive EMA")
		points, err = a.fallback.Calculate(cl)
		if err != nil {
			stage.Error().Err(err).Msg("Momentum unavailable, stroke power will be zero")
			return nil
		}
	}
	return indicators.Histogram(points)
}

func insufficientResult(code string, n int) *Result {
	return &Result{
		Code:             code,
		InsufficientData: true,
		BarCount:         n,
		FractalSummary:   summarizeFractals(nil),
		StrokeSummary:    summarizeStrokes(nil),
		SegmentSummary:   summarizeSegments(nil),
		Trend:            Consolidation,
		TrendSummary:     insufficientDataSummary,
		Point:            NoPoint,
		PointReason:      "no clear buy/sell point",
		Score:            50,
		Recommendation:   RecommendHold,
		KeyLevels:        KeyLevels{},
		Summary:          insufficientDataSummary,
	}
}
