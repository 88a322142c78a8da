package chanlun

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
	"chanlun-engine/internal/statemachine"
	"chanlun-engine/internal/store"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultOptions(), zerolog.Nop())
}

type recordingAdvancer struct {
	requests []statemachine.Request
}

func (r *recordingAdvancer) Advance(ctx context.Context, req statemachine.Request) statemachine.Transition {
	r.requests = append(r.requests, req)
	return statemachine.Validate(models.LabelUnknown, req.Proposed)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(context.Background(), "000001", barsFromCenters(10, 11, 12, 13, 14, 13, 12, 11, 10))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.InsufficientData {
		t.Fatal("expected InsufficientData")
	}
	if res.Score != 50 || res.Recommendation != RecommendHold {
		t.Errorf("score/recommendation = %d/%s", res.Score, res.Recommendation.Tier())
	}
	if res.Summary != "insufficient data, Chan analysis not completed" {
		t.Errorf("summary = %q", res.Summary)
	}
	if len(res.Fractals) != 0 || len(res.Strokes) != 0 || res.CurrentPivot != nil {
		t.Error("downstream stages must be skipped")
	}

	empty, err := newTestAnalyzer().Analyze(context.Background(), "000001", nil)
	if err != nil || !empty.InsufficientData {
		t.Errorf("empty input: %+v, %v", empty, err)
	}
}

func TestAnalyzeMalformedBar(t *testing.T) {
	bars := barsFromCenters(zigzag(20)...)
	bars[3].High = bars[3].Low - 1

	_, err := newTestAnalyzer().Analyze(context.Background(), "000001", bars)
	if !apperrors.Is(err, apperrors.ErrMalformedBar) {
		t.Fatalf("err = %v, want ErrMalformedBar", err)
	}
	var verr *apperrors.ValidationError
	if !apperrors.As(err, &verr) {
		t.Fatalf("err is not a ValidationError: %T", err)
	}
	if verr.Field != "bars[3].high" {
		t.Errorf("Field = %q", verr.Field)
	}

	short := barsFromCenters(10, 11)
	short[0].Open = 0
	if _, err := newTestAnalyzer().Analyze(context.Background(), "000001", short); !apperrors.Is(err, apperrors.ErrMalformedBar) {
		t.Errorf("malformed short series: err = %v", err)
	}
}

func TestAnalyzeMonotonicDecline(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(context.Background(), "000001", barsFromCenters(decline(20)...))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.InsufficientData {
		t.Fatal("20 bars is enough data")
	}
	if len(res.Fractals) != 0 || len(res.Strokes) != 0 {
		t.Errorf("fractals=%d strokes=%d, want none", len(res.Fractals), len(res.Strokes))
	}
	if res.StrokeSummary != "no valid strokes" {
		t.Errorf("stroke summary = %q", res.StrokeSummary)
	}
	if res.Point != NoPoint || res.Trend != Consolidation {
		t.Errorf("point=%s trend=%s", res.Point, res.Trend)
	}
}

func TestAnalyzeVShape(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(context.Background(), "000001", barsFromCenters(vShape()...))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var bottoms []Fractal
	for _, fx := range res.Fractals {
		if fx.Type == Bottom {
			bottoms = append(bottoms, fx)
		}
	}
	if len(bottoms) != 1 || bottoms[0].Index != 9 {
		t.Fatalf("bottoms = %+v, want one at index 9", bottoms)
	}

	if len(res.Strokes) != 1 {
		t.Fatalf("got %d strokes, want 1", len(res.Strokes))
	}
	s := res.Strokes[0]
	if s.Direction != Up || s.Start.Index != 9 || s.End.Index != 19 {
		t.Errorf("stroke = %+v", s)
	}
	if s.Power <= 0 {
		t.Errorf("power = %v, want > 0", s.Power)
	}
	if res.Trend != UpTrend || res.StrokeDirection != "up" {
		t.Errorf("trend=%s direction=%s", res.Trend, res.StrokeDirection)
	}
	if res.Score != 65 || res.Recommendation != RecommendBuy {
		t.Errorf("score = %d", res.Score)
	}
}

func TestAnalyzeZigzagPivot(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(context.Background(), "000001", barsFromCenters(zigzag(40)...))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Strokes) != 8 || len(res.Segments) != 3 {
		t.Fatalf("strokes=%d segments=%d", len(res.Strokes), len(res.Segments))
	}
	if len(res.Pivots) != 1 || res.CurrentPivot == nil {
		t.Fatalf("pivots = %d", len(res.Pivots))
	}
	if res.CurrentPivot.ZG != 15 || res.CurrentPivot.ZD != 9 {
		t.Errorf("pivot = %+v", res.CurrentPivot)
	}
	if res.PricePosition == nil || res.PricePosition.Zone != ZoneInside {
		t.Errorf("position = %+v", res.PricePosition)
	}
	if res.Trend != Consolidation {
		t.Errorf("trend = %s", res.Trend)
	}
	if v, ok := res.KeyLevels.Get(LevelCurrentPrice); !ok || v != 11 {
		t.Errorf("current price = %v", v)
	}
	if !strings.HasPrefix(res.Summary, "[trend] consolidation") || !strings.Contains(res.Summary, "[pivot] ") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestAnalyzeUnsortedInput(t *testing.T) {
	bars := barsFromCenters(zigzag(40)...)
	shuffled := make([]models.Bar, len(bars))
	for i := range bars {
		shuffled[i] = bars[len(bars)-1-i]
	}

	a := newTestAnalyzer()
	want, _ := a.Analyze(context.Background(), "000001", bars)
	got, err := a.Analyze(context.Background(), "000001", shuffled)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Error("result depends on input order")
	}
}

func TestAnalyzeProposesLastStroke(t *testing.T) {
	rec := &recordingAdvancer{}
	a := newTestAnalyzer().WithState(rec)
	bars := barsFromCenters(zigzag(40)...)

	res, err := a.Analyze(context.Background(), "600000", bars)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(rec.requests) != 1 {
		t.Fatalf("advance called %d times", len(rec.requests))
	}
	req := rec.requests[0]
	if req.Code != "600000" || req.Proposed != models.LabelUpStroke {
		t.Errorf("request = %+v", req)
	}
	if req.Date != bars[len(bars)-1].Date.Format("2006-01-02") {
		t.Errorf("date = %q", req.Date)
	}
	if req.PivotLow == nil || *req.PivotLow != 9 || req.PivotHigh == nil || *req.PivotHigh != 15 {
		t.Errorf("pivot bounds = %v/%v", req.PivotLow, req.PivotHigh)
	}
	if res.StrokeState != models.LabelUpStroke || res.Transition == nil {
		t.Errorf("state = %s, transition = %+v", res.StrokeState, res.Transition)
	}

	rec.requests = nil
	if _, err := a.Analyze(context.Background(), "600000", barsFromCenters(decline(20)...)); err != nil {
		t.Fatal(err)
	}
	if len(rec.requests) != 0 {
		t.Error("no stroke, nothing to propose")
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	ctx := context.Background()
	bars := barsFromCenters(zigzag(40)...)

	states := store.NewMemoryStore()
	if err := states.Save(ctx, &models.ChanState{Code: "000001", CurrentLabel: models.LabelDownStroke}); err != nil {
		t.Fatal(err)
	}
	machine := statemachine.NewMachine(states, 10, zerolog.Nop())
	a := newTestAnalyzer().WithState(machine)

	first, err := a.Analyze(ctx, "000001", bars)
	if err != nil {
		t.Fatal(err)
	}
	if first.Transition.Valid || first.Transition.Warning == "" {
		t.Errorf("down -> up should be corrected with a warning: %+v", first.Transition)
	}
	if first.StrokeState != models.LabelPendingBottomFractal {
		t.Errorf("corrected state = %s", first.StrokeState)
	}

	second, err := a.Analyze(ctx, "000001", bars)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Transition.Valid || second.Transition.Warning != "" {
		t.Errorf("second run should be clean: %+v", second.Transition)
	}

	third, _ := a.Analyze(ctx, "000001", bars)
	if third.Transition.Warning != "" {
		t.Errorf("third run warned: %q", third.Transition.Warning)
	}

	strip := func(r *Result) Result {
		c := *r
		c.Transition = nil
		c.StrokeState = ""
		return c
	}
	if !reflect.DeepEqual(strip(first), strip(second)) || !reflect.DeepEqual(strip(second), strip(third)) {
		t.Error("repeated runs on identical bars differ")
	}
}

func TestFormatSectionOrder(t *testing.T) {
	res, err := newTestAnalyzer().Analyze(context.Background(), "000001", barsFromCenters(zigzag(40)...))
	if err != nil {
		t.Fatal(err)
	}
	text := Format(res)

	order := []string{
		"=== 000001 Chan analysis ===",
		"Score: ",
		"Recommendation: ",
		"Trend: ",
		"Fractals: ",
		"Strokes: ",
		"Segments: ",
		"Pivot:",
		"Price position: ",
		"Key levels:",
		"Current price: 11.00",
		"Pivot top: 15.00",
		"Pivot bottom: 9.00",
	}
	pos := -1
	for _, s := range order {
		i := strings.Index(text, s)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", s, text)
		}
		if i < pos {
			t.Errorf("%q out of order", s)
		}
		pos = i
	}

	if res.Point == NoPoint && strings.Contains(text, "Buy/sell point:") {
		t.Error("buy/sell block without a point")
	}
	if !res.Divergence.Declared() && strings.Contains(text, "Divergence:") {
		t.Error("divergence block without a divergence")
	}
}

func TestFormatInsufficient(t *testing.T) {
	res, _ := newTestAnalyzer().Analyze(context.Background(), "000002", barsFromCenters(5, 6, 7))
	text := Format(res)
	if strings.Contains(text, "Pivot:") || strings.Contains(text, "Key levels:") {
		t.Errorf("unexpected sections:\n%s", text)
	}
	if !strings.Contains(text, "Score: 50/100") {
		t.Errorf("missing neutral score:\n%s", text)
	}
}
