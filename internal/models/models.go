// Package models provides domain models shared by the analysis engine, the
// state machine and the persistence layer.
package models

import (
	"math"
	"time"
)

// Bar represents one daily OHLCV bar for an instrument.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// BarField names a field of a Bar, used when reporting malformed input.
type BarField string

const (
	FieldDate   BarField = "date"
	FieldOpen   BarField = "open"
	FieldHigh   BarField = "high"
	FieldLow    BarField = "low"
	FieldClose  BarField = "close"
	FieldVolume BarField = "volume"
)

// Problem returns the first field that makes the bar unusable for analysis
// and a short description, or "" when the bar is well formed.
func (b Bar) Problem() (BarField, string) {
	if b.Date.IsZero() {
		return FieldDate, "missing date"
	}
	prices := []struct {
		field BarField
		value float64
	}{
		{FieldOpen, b.Open},
		{FieldHigh, b.High},
		{FieldLow, b.Low},
		{FieldClose, b.Close},
	}
	for _, p := range prices {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return p.field, "not a finite number"
		}
		if p.value <= 0 {
			return p.field, "must be positive"
		}
	}
	if b.High < b.Low {
		return FieldHigh, "high below low"
	}
	if b.Volume < 0 {
		return FieldVolume, "negative volume"
	}
	return "", ""
}

// StrokeLabel is the persisted cross-run state of an instrument's stroke.
type StrokeLabel string

const (
	LabelUnknown                StrokeLabel = "unknown"
	LabelUpStroke               StrokeLabel = "up_stroke"
	LabelDownStroke             StrokeLabel = "down_stroke"
	LabelPendingTopFractal      StrokeLabel = "pending_top_fractal"
	LabelPendingBottomFractal   StrokeLabel = "pending_bottom_fractal"
	LabelUpStrokeContinuation   StrokeLabel = "up_stroke_continuation"
	LabelDownStrokeContinuation StrokeLabel = "down_stroke_continuation"
)

// LabelHistoryEntry records the label an instrument held before a run replaced it.
type LabelHistoryEntry struct {
	Date  string      `json:"date"`
	Label StrokeLabel `json:"label"`
}

// ChanState is the per-instrument state persisted between daily runs.
type ChanState struct {
	Code         string              `json:"code"`
	CurrentLabel StrokeLabel         `json:"current_label"`
	PivotLow     *float64            `json:"pivot_low,omitempty"`
	PivotHigh    *float64            `json:"pivot_high,omitempty"`
	LastUpdate   string              `json:"last_update,omitempty"`
	History      []LabelHistoryEntry `json:"history"`
}

// NewChanState returns the default state for an instrument that has never
// been analysed.
func NewChanState(code string) *ChanState {
	return &ChanState{
		Code:         code,
		CurrentLabel: LabelUnknown,
		History:      []LabelHistoryEntry{},
	}
}

// Clone returns a deep copy of the state.
func (s *ChanState) Clone() *ChanState {
	if s == nil {
		return nil
	}
	c := *s
	if s.PivotLow != nil {
		v := *s.PivotLow
		c.PivotLow = &v
	}
	if s.PivotHigh != nil {
		v := *s.PivotHigh
		c.PivotHigh = &v
	}
	c.History = append([]LabelHistoryEntry(nil), s.History...)
	if c.History == nil {
		c.History = []LabelHistoryEntry{}
	}
	return &c
}
