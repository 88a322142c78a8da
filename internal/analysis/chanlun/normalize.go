package chanlun

import (
	"math"
	"sort"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

// ValidateBars fails on the first malformed bar.
func ValidateBars(bars []models.Bar) error {
	for i, b := range bars {
		if field, msg := b.Problem(); msg != "" {
			return apperrors.NewMalformedBarError(i, string(field), barFieldValue(b, field), msg)
		}
	}
	return nil
}

func barFieldValue(b models.Bar, field models.BarField) interface{} {
	switch field {
	case models.FieldDate:
		return b.Date
	case models.FieldOpen:
		return b.Open
	case models.FieldHigh:
		return b.High
	case models.FieldLow:
		return b.Low
	case models.FieldClose:
		return b.Close
	case models.FieldVolume:
		return b.Volume
	}
	return nil
}

// SortBars returns a copy of bars in ascending date order. Bars sharing a
// date keep their input order.
func SortBars(bars []models.Bar) []models.Bar {
	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}

// Normalize applies inclusion processing to chronologically sorted bars.
// When a bar's range contains, or is contained by, the previous adjusted
// bar, its adjusted high/low are merged towards the short-term direction:
// upward keeps the higher high and higher low, downward the lower high and
// lower low. The series length is preserved so indices stay aligned with
// the momentum series.
func Normalize(bars []models.Bar) []NormalizedBar {
	out := make([]NormalizedBar, len(bars))
	for i, b := range bars {
		out[i] = NormalizedBar{Bar: b, Index: i, High: b.High, Low: b.Low}
	}

	for i := 1; i < len(out); i++ {
		prev, curr := &out[i-1], &out[i]
		if !included(prev.High, prev.Low, curr.High, curr.Low) {
			continue
		}

		var up bool
		if i >= 2 {
			up = prev.High > out[i-2].High
		} else {
			up = curr.High > prev.High
		}

		if up {
			curr.High = math.Max(prev.High, curr.High)
			curr.Low = math.Max(prev.Low, curr.Low)
		} else {
			curr.High = math.Min(prev.High, curr.High)
			curr.Low = math.Min(prev.Low, curr.Low)
		}
	}
	return out
}

func included(h1, l1, h2, l2 float64) bool {
	return (h1 >= h2 && l1 <= l2) || (h2 >= h1 && l2 <= l1)
}

func closes(bars []NormalizedBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
