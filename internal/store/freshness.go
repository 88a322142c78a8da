package store

import (
	"context"
	"time"
)

// DefaultStaleDays is how many calendar days may pass after the last stored
// bar before the history is reported stale.
const DefaultStaleDays = 4

// BarFreshness describes how current the stored bar history of one code is.
type BarFreshness struct {
	Code     string        `json:"code"`
	LastBar  time.Time     `json:"last_bar"`
	Age      time.Duration `json:"age"`
	IsFresh  bool          `json:"is_fresh"`
	HasData  bool          `json:"has_data"`
	StaleAge int           `json:"stale_days"` // whole days past the last bar
}

// FreshnessChecker reports bar staleness against a day threshold.
type FreshnessChecker struct {
	bars      BarStore
	staleDays int
	now       func() time.Time
}

// NewFreshnessChecker creates a checker. staleDays <= 0 uses DefaultStaleDays.
func NewFreshnessChecker(bars BarStore, staleDays int) *FreshnessChecker {
	if staleDays <= 0 {
		staleDays = DefaultStaleDays
	}
	return &FreshnessChecker{bars: bars, staleDays: staleDays, now: time.Now}
}

// Check returns the freshness of code. A code without bars is never fresh.
func (c *FreshnessChecker) Check(ctx context.Context, code string) (*BarFreshness, error) {
	last, err := c.bars.LastBarDate(ctx, code)
	if err != nil {
		return nil, err
	}
	f := &BarFreshness{Code: code, LastBar: last}
	if last.IsZero() {
		return f, nil
	}

	f.HasData = true
	f.Age = c.now().Sub(last)
	if f.Age < 0 {
		f.Age = 0
	}
	f.StaleAge = int(f.Age.Hours() / 24)
	f.IsFresh = f.StaleAge <= c.staleDays
	return f, nil
}

// CheckAll runs Check for every code, stopping at the first error.
func (c *FreshnessChecker) CheckAll(ctx context.Context, codes []string) ([]*BarFreshness, error) {
	out := make([]*BarFreshness, 0, len(codes))
	for _, code := range codes {
		f, err := c.Check(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
