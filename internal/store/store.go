// Package store provides persistence for the cross-run stroke state and
// for daily bar history.
package store

import (
	"context"
	"encoding/json"
	"time"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

// StateStore persists one ChanState per instrument code.
type StateStore interface {
	// Load returns the state of code, or the default Unknown state when the
	// code has never been stored.
	Load(ctx context.Context, code string) (*models.ChanState, error)
	// Update runs fn against the current state and persists the result
	// atomically. Nothing is written when fn returns an error.
	Update(ctx context.Context, code string, fn func(*models.ChanState) error) error
	// Save overwrites the state of state.Code.
	Save(ctx context.Context, state *models.ChanState) error
	// Codes lists every stored instrument code in ascending order.
	Codes(ctx context.Context) ([]string, error)

	Backend() string
	Close() error
}

// BarStore persists daily bars per instrument code.
type BarStore interface {
	SaveBars(ctx context.Context, code string, bars []models.Bar) error
	GetBars(ctx context.Context, code string, from, to time.Time) ([]models.Bar, error)
	// Bars returns the full history of code, oldest first.
	Bars(ctx context.Context, code string) ([]models.Bar, error)
	LastBarDate(ctx context.Context, code string) (time.Time, error)
	Close() error
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// stateRow is the column layout shared by the SQL backends.
type stateRow struct {
	Code       string   `db:"code"`
	Label      string   `db:"label"`
	PivotLow   *float64 `db:"pivot_low"`
	PivotHigh  *float64 `db:"pivot_high"`
	LastUpdate string   `db:"last_update"`
	History    string   `db:"history"`
}

func toRow(s *models.ChanState) (stateRow, error) {
	history := s.History
	if history == nil {
		history = []models.LabelHistoryEntry{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return stateRow{}, err
	}
	return stateRow{
		Code:       s.Code,
		Label:      string(s.CurrentLabel),
		PivotLow:   s.PivotLow,
		PivotHigh:  s.PivotHigh,
		LastUpdate: s.LastUpdate,
		History:    string(data),
	}, nil
}

func (r stateRow) state() (*models.ChanState, error) {
	s := &models.ChanState{
		Code:         r.Code,
		CurrentLabel: models.StrokeLabel(r.Label),
		PivotLow:     r.PivotLow,
		PivotHigh:    r.PivotHigh,
		LastUpdate:   r.LastUpdate,
		History:      []models.LabelHistoryEntry{},
	}
	if r.History != "" {
		if err := json.Unmarshal([]byte(r.History), &s.History); err != nil {
			return nil, apperrors.Wrapf(err, "decode history of %s", r.Code)
		}
	}
	return s, nil
}

// runUpdate applies fn to a copy of current and returns the copy, keyed to code.
func runUpdate(code string, current *models.ChanState, fn func(*models.ChanState) error) (*models.ChanState, error) {
	next := current.Clone()
	if next == nil {
		next = models.NewChanState(code)
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Code = code
	return next, nil
}
