// Package statemachine keeps an instrument's stroke classification
// consistent across daily runs. A stroke cannot flip direction without an
// intermediate pending-fractal state; illegal proposals are corrected, not
// rejected.
package statemachine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/logging"
	"chanlun-engine/internal/models"
)

// DefaultHistoryLimit bounds the persisted label history per instrument.
const DefaultHistoryLimit = 10

// Repository is the keyed persistence the machine needs. Update must run
// fn against the current state (the default Unknown state when the code
// has none) and persist the mutated state atomically.
type Repository interface {
	Load(ctx context.Context, code string) (*models.ChanState, error)
	Update(ctx context.Context, code string, fn func(*models.ChanState) error) error
}

// Transition is the outcome of validating a proposed label.
type Transition struct {
	Valid     bool               `json:"valid"`
	Current   models.StrokeLabel `json:"current"`
	Proposed  models.StrokeLabel `json:"proposed"`
	Corrected models.StrokeLabel `json:"corrected"`
	Warning   string             `json:"warning,omitempty"`
	// Degraded is set when the store could not be read or written and the
	// proposal was checked against Unknown instead.
	Degraded bool `json:"degraded,omitempty"`
}

// Request describes one state advance.
type Request struct {
	Code      string
	Proposed  models.StrokeLabel
	Date      string
	PivotLow  *float64
	PivotHigh *float64
}

// Labels lists every label in declaration order.
var Labels = []models.StrokeLabel{
	models.LabelUnknown,
	models.LabelUpStroke,
	models.LabelPendingTopFractal,
	models.LabelDownStroke,
	models.LabelPendingBottomFractal,
	models.LabelUpStrokeContinuation,
	models.LabelDownStrokeContinuation,
}

var aliases = map[string]models.StrokeLabel{
	"up":                models.LabelUpStroke,
	"rising":            models.LabelUpStroke,
	"up_leaving_pivot":  models.LabelUpStroke,
	"upward_stroke":     models.LabelUpStroke,
	"down":              models.LabelDownStroke,
	"falling":           models.LabelDownStroke,
	"down_after_sell1":  models.LabelDownStroke,
	"downward_stroke":   models.LabelDownStroke,
	"pending_top":       models.LabelPendingTopFractal,
	"pending_bottom":    models.LabelPendingBottomFractal,
	"up_continuation":   models.LabelUpStrokeContinuation,
	"down_continuation": models.LabelDownStrokeContinuation,
	"":                  models.LabelUnknown,
}

// ParseLabel normalises a textual label, accepting the canonical names and
// a set of aliases.
func ParseLabel(s string) (models.StrokeLabel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for _, l := range Labels {
		if string(l) == key {
			return l, nil
		}
	}
	if l, ok := aliases[key]; ok {
		return l, nil
	}
	return "", apperrors.Wrapf(apperrors.ErrInvalidLabel, "%q", s)
}

// Successors returns the labels a state may legally move to. Unknown
// accepts anything and returns nil.
func Successors(current models.StrokeLabel) []models.StrokeLabel {
	switch current {
	case models.LabelUnknown:
		return nil
	case models.LabelUpStroke, models.LabelUpStrokeContinuation:
		return []models.StrokeLabel{models.LabelPendingTopFractal, models.LabelUpStrokeContinuation}
	case models.LabelPendingTopFractal:
		return []models.StrokeLabel{models.LabelDownStroke, models.LabelUpStrokeContinuation}
	case models.LabelDownStroke, models.LabelDownStrokeContinuation:
		return []models.StrokeLabel{models.LabelPendingBottomFractal, models.LabelDownStrokeContinuation}
	case models.LabelPendingBottomFractal:
		return []models.StrokeLabel{models.LabelUpStroke, models.LabelDownStrokeContinuation}
	}
	panic(fmt.Sprintf("statemachine: unhandled label %q", current))
}

func known(l models.StrokeLabel) bool {
	for _, k := range Labels {
		if k == l {
			return true
		}
	}
	return false
}

func upPhase(l models.StrokeLabel) bool {
	return l == models.LabelUpStroke || l == models.LabelUpStrokeContinuation
}

func downPhase(l models.StrokeLabel) bool {
	return l == models.LabelDownStroke || l == models.LabelDownStrokeContinuation
}

// Validate checks a proposed label against the current one.
func Validate(current, proposed models.StrokeLabel) Transition {
	t := Transition{Current: current, Proposed: proposed}
	if !known(current) {
		current = models.LabelUnknown
		t.Current = current
	}

	if !known(proposed) {
		t.Corrected = current
		t.Warning = fmt.Sprintf("unrecognised stroke label %q, keeping %s", proposed, current)
		return t
	}

	if current == models.LabelUnknown {
		t.Valid = true
		t.Corrected = proposed
		return t
	}

	switch {
	case proposed == models.LabelDownStroke && upPhase(current):
		t.Corrected = models.LabelPendingTopFractal
		t.Warning = fmt.Sprintf("state conflict: %s -> %s skips the top fractal confirmation", current, proposed)
		return t
	case proposed == models.LabelUpStroke && downPhase(current):
		t.Corrected = models.LabelPendingBottomFractal
		t.Warning = fmt.Sprintf("state conflict: %s -> %s skips the bottom fractal confirmation", current, proposed)
		return t
	case proposed == models.LabelUpStroke && (upPhase(current) || current == models.LabelPendingTopFractal):
		t.Valid = true
		t.Corrected = models.LabelUpStrokeContinuation
		return t
	case proposed == models.LabelDownStroke && (downPhase(current) || current == models.LabelPendingBottomFractal):
		t.Valid = true
		t.Corrected = models.LabelDownStrokeContinuation
		return t
	}

	for _, next := range Successors(current) {
		if next == proposed {
			t.Valid = true
			t.Corrected = proposed
			return t
		}
	}

	t.Corrected = current
	t.Warning = fmt.Sprintf("illegal transition %s -> %s, keeping %s", current, proposed, current)
	return t
}

// Machine validates and persists stroke labels per instrument. Calls for
// the same code are serialised; different codes proceed in parallel.
type Machine struct {
	repo         Repository
	historyLimit int
	logger       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine creates a state machine backed by repo.
func NewMachine(repo Repository, historyLimit int, logger zerolog.Logger) *Machine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Machine{
		repo:         repo,
		historyLimit: historyLimit,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *Machine) lock(code string) func() {
	m.mu.Lock()
	l, ok := m.locks[code]
	if !ok {
		l = &sync.Mutex{}
		m.locks[code] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// State returns the persisted state of code.
func (m *Machine) State(ctx context.Context, code string) (*models.ChanState, error) {
	return m.repo.Load(ctx, code)
}

// Validate checks proposed against the persisted state without writing.
func (m *Machine) Validate(ctx context.Context, code string, proposed models.StrokeLabel) Transition {
	state, err := m.repo.Load(ctx, code)
	if err != nil {
		logger := logging.WithCode(m.logger, code)
		logger.Error().Err(err).Msg("Failed to load stroke state, validating against unknown")
		t := Validate(models.LabelUnknown, proposed)
		t.Degraded = true
		return t
	}
	return Validate(state.CurrentLabel, proposed)
}

// Advance validates req.Proposed against the persisted state and stores
// the corrected label, appending the previous one to the history.
func (m *Machine) Advance(ctx context.Context, req Request) Transition {
	unlock := m.lock(req.Code)
	defer unlock()

	logger := logging.WithCode(m.logger, req.Code)

	var t Transition
	evaluated := false
	err := m.repo.Update(ctx, req.Code, func(state *models.ChanState) error {
		t = Validate(state.CurrentLabel, req.Proposed)
		evaluated = true
		m.apply(state, t.Corrected, req)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to persist stroke state")
		if !evaluated {
			t = Validate(models.LabelUnknown, req.Proposed)
		}
		t.Degraded = true
	}

	logging.LogTransition(logger, req.Code, string(t.Current), string(t.Proposed), string(t.Corrected), t.Valid)
	return t
}

func (m *Machine) apply(state *models.ChanState, label models.StrokeLabel, req Request) {
	state.Code = req.Code
	state.History = append(state.History, models.LabelHistoryEntry{
		Date:  req.Date,
		Label: state.CurrentLabel,
	})
	if len(state.History) > m.historyLimit {
		state.History = state.History[len(state.History)-m.historyLimit:]
	}
	state.CurrentLabel = label
	state.LastUpdate = req.Date
	if req.PivotLow != nil {
		v := *req.PivotLow
		state.PivotLow = &v
	}
	if req.PivotHigh != nil {
		v := *req.PivotHigh
		state.PivotHigh = &v
	}
}
