package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPureGo is modernc.org/sqlite.
	DriverPureGo = "sqlite"

	barDateLayout = "2006-01-02"
)

// SQLiteStore persists stroke state and bar history in one SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath with
// the given driver name, DriverCGO or DriverPureGo.
func NewSQLiteStore(dbPath, driver string) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverCGO
	}
	if dir := filepath.Dir(dbPath); dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.NewStoreError(BackendSQLite, "open", "", err)
		}
	}

	dsn, err := sqliteDSN(dbPath, driver)
	if err != nil {
		return nil, apperrors.NewStoreError(BackendSQLite, "open", "", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.NewStoreError(BackendSQLite, "open", "", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, driver: driver}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.NewStoreError(BackendSQLite, "open", "", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return store, nil
}

func sqliteDSN(path, driver string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", nil
	case DriverPureGo:
		return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	}
	return "", fmt.Errorf("unknown sqlite driver %q", driver)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Cross-run stroke state, one row per instrument
	CREATE TABLE IF NOT EXISTS chan_state (
		code TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		pivot_low REAL,
		pivot_high REAL,
		last_update TEXT NOT NULL DEFAULT '',
		history TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daily bar history
	CREATE TABLE IF NOT EXISTS bars (
		code TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (code, date)
	);

	CREATE INDEX IF NOT EXISTS idx_bars_code_date ON bars(code, date);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Driver returns the database/sql driver in use.
func (s *SQLiteStore) Driver() string { return s.driver }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// State Methods
// ============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getState(ctx context.Context, q queryer, code string) (*models.ChanState, error) {
	var r stateRow
	var low, high sql.NullFloat64
	err := q.QueryRowContext(ctx, `
		SELECT code, label, pivot_low, pivot_high, last_update, history
		FROM chan_state WHERE code = ?
	`, code).Scan(&r.Code, &r.Label, &low, &high, &r.LastUpdate, &r.History)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	if low.Valid {
		r.PivotLow = &low.Float64
	}
	if high.Valid {
		r.PivotHigh = &high.Float64
	}
	return r.state()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func putState(ctx context.Context, e execer, st *models.ChanState) error {
	r, err := toRow(st)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO chan_state (code, label, pivot_low, pivot_high, last_update, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(code) DO UPDATE SET
			label = excluded.label,
			pivot_low = excluded.pivot_low,
			pivot_high = excluded.pivot_high,
			last_update = excluded.last_update,
			history = excluded.history,
			updated_at = CURRENT_TIMESTAMP
	`, r.Code, r.Label, r.PivotLow, r.PivotHigh, r.LastUpdate, r.History)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	st, err := getState(ctx, s.db, code)
	if errors.Is(err, apperrors.ErrStateNotFound) {
		return models.NewChanState(code), nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError(BackendSQLite, "load", code, err)
	}
	return st, nil
}

// Update runs fn inside a write transaction.
func (s *SQLiteStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(BackendSQLite, "begin", code, err)
	}
	defer tx.Rollback()

	current, err := getState(ctx, tx, code)
	if errors.Is(err, apperrors.ErrStateNotFound) {
		current = models.NewChanState(code)
	} else if err != nil {
		return apperrors.NewStoreError(BackendSQLite, "load", code, err)
	}

	next, err := runUpdate(code, current, fn)
	if err != nil {
		return err
	}
	if err := putState(ctx, tx, next); err != nil {
		return apperrors.NewStoreError(BackendSQLite, "save", code, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(BackendSQLite, "commit", code, err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *models.ChanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := putState(ctx, s.db, state); err != nil {
		return apperrors.NewStoreError(BackendSQLite, "save", state.Code, err)
	}
	return nil
}

func (s *SQLiteStore) Codes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM chan_state ORDER BY code ASC`)
	if err != nil {
		return nil, apperrors.NewStoreError(BackendSQLite, "codes", "", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, apperrors.NewStoreError(BackendSQLite, "codes", "", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError(BackendSQLite, "codes", "", err)
	}
	return codes, nil
}

// ============================================================================
// Bar Methods
// ============================================================================

// SaveBars upserts bars for code keyed by calendar date.
func (s *SQLiteStore) SaveBars(ctx context.Context, code string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (code, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, code, b.Date.Format(barDateLayout), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBars returns the bars of code dated within [from, to], oldest first.
func (s *SQLiteStore) GetBars(ctx context.Context, code string, from, to time.Time) ([]models.Bar, error) {
	return s.queryBars(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE code = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, code, from.Format(barDateLayout), to.Format(barDateLayout))
}

// Bars returns the complete history of code. An unknown code yields
// ErrDataNotFound.
func (s *SQLiteStore) Bars(ctx context.Context, code string) ([]models.Bar, error) {
	bars, err := s.queryBars(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars WHERE code = ? ORDER BY date ASC
	`, code)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, apperrors.NewDataError("bars", code, "no bars stored", apperrors.ErrDataNotFound)
	}
	return bars, nil
}

func (s *SQLiteStore) queryBars(ctx context.Context, query string, args ...interface{}) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		if b.Date, err = time.Parse(barDateLayout, date); err != nil {
			return nil, fmt.Errorf("failed to parse bar date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}
	return bars, nil
}

// LastBarDate returns the date of the newest bar of code, zero when none.
func (s *SQLiteStore) LastBarDate(ctx context.Context, code string) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM bars WHERE code = ?`, code).Scan(&date)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("failed to get last bar date: %w", err)
	}
	if !date.Valid || date.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(barDateLayout, date.String)
}

// BarCodes lists every code with stored bars.
func (s *SQLiteStore) BarCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT code FROM bars ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bar codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan bar code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
