package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

// PostgresStore keeps stroke state in PostgreSQL. Updates lock the row with
// SELECT ... FOR UPDATE, so several processes can share one database.
type PostgresStore struct {
	db *sqlx.DB
}

// PostgresOptions configures the connection pool.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore connects to the database and creates the schema.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, apperrors.NewStoreError(BackendPostgres, "open", "", fmt.Errorf("failed to open database connection: %w", err))
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStoreError(BackendPostgres, "ping", "", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewStoreError(BackendPostgres, "open", "", fmt.Errorf("failed to initialize schema: %w", err))
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chan_state (
			code TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			pivot_low DOUBLE PRECISION,
			pivot_high DOUBLE PRECISION,
			last_update TEXT NOT NULL DEFAULT '',
			history JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresStore) Backend() string { return BackendPostgres }

const pgSelectState = `
	SELECT code, label, pivot_low, pivot_high, last_update, history::text AS history
	FROM chan_state WHERE code = $1`

const pgUpsertState = `
	INSERT INTO chan_state (code, label, pivot_low, pivot_high, last_update, history, updated_at)
	VALUES (:code, :label, :pivot_low, :pivot_high, :last_update, CAST(:history AS JSONB), NOW())
	ON CONFLICT (code) DO UPDATE SET
		label = EXCLUDED.label,
		pivot_low = EXCLUDED.pivot_low,
		pivot_high = EXCLUDED.pivot_high,
		last_update = EXCLUDED.last_update,
		history = EXCLUDED.history,
		updated_at = NOW()`

func (s *PostgresStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, pgSelectState, code)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewChanState(code), nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError(BackendPostgres, "load", code, err)
	}
	st, err := row.state()
	if err != nil {
		return nil, apperrors.NewStoreError(BackendPostgres, "load", code, err)
	}
	return st, nil
}

func (s *PostgresStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(BackendPostgres, "begin", code, err)
	}
	defer tx.Rollback()

	// Make sure a row exists so FOR UPDATE has something to lock.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chan_state (code, label) VALUES ($1, $2)
		ON CONFLICT (code) DO NOTHING
	`, code, string(models.LabelUnknown)); err != nil {
		return apperrors.NewStoreError(BackendPostgres, "load", code, err)
	}

	var row stateRow
	if err := tx.GetContext(ctx, &row, pgSelectState+" FOR UPDATE", code); err != nil {
		return apperrors.NewStoreError(BackendPostgres, "load", code, err)
	}
	current, err := row.state()
	if err != nil {
		return apperrors.NewStoreError(BackendPostgres, "load", code, err)
	}

	next, err := runUpdate(code, current, fn)
	if err != nil {
		return err
	}
	out, err := toRow(next)
	if err != nil {
		return apperrors.NewStoreError(BackendPostgres, "save", code, err)
	}
	if _, err := tx.NamedExecContext(ctx, pgUpsertState, out); err != nil {
		return apperrors.NewStoreError(BackendPostgres, "save", code, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(BackendPostgres, "commit", code, err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, state *models.ChanState) error {
	row, err := toRow(state)
	if err != nil {
		return apperrors.NewStoreError(BackendPostgres, "save", state.Code, err)
	}
	if _, err := s.db.NamedExecContext(ctx, pgUpsertState, row); err != nil {
		return apperrors.NewStoreError(BackendPostgres, "save", state.Code, err)
	}
	return nil
}

func (s *PostgresStore) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := s.db.SelectContext(ctx, &codes, `SELECT code FROM chan_state ORDER BY code ASC`); err != nil {
		return nil, apperrors.NewStoreError(BackendPostgres, "codes", "", err)
	}
	return codes, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
