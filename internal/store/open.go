package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/logging"
	"chanlun-engine/internal/resilience"
	"chanlun-engine/internal/security"
	"chanlun-engine/pkg/utils"
)

// Options selects and configures a StateStore backend.
type Options struct {
	Backend string

	// FilePath is the JSON document used by the file backend.
	FilePath string

	SQLitePath   string
	SQLiteDriver string

	Postgres PostgresOptions
	Redis    RedisOptions

	// Retry governs connection attempts to network backends.
	Retry utils.RetryConfig
	// Breaker guards network backends once connected. A zero value
	// disables it.
	Breaker resilience.Config
}

// DefaultOptions returns file-backed options rooted at dataDir.
func DefaultOptions(dataDir string) Options {
	return Options{
		Backend:      BackendFile,
		FilePath:     filepath.Join(dataDir, "chan_state.json"),
		SQLitePath:   filepath.Join(dataDir, "chanlun.db"),
		SQLiteDriver: DriverCGO,
		Retry:        utils.DefaultRetryConfig(),
		Breaker:      resilience.DefaultConfig(),
	}
}

// Open builds the StateStore named by opts.Backend. Network backends are
// dialled with retry and wrapped in a GuardedStore.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (StateStore, error) {
	log := logging.WithBackend(logger, opts.Backend)
	start := time.Now()

	var (
		st  StateStore
		err error
	)
	switch opts.Backend {
	case BackendMemory:
		st = NewMemoryStore()
	case "", BackendFile:
		st, err = NewFileStore(opts.FilePath)
	case BackendSQLite:
		st, err = NewSQLiteStore(opts.SQLitePath, opts.SQLiteDriver)
	case BackendPostgres:
		log.Debug().Str("dsn", security.MaskDSN(opts.Postgres.DSN)).Msg("Connecting to state store")
		st, err = utils.RetryWithResult(ctx, opts.Retry, func() (StateStore, error) {
			return NewPostgresStore(ctx, opts.Postgres)
		})
	case BackendRedis:
		log.Debug().Str("addr", opts.Redis.Addr).Str("prefix", opts.Redis.Prefix).Msg("Connecting to state store")
		st, err = utils.RetryWithResult(ctx, opts.Retry, func() (StateStore, error) {
			return NewRedisStore(ctx, opts.Redis)
		})
	default:
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown state backend %q", opts.Backend)
	}

	logging.LogStoreCall(logger, opts.Backend, "open", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if remote(opts.Backend) && opts.Breaker.Enabled() {
		return NewGuardedStore(st, opts.Breaker), nil
	}
	return st, nil
}

func remote(backend string) bool {
	return backend == BackendPostgres || backend == BackendRedis
}

// OpenBars opens the SQLite database that holds bar history.
func OpenBars(opts Options) (*SQLiteStore, error) {
	if opts.SQLitePath == "" {
		return nil, fmt.Errorf("sqlite path is not configured: %w", apperrors.ErrConfigInvalid)
	}
	return NewSQLiteStore(opts.SQLitePath, opts.SQLiteDriver)
}
