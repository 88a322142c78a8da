// Package cli provides the command-line interface for the Chan engine.
package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chanlun-engine/internal/analysis/chanlun"
	"chanlun-engine/internal/analysis/indicators"
	"chanlun-engine/internal/config"
	"chanlun-engine/internal/feed"
	"chanlun-engine/internal/logging"
	"chanlun-engine/internal/models"
	"chanlun-engine/internal/security"
	"chanlun-engine/internal/statemachine"
	"chanlun-engine/internal/store"
	"chanlun-engine/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration and the
// logger are loaded once flags are parsed.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "chan",
		Short: "Chan pattern engine for daily bar series",
		Long: `chan reduces a daily OHLCV series to fractals, strokes, segments and
pivots, measures momentum divergence between strokes and classifies the
result into a buy/sell point, a trend type and a 0-100 score.

The stroke label of every instrument is kept across runs so a stroke never
flips direction without passing through a pending fractal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = newLogger(cfg)

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/chanlun)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newBatchCmd(app))
	rootCmd.AddCommand(newBarsCmd(app))
	rootCmd.AddCommand(newStateCmd(app))

	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Logging.Level
	lc.File = cfg.Logging.File
	lc.FilePath = filepath.Join(cfg.Dir, "logs", "chanlun.log")
	lc.MaxSize = cfg.Logging.MaxSize
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAge
	return logging.NewLoggerWithConfig(lc)
}

// analyzerOptions maps the [analysis] section onto pipeline options.
func (a *App) analyzerOptions() (chanlun.Options, error) {
	ac := a.Config.Analysis
	source, err := indicators.ParseMomentumSource(ac.MomentumSource)
	if err != nil {
		return chanlun.Options{}, err
	}
	return chanlun.Options{
		MinBars:             ac.MinBars,
		MinFractalGap:       ac.MinFractalGap,
		DivergenceThreshold: ac.DivergenceThreshold,
		DivergenceWindow:    ac.DivergenceWindow,
		FastPeriod:          ac.Fast,
		SlowPeriod:          ac.Slow,
		SignalPeriod:        ac.Signal,
		MomentumSource:      source,
	}, nil
}

// storeOptions maps the [state] and [storage] sections onto store options.
func (a *App) storeOptions() store.Options {
	sc := a.Config.Storage
	opts := store.DefaultOptions(a.Config.Dir)
	opts.Backend = a.Config.State.Backend
	opts.FilePath = sc.File.Path
	opts.SQLitePath = sc.SQLite.Path
	opts.SQLiteDriver = sc.SQLite.Driver
	opts.Postgres = store.PostgresOptions{
		DSN:             sc.Postgres.DSN,
		MaxOpenConns:    sc.Postgres.MaxOpenConns,
		ConnMaxLifetime: time.Hour,
	}
	opts.Redis = store.RedisOptions{
		Addr:     sc.Redis.Addr,
		Password: sc.Redis.Password,
		DB:       sc.Redis.DB,
		Prefix:   sc.Redis.Prefix,
	}
	return opts
}

func (a *App) openStateStore(ctx context.Context) (store.StateStore, error) {
	return store.Open(ctx, a.storeOptions(), a.Logger)
}

func (a *App) openBarStore() (*store.SQLiteStore, error) {
	return store.OpenBars(a.storeOptions())
}

func (a *App) newMachine(st store.StateStore) *statemachine.Machine {
	return statemachine.NewMachine(st, a.Config.State.HistoryLimit, a.Logger)
}

// newAnalyzer builds the pipeline. With persist set, stroke labels are
// advanced in the configured state store and closeFn releases it.
func (a *App) newAnalyzer(ctx context.Context, persist bool) (analyzer *chanlun.Analyzer, closeFn func() error, err error) {
	opts, err := a.analyzerOptions()
	if err != nil {
		return nil, nil, err
	}
	analyzer = chanlun.NewAnalyzer(opts, a.Logger)
	if !persist {
		return analyzer, func() error { return nil }, nil
	}

	st, err := a.openStateStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return analyzer.WithState(a.newMachine(st)), st.Close, nil
}

// loadBars reads the history of code: the csv file when given,
// otherwise the SQLite bar history.
func (a *App) loadBars(ctx context.Context, code, csvPath string) ([]models.Bar, error) {
	if err := security.ValidateCode(code); err != nil {
		return nil, err
	}
	if csvPath != "" {
		return feed.ReadFile(csvPath)
	}
	bars, err := a.openBarStore()
	if err != nil {
		return nil, err
	}
	defer bars.Close()

	var provider feed.Provider = bars
	return provider.Bars(ctx, code)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("chan v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View the effective configuration and where it is stored.",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			asTOML, _ := cmd.Flags().GetBool("toml")
			if asTOML {
				data, err := app.Config.TOML()
				if err != nil {
					return err
				}
				output.Printf("%s", data)
				return nil
			}
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	}
	showCmd.Flags().Bool("toml", false, "render as TOML, secrets included")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Path()})
			} else {
				output.Println(app.Config.Path())
			}
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	a := cfg.Analysis
	output.Bold("Analysis")
	output.Printf("  Min bars:          %d\n", a.MinBars)
	output.Printf("  Min fractal gap:   %d\n", a.MinFractalGap)
	output.Printf("  Divergence:        ratio < %s over %d strokes\n", utils.FormatRatio(a.DivergenceThreshold), a.DivergenceWindow)
	output.Printf("  Momentum:          %s (%d, %d, %d)\n", a.MomentumSource, a.Fast, a.Slow, a.Signal)
	output.Println()

	output.Bold("State")
	output.Printf("  Backend:           %s\n", cfg.State.Backend)
	output.Printf("  History limit:     %d\n", cfg.State.HistoryLimit)
	switch cfg.State.Backend {
	case store.BackendFile:
		output.Printf("  File:              %s\n", cfg.Storage.File.Path)
	case store.BackendSQLite:
		output.Printf("  Database:          %s (%s)\n", cfg.Storage.SQLite.Path, cfg.Storage.SQLite.Driver)
	case store.BackendPostgres:
		output.Printf("  Postgres:          %s\n", orDash(security.MaskDSN(cfg.Storage.Postgres.DSN)))
	case store.BackendRedis:
		output.Printf("  Redis:             %s db %d\n", cfg.Storage.Redis.Addr, cfg.Storage.Redis.DB)
		if cfg.Storage.Redis.Password != "" {
			output.Printf("  Redis password:    %s\n", security.MaskSecret(cfg.Storage.Redis.Password))
		}
	}
	output.Println()

	output.Bold("Bars")
	output.Printf("  Database:          %s (%s)\n", cfg.Storage.SQLite.Path, cfg.Storage.SQLite.Driver)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:             %s\n", cfg.Logging.Level)
	output.Printf("  File:              %v\n", cfg.Logging.File)
	output.Printf("  Batch workers:     %d\n", cfg.Batch.Workers)
	return nil
}
