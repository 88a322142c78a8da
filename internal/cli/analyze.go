package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chanlun-engine/internal/analysis/chanlun"
	"chanlun-engine/internal/feed"
	"chanlun-engine/pkg/utils"
)

func newAnalyzeCmd(app *App) *cobra.Command {
	var (
		csvPath string
		detail  bool
		noState bool
	)

	cmd := &cobra.Command{
		Use:   "analyze CODE",
		Short: "Run the Chan analysis for one instrument",
		Long: `Run the Chan pipeline over the daily history of CODE.

Bars come from --csv when given, otherwise from the SQLite bar history
filled by 'chan bars import'. The stroke label is advanced in the state
store unless --no-state is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			code := args[0]

			bars, err := app.loadBars(ctx, code, csvPath)
			if err != nil {
				return err
			}

			analyzer, closeFn, err := app.newAnalyzer(ctx, !noState)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := analyzer.Analyze(ctx, code, bars)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			printResult(output, result, detail)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "read bars from this csv file")
	cmd.Flags().BoolVar(&detail, "detail", false, "print fractal, stroke and pivot tables")
	cmd.Flags().BoolVar(&noState, "no-state", false, "do not read or advance the persisted stroke state")
	return cmd
}

func printResult(output *Output, r *chanlun.Result, detail bool) {
	output.Println(chanlun.Format(r))

	if r.Transition != nil {
		output.Println()
		t := r.Transition
		switch {
		case t.Degraded:
			output.Warning("Stroke state: %s (state store unavailable, continuity not guaranteed)", t.Corrected)
		case !t.Valid:
			output.Warning("Stroke state: %s -> %s corrected to %s: %s", t.Current, t.Proposed, t.Corrected, t.Warning)
		default:
			output.Success("Stroke state: %s -> %s", t.Current, t.Corrected)
		}
	}

	if !detail || r.InsufficientData {
		return
	}

	output.Println()
	output.Bold("Fractals")
	ft := output.NewTable("#", "Date", "Type", "High", "Low")
	for i, f := range r.Fractals {
		ft.AppendRow([]interface{}{i + 1, utils.FormatDate(f.Date), f.Type, utils.FormatPrice(f.High), utils.FormatPrice(f.Low)})
	}
	ft.Render()

	output.Println()
	output.Bold("Strokes")
	st := output.NewTable("#", "From", "To", "Direction", "High", "Low", "Change", "Power")
	for i, s := range r.Strokes {
		st.AppendRow([]interface{}{
			i + 1,
			utils.FormatDate(s.Start.Date),
			utils.FormatDate(s.End.Date),
			s.Direction,
			utils.FormatPrice(s.High),
			utils.FormatPrice(s.Low),
			utils.FormatChange(s.Start.Value(), s.End.Value()),
			utils.FormatRatio(s.Power),
		})
	}
	st.Render()

	if len(r.Pivots) > 0 {
		output.Println()
		output.Bold("Pivots")
		pt := output.NewTable("#", "Strokes", "ZD", "ZG", "DD", "GG", "Direction")
		for i, p := range r.Pivots {
			pt.AppendRow([]interface{}{
				i + 1,
				fmt.Sprintf("%d-%d", p.First+1, p.Last+1),
				utils.FormatPrice(p.ZD),
				utils.FormatPrice(p.ZG),
				utils.FormatPrice(p.DD),
				utils.FormatPrice(p.GG),
				p.Direction,
			})
		}
		pt.Render()
	}
}

// batchRow is the per-instrument outcome of a batch run.
type batchRow struct {
	Code           string `json:"code"`
	Bars           int    `json:"bars"`
	Score          int    `json:"score"`
	Recommendation string `json:"recommendation"`
	Point          string `json:"buy_sell_point"`
	Trend          string `json:"trend"`
	StrokeState    string `json:"stroke_state,omitempty"`
	Corrected      bool   `json:"corrected,omitempty"`
	Error          string `json:"error,omitempty"`
}

func newBatchCmd(app *App) *cobra.Command {
	var (
		dir     string
		workers int
		noState bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyse every csv file in a directory",
		Long: `Analyse <dir>/<code>.csv for every file in --dir in parallel.

Instruments are independent; a malformed file is reported in its row and
does not stop the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			if workers <= 0 {
				workers = app.Config.Batch.Workers
			}

			provider := feed.NewCSVProvider(dir)
			codes, err := provider.Codes()
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				return fmt.Errorf("no csv files in %s", filepath.Clean(dir))
			}

			analyzer, closeFn, err := app.newAnalyzer(ctx, !noState)
			if err != nil {
				return err
			}
			defer closeFn()

			start := time.Now()
			rows, err := runBatch(ctx, analyzer, provider, codes, workers)
			if err != nil {
				return err
			}
			app.Logger.Info().
				Int("codes", len(codes)).
				Int("workers", workers).
				Dur("elapsed", time.Since(start)).
				Msg("Batch analysis completed")

			if output.IsJSON() {
				return output.JSON(rows)
			}
			printBatch(output, rows, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory of <code>.csv files")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel analyses (default: batch.workers)")
	cmd.Flags().BoolVar(&noState, "no-state", false, "do not read or advance the persisted stroke state")
	return cmd
}

// runBatch analyses codes with at most workers in flight. Rows keep the
// order of codes.
func runBatch(ctx context.Context, analyzer *chanlun.Analyzer, provider feed.Provider, codes []string, workers int) ([]batchRow, error) {
	rows := make([]batchRow, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, code := range codes {
		i, code := i, code
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = analyzeOne(gctx, analyzer, provider, code)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func analyzeOne(ctx context.Context, analyzer *chanlun.Analyzer, provider feed.Provider, code string) batchRow {
	row := batchRow{Code: code}
	bars, err := provider.Bars(ctx, code)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	r, err := analyzer.Analyze(ctx, code, bars)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Bars = r.BarCount
	row.Score = r.Score
	row.Recommendation = r.Recommendation.Tier()
	row.Point = r.Point.String()
	row.Trend = r.Trend.String()
	row.StrokeState = string(r.StrokeState)
	if r.Transition != nil {
		row.Corrected = !r.Transition.Valid
	}
	return row
}

func printBatch(output *Output, rows []batchRow, elapsed time.Duration) {
	t := output.NewTable("Code", "Bars", "Score", "Recommendation", "Point", "Trend", "Stroke state", "Note")
	failed := 0
	for _, r := range rows {
		if r.Error != "" {
			failed++
			t.AppendRow([]interface{}{r.Code, "-", "-", "-", "-", "-", "-", output.Red(utils.TruncateString(r.Error, 60))})
			continue
		}
		note := ""
		if r.Corrected {
			note = output.Yellow("state corrected")
		}
		t.AppendRow([]interface{}{r.Code, r.Bars, output.ScoreText(r.Score), r.Recommendation, r.Point, r.Trend, r.StrokeState, note})
	}
	t.Render()
	output.Dim("%d instruments, %d failed, %s", len(rows), failed, utils.FormatDuration(elapsed))
}
