package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chanlun-engine/internal/analysis/chanlun"
	"chanlun-engine/internal/feed"
	"chanlun-engine/internal/security"
	"chanlun-engine/internal/store"
	"chanlun-engine/pkg/utils"
)

func newBarsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Manage the stored daily bar history",
		Long:  "Import, export and inspect the bar history kept in the SQLite database.",
	}
	cmd.AddCommand(newBarsImportCmd(app))
	cmd.AddCommand(newBarsExportCmd(app))
	cmd.AddCommand(newBarsStatusCmd(app))
	return cmd
}

func newBarsImportCmd(app *App) *cobra.Command {
	var csvPath string

	cmd := &cobra.Command{
		Use:   "import CODE",
		Short: "Load a csv file into the bar history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			code := args[0]
			if err := security.ValidateCode(code); err != nil {
				return err
			}

			bars, err := feed.ReadFile(csvPath)
			if err != nil {
				return err
			}
			if err := chanlun.ValidateBars(bars); err != nil {
				return err
			}
			bars = chanlun.SortBars(bars)

			db, err := app.openBarStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.SaveBars(ctx, code, bars); err != nil {
				return err
			}
			app.Logger.Info().Str("code", code).Int("bars", len(bars)).Msg("Bars imported")

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"code": code, "imported": len(bars)})
			}
			if len(bars) == 0 {
				output.Warning("No bars in %s", csvPath)
				return nil
			}
			output.Success("Imported %d bars for %s (%s to %s)", len(bars), code,
				utils.FormatDate(bars[0].Date), utils.FormatDate(bars[len(bars)-1].Date))
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "csv file with date,open,high,low,close,volume")
	cmd.MarkFlagRequired("csv")
	return cmd
}

func newBarsExportCmd(app *App) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export CODE",
		Short: "Write the stored history of CODE as csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.openBarStore()
			if err != nil {
				return err
			}
			defer db.Close()

			bars, err := db.Bars(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if outPath == "" {
				return feed.Write(cmd.OutOrStdout(), bars)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := feed.Write(f, bars); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newBarsStatusCmd(app *App) *cobra.Command {
	var staleDays int

	cmd := &cobra.Command{
		Use:   "status [CODE...]",
		Short: "Show how current the stored bar history is",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			db, err := app.openBarStore()
			if err != nil {
				return err
			}
			defer db.Close()

			codes := args
			if err := security.ValidateCodes(codes); err != nil {
				return err
			}
			if len(codes) == 0 {
				if codes, err = db.BarCodes(ctx); err != nil {
					return err
				}
			}

			checker := store.NewFreshnessChecker(db, staleDays)
			statuses, err := checker.CheckAll(ctx, codes)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(statuses)
			}
			if len(statuses) == 0 {
				output.Info("No bars stored. Use 'chan bars import CODE --csv FILE'.")
				return nil
			}
			t := output.NewTable("Code", "Last bar", "Age (days)", "Status")
			for _, s := range statuses {
				status := output.Green("fresh")
				switch {
				case !s.HasData:
					status = output.Red("no data")
				case !s.IsFresh:
					status = output.Yellow("stale")
				}
				age := "-"
				if s.HasData {
					age = fmt.Sprintf("%d", s.StaleAge)
				}
				t.AppendRow([]interface{}{s.Code, utils.FormatDate(s.LastBar), age, status})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&staleDays, "stale-days", store.DefaultStaleDays, "days after the last bar before history counts as stale")
	return cmd
}
