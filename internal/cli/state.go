package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chanlun-engine/internal/models"
	"chanlun-engine/internal/security"
	"chanlun-engine/internal/statemachine"
	"chanlun-engine/internal/store"
	"chanlun-engine/pkg/utils"
)

func newStateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and validate persisted stroke state",
		Long: `Inspect the stroke label kept per instrument between runs.

Valid moves:
  up_stroke              -> pending_top_fractal, up_stroke_continuation
  pending_top_fractal    -> down_stroke, up_stroke_continuation
  down_stroke            -> pending_bottom_fractal, down_stroke_continuation
  pending_bottom_fractal -> up_stroke, down_stroke_continuation
  unknown                -> anything`,
	}
	cmd.AddCommand(newStateShowCmd(app))
	cmd.AddCommand(newStateListCmd(app))
	cmd.AddCommand(newStateValidateCmd(app))
	return cmd
}

func newStateShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show CODE",
		Short: "Show the persisted state of an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			if err := security.ValidateCode(args[0]); err != nil {
				return err
			}

			st, err := app.openStateStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := app.newMachine(st).State(ctx, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(state)
			}
			printState(output, state, st.Backend())
			return nil
		},
	}
}

func printState(output *Output, s *models.ChanState, backend string) {
	output.Bold("%s", s.Code)
	output.Printf("  Label:        %s\n", s.CurrentLabel)
	output.Printf("  Last update:  %s\n", orDash(s.LastUpdate))
	if s.PivotLow != nil && s.PivotHigh != nil {
		output.Printf("  Pivot:        %s - %s\n", utils.FormatPrice(*s.PivotLow), utils.FormatPrice(*s.PivotHigh))
	}
	next := make([]string, 0, len(statemachine.Labels))
	for _, l := range statemachine.Successors(s.CurrentLabel) {
		next = append(next, string(l))
	}
	output.Printf("  Next allowed: %s\n", strings.Join(next, ", "))
	output.Dim("  Backend:      %s", backend)

	if len(s.History) == 0 {
		return
	}
	output.Println()
	t := output.NewTable("#", "Replaced on", "Label")
	for i := len(s.History) - 1; i >= 0; i-- {
		h := s.History[i]
		t.AppendRow([]interface{}{len(s.History) - i, orDash(h.Date), h.Label})
	}
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newStateListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every instrument with persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			st, err := app.openStateStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			codes, err := st.Codes(ctx)
			if err != nil {
				return err
			}
			states := make([]*models.ChanState, 0, len(codes))
			for _, code := range codes {
				s, err := st.Load(ctx, code)
				if err != nil {
					return err
				}
				states = append(states, s)
			}

			if output.IsJSON() {
				return output.JSON(states)
			}
			if len(states) == 0 {
				output.Info("No stroke state stored in the %s backend.", st.Backend())
				return nil
			}
			t := output.NewTable("Code", "Label", "Last update", "History")
			for _, s := range states {
				t.AppendRow([]interface{}{s.Code, s.CurrentLabel, orDash(s.LastUpdate), len(s.History)})
			}
			t.Render()
			return nil
		},
	}
}

func newStateValidateCmd(app *App) *cobra.Command {
	var (
		date  string
		apply bool
	)

	cmd := &cobra.Command{
		Use:   "validate CODE LABEL",
		Short: "Check a proposed stroke label against the persisted state",
		Long: `Check LABEL against the state of CODE. Aliases such as "up", "rising",
"down" or "falling" are accepted. With --apply the corrected label is
persisted as a run dated --date would persist it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			code := args[0]
			if err := security.ValidateCode(code); err != nil {
				return err
			}

			proposed, err := statemachine.ParseLabel(args[1])
			if err != nil {
				return err
			}
			if date == "" {
				date = time.Now().Format("2006-01-02")
			} else if err := security.ValidateDate(date); err != nil {
				return err
			}

			st, err := app.openStateStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			machine := app.newMachine(st)

			var t statemachine.Transition
			if apply {
				t = machine.Advance(ctx, statemachine.Request{Code: code, Proposed: proposed, Date: date})
			} else {
				t = machine.Validate(ctx, code, proposed)
			}

			if output.IsJSON() {
				return output.JSON(t)
			}
			printTransition(output, t, apply, st.Backend())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date recorded with --apply (default: today)")
	cmd.Flags().BoolVar(&apply, "apply", false, "persist the corrected label")
	return cmd
}

func printTransition(output *Output, t statemachine.Transition, applied bool, backend string) {
	switch {
	case t.Degraded:
		output.Error("State store %s unavailable: checked against %s", backend, models.LabelUnknown)
	case t.Valid:
		output.Success("%s -> %s is valid", t.Current, t.Corrected)
	default:
		output.Warning("%s -> %s is illegal, corrected to %s", t.Current, t.Proposed, t.Corrected)
		output.Dim("  %s", t.Warning)
	}
	if applied && !t.Degraded {
		output.Info("Persisted %s in the %s backend", t.Corrected, backend)
	}
	if backend == store.BackendMemory && applied {
		output.Dim("The memory backend does not outlive this process.")
	}
}
