package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHANLUN_STATE_BACKEND", "CHANLUN_STATE_PATH", "CHANLUN_REDIS_ADDR",
		"CHANLUN_REDIS_PASSWORD", "CHANLUN_POSTGRES_DSN", "CHANLUN_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("CHANLUN_LOG_LEVEL", "error")
}

// run executes the root command with args against configDir.
func run(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// zigzagCSV writes a repeating 10..14..10 wave of n bars.
func zigzagCSV(t *testing.T, path string, n int) {
	t.Helper()
	cycle := []float64{10, 11, 12, 13, 14, 13, 12, 11}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("date,open,high,low,close,volume\n")
	for i := 0; i < n; i++ {
		c := cycle[i%len(cycle)]
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,%d\n", day.AddDate(0, 0, i).Format("2006-01-02"), c, c+1, c-1, c, 1000+i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestVersionJSON(t *testing.T) {
	isolateEnv(t)
	out, err := run(t, t.TempDir(), "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v["version"] != Version {
		t.Errorf("version = %s", v["version"])
	}
}

func TestAnalyzeCSV(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	csv := filepath.Join(dir, "600519.csv")
	zigzagCSV(t, csv, 40)

	out, err := run(t, dir, "analyze", "600519", "--csv", csv, "--no-state", "--detail")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"=== 600519 Chan analysis ===", "Score:", "Fractals", "Strokes"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Stroke state:") {
		t.Errorf("--no-state still reported a stroke state:\n%s", out)
	}
}

func TestAnalyzePersistsState(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	csv := filepath.Join(dir, "000001.csv")
	zigzagCSV(t, csv, 40)

	out, err := run(t, dir, "analyze", "000001", "--csv", csv, "--json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var first struct {
		StrokeState string `json:"stroke_state"`
		Transition  struct {
			Valid   bool   `json:"valid"`
			Current string `json:"current"`
		} `json:"transition"`
	}
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if first.StrokeState == "" || first.Transition.Current != string(models.LabelUnknown) {
		t.Fatalf("first run = %+v", first)
	}

	out, err = run(t, dir, "state", "show", "000001", "--json")
	if err != nil {
		t.Fatalf("state show: %v", err)
	}
	var st models.ChanState
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if string(st.CurrentLabel) != first.StrokeState || len(st.History) != 1 {
		t.Errorf("persisted state = %+v, want label %s", st, first.StrokeState)
	}
}

func TestAnalyzeMalformedCSV(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	csv := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(csv, []byte("date,open,high,low,close,volume\n2024-01-02,1,x,1,1,1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, dir, "analyze", "bad", "--csv", csv, "--no-state")
	if err == nil || !strings.Contains(err.Error(), "bars[0].high") {
		t.Fatalf("err = %v, want malformed high", err)
	}
}

func TestRejectsInvalidCode(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	csv := filepath.Join(dir, "ok.csv")
	zigzagCSV(t, csv, 12)

	for _, args := range [][]string{
		{"analyze", "../etc", "--csv", csv, "--no-state"},
		{"state", "show", "a/b"},
		{"state", "validate", "a b", "up"},
		{"bars", "import", "..", "--csv", csv},
	} {
		_, err := run(t, dir, args...)
		if !apperrors.Is(err, apperrors.ErrInvalidCode) {
			t.Errorf("%v: err = %v, want ErrInvalidCode", args, err)
		}
	}
}

func TestBatch(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	if err := os.MkdirAll(data, 0755); err != nil {
		t.Fatal(err)
	}
	zigzagCSV(t, filepath.Join(data, "A.csv"), 40)
	zigzagCSV(t, filepath.Join(data, "B.csv"), 5)
	if err := os.WriteFile(filepath.Join(data, "C.csv"), []byte("date,open,high,low,close,volume\n2024-01-02,1,2,,1,1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, dir, "batch", "--dir", data, "--workers", "2", "--no-state", "--json")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	var rows []batchRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Code != "A" || rows[0].Error != "" || rows[0].Bars != 40 {
		t.Errorf("A = %+v", rows[0])
	}
	if rows[1].Score != 50 || rows[1].Recommendation != "hold" {
		t.Errorf("B (insufficient) = %+v", rows[1])
	}
	if rows[2].Error == "" {
		t.Errorf("C should fail: %+v", rows[2])
	}
}

func TestBarsImportStatusExport(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	csv := filepath.Join(dir, "in.csv")
	zigzagCSV(t, csv, 12)

	if _, err := run(t, dir, "bars", "import", "600000", "--csv", csv); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := run(t, dir, "bars", "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var statuses []struct {
		Code    string `json:"code"`
		HasData bool   `json:"has_data"`
	}
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(statuses) != 1 || statuses[0].Code != "600000" || !statuses[0].HasData {
		t.Errorf("status = %+v", statuses)
	}

	exported := filepath.Join(dir, "out.csv")
	if _, err := run(t, dir, "bars", "export", "600000", "-o", exported); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n"); lines != 12 {
		t.Errorf("exported %d data lines, want 12", lines)
	}

	// Stored history feeds analyze when no csv is given.
	if _, err := run(t, dir, "analyze", "600000", "--no-state"); err != nil {
		t.Fatalf("analyze from store: %v", err)
	}
}

func TestStateValidateApply(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	out, err := run(t, dir, "state", "validate", "X", "up", "--apply", "--date", "2024-03-01", "--json")
	if err != nil {
		t.Fatalf("validate --apply: %v", err)
	}
	if !strings.Contains(out, `"corrected": "up_stroke"`) {
		t.Errorf("unexpected transition: %s", out)
	}

	out, err = run(t, dir, "state", "validate", "X", "down", "--json")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var tr struct {
		Valid     bool   `json:"valid"`
		Corrected string `json:"corrected"`
	}
	if err := json.Unmarshal([]byte(out), &tr); err != nil {
		t.Fatal(err)
	}
	if tr.Valid || tr.Corrected != string(models.LabelPendingTopFractal) {
		t.Errorf("reversal = %+v, want corrected to pending top", tr)
	}

	out, err = run(t, dir, "state", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"current_label": "up_stroke"`) {
		t.Errorf("validate without --apply must not persist: %s", out)
	}

	if _, err := run(t, dir, "state", "validate", "X", "sideways"); err == nil {
		t.Error("unknown label accepted")
	}
}

func TestConfigShowTOML(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	out, err := run(t, dir, "config", "show", "--toml")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[analysis]") || !strings.Contains(out, "divergence_threshold") {
		t.Errorf("unexpected toml:\n%s", out)
	}

	out, err = run(t, dir, "config", "path")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != filepath.Join(dir, "config.toml") {
		t.Errorf("path = %q", out)
	}
}
