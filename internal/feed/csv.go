package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
	"chanlun-engine/internal/security"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{"2006-01-02", "2006/01/02", "20060102", time.RFC3339}

// csvRow is one line of a bar file. Fields stay textual so a missing or
// non-numeric value can be reported with its row and column.
type csvRow struct {
	Date   string `csv:"date"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume"`
}

// CSVProvider reads <dir>/<code>.csv files with a
// date,open,high,low,close,volume header.
type CSVProvider struct {
	dir string
}

// NewCSVProvider creates a provider rooted at dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

// Dir returns the directory the provider reads from.
func (p *CSVProvider) Dir() string { return p.dir }

// Path returns the file backing code.
func (p *CSVProvider) Path(code string) string {
	return filepath.Join(p.dir, code+".csv")
}

// Bars reads the history of code.
func (p *CSVProvider) Bars(ctx context.Context, code string) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := security.ValidateCode(code); err != nil {
		return nil, err
	}
	bars, err := ReadFile(p.Path(code))
	if apperrors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewDataError("bars", code, "no csv file", apperrors.ErrDataNotFound)
	}
	return bars, err
}

// Codes lists the instrument codes with a csv file in the directory.
func (p *CSVProvider) Codes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	sort.Strings(codes)
	return codes, nil
}

// ReadFile parses the bar file at path.
func ReadFile(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Read(f)
}

// Read parses bars from r. A row with a missing or unparsable price fails
// with an error matching ErrMalformedBar; volume may be empty.
func Read(r io.Reader) ([]models.Bar, error) {
	var rows []*csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, apperrors.Wrap(err, "parse csv")
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		b, err := row.bar(i)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (r *csvRow) bar(i int) (models.Bar, error) {
	var b models.Bar

	date, err := parseDate(r.Date)
	if err != nil {
		return b, rowError(i, models.FieldDate, r.Date, err.Error())
	}
	b.Date = date

	prices := []struct {
		field models.BarField
		raw   string
		dst   *float64
	}{
		{models.FieldOpen, r.Open, &b.Open},
		{models.FieldHigh, r.High, &b.High},
		{models.FieldLow, r.Low, &b.Low},
		{models.FieldClose, r.Close, &b.Close},
	}
	for _, p := range prices {
		raw := strings.TrimSpace(p.raw)
		if raw == "" {
			return b, rowError(i, p.field, p.raw, "missing value")
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return b, rowError(i, p.field, p.raw, "not a number")
		}
		*p.dst = v
	}

	if raw := strings.TrimSpace(r.Volume); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return b, rowError(i, models.FieldVolume, r.Volume, "not a number")
		}
		b.Volume = int64(v)
	}
	return b, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date")
}

func rowError(i int, field models.BarField, value, msg string) error {
	return apperrors.NewMalformedBarError(i, string(field), value, "csv row "+strconv.Itoa(i+2)+": "+msg)
}

// Write renders bars as csv with a header line.
func Write(w io.Writer, bars []models.Bar) error {
	rows := make([]*csvRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, &csvRow{
			Date:   b.Date.Format(dateLayouts[0]),
			Open:   strconv.FormatFloat(b.Open, 'f', -1, 64),
			High:   strconv.FormatFloat(b.High, 'f', -1, 64),
			Low:    strconv.FormatFloat(b.Low, 'f', -1, 64),
			Close:  strconv.FormatFloat(b.Close, 'f', -1, 64),
			Volume: strconv.FormatInt(b.Volume, 10),
		})
	}
	return gocsv.Marshal(rows, w)
}
