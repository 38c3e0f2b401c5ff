package workbook

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kilianp07/evstation/core/model"
)

// TimeLayout is the text layout used for every time written to a workbook.
const TimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidScenario, fmt.Sprintf(format, args...))
}

// table is one sheet read as a header row and data rows. Header lookups
// ignore case and surrounding spaces.
type table struct {
	sheet  string
	header []string
	cols   map[string]int
	rows   [][]string
	loc    *time.Location
}

func readTable(f *excelize.File, sheet string, loc *time.Location) (*table, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, invalid("sheet %s: %v", sheet, err)
	}
	if len(rows) == 0 {
		return nil, invalid("sheet %s is empty", sheet)
	}
	if loc == nil {
		loc = time.UTC
	}
	t := &table{sheet: sheet, header: rows[0], cols: make(map[string]int, len(rows[0])), loc: loc}
	for i, h := range rows[0] {
		t.cols[normalize(h)] = i
	}
	for _, r := range rows[1:] {
		if !blank(r) {
			t.rows = append(t.rows, r)
		}
	}
	return t, nil
}

func hasSheet(f *excelize.File, sheet string) bool {
	idx, err := f.GetSheetIndex(sheet)
	return err == nil && idx >= 0
}

func normalize(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (t *table) require(names ...string) error {
	for _, n := range names {
		if _, ok := t.cols[normalize(n)]; !ok {
			return invalid("sheet %s: missing column %q", t.sheet, n)
		}
	}
	return nil
}

// column returns the first header starting with prefix.
func (t *table) column(prefix string) (string, bool) {
	p := normalize(prefix)
	for _, h := range t.header {
		if strings.HasPrefix(normalize(h), p) {
			return h, true
		}
	}
	return "", false
}

func (t *table) cell(r []string, name string) string {
	i, ok := t.cols[normalize(name)]
	if !ok || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

func (t *table) float(r []string, name string) (float64, error) {
	s := t.cell(r, name)
	if s == "" {
		return 0, invalid("sheet %s: empty %q", t.sheet, name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalid("sheet %s: %q is not a number: %q", t.sheet, name, s)
	}
	return v, nil
}

func (t *table) floatOr(r []string, name string, def float64) (float64, error) {
	if t.cell(r, name) == "" {
		return def, nil
	}
	return t.float(r, name)
}

// time returns the zero time for an empty cell.
func (t *table) time(r []string, name string) (time.Time, error) {
	s := t.cell(r, name)
	if s == "" {
		return time.Time{}, nil
	}
	v, err := parseTime(s, t.loc)
	if err != nil {
		return time.Time{}, invalid("sheet %s: %q: %v", t.sheet, name, err)
	}
	return v, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		v, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		v = v.Round(time.Second)
		return time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), 0, loc), nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.ParseInLocation(layout, s, loc); err == nil {
			return v, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// parseClock reads a time of day as "HH:MM[:SS]" or as an Excel day
// fraction. "24:00" is the end of the day.
func parseClock(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 || f > 1 {
			return 0, fmt.Errorf("day fraction %g outside [0, 1]", f)
		}
		return (time.Duration(math.Round(f*86400)) * time.Second), nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("unrecognised time of day %q", s)
	}
	var d time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognised time of day %q", s)
		}
		d += time.Duration(n) * units[i]
	}
	if d > 24*time.Hour {
		return 0, fmt.Errorf("time of day %q past midnight", s)
	}
	return d, nil
}

func (t *table) clock(r []string, name string) (time.Duration, error) {
	s := t.cell(r, name)
	if s == "" {
		return 0, invalid("sheet %s: empty %q", t.sheet, name)
	}
	d, err := parseClock(s)
	if err != nil {
		return 0, invalid("sheet %s: %q: %v", t.sheet, name, err)
	}
	return d, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(TimeLayout)
}

// sheetWriter streams rows into one sheet of a new file.
type sheetWriter struct {
	sw  *excelize.StreamWriter
	row int
}

func newSheet(f *excelize.File, name string, first bool) (*sheetWriter, error) {
	if first {
		if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
			return nil, err
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return nil, err
	}
	return &sheetWriter{sw: sw, row: 1}, nil
}

func (w *sheetWriter) add(values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	w.row++
	return w.sw.SetRow(cell, values)
}

func (w *sheetWriter) flush() error { return w.sw.Flush() }

// finite maps infinite bounds to an empty cell.
func finite(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}
