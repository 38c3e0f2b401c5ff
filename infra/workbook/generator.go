package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/evstation/core/scenario"
)

// LoadIndependent reads an independent-PDFs workbook: ArrivalTime and
// DepartureTime (TimeID, Start, End, Weekday, Weekend), ArrivalSoC and
// DepartureSoC (SoCID, Lower, Upper, Probability) and EVData.
func LoadIndependent(path string) (scenario.Independent, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return scenario.Independent{}, fmt.Errorf("open generator workbook: %w", err)
	}
	defer f.Close()
	return ReadIndependent(f)
}

// ReadIndependent is LoadIndependent on an open file.
func ReadIndependent(f *excelize.File) (scenario.Independent, error) {
	var in scenario.Independent
	var err error
	if in.Arrival, err = readTimePDF(f, "ArrivalTime"); err != nil {
		return in, err
	}
	if in.Departure, err = readTimePDF(f, "DepartureTime"); err != nil {
		return in, err
	}
	if in.ArrivalSoC, err = readSoCPDF(f, "ArrivalSoC"); err != nil {
		return in, err
	}
	if in.DepartureSoC, err = readSoCPDF(f, "DepartureSoC"); err != nil {
		return in, err
	}
	in.Models, err = readModels(f)
	return in, err
}

// LoadConditional reads a conditional-PDFs workbook: TimeID and SoCID bin
// tables and the TimeProbabilityDistribution and SoCProbabilityDistribution
// matrices, rows indexed by arrival bin and columns by departure bin.
func LoadConditional(path string) (scenario.Conditional, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return scenario.Conditional{}, fmt.Errorf("open generator workbook: %w", err)
	}
	defer f.Close()
	return ReadConditional(f)
}

// ReadConditional is LoadConditional on an open file.
func ReadConditional(f *excelize.File) (scenario.Conditional, error) {
	var in scenario.Conditional
	var err error
	if in.TimeBins, err = readTimeBins(f, "TimeID"); err != nil {
		return in, err
	}
	if in.SoCBins, err = readSoCBins(f, "SoCID"); err != nil {
		return in, err
	}
	ids := make([]string, len(in.TimeBins))
	for i, b := range in.TimeBins {
		ids[i] = b.ID
	}
	if in.TimeJoint, err = readMatrix(f, "TimeProbabilityDistribution", ids); err != nil {
		return in, err
	}
	ids = make([]string, len(in.SoCBins))
	for i, b := range in.SoCBins {
		ids[i] = b.ID
	}
	if in.SoCJoint, err = readMatrix(f, "SoCProbabilityDistribution", ids); err != nil {
		return in, err
	}
	in.Models, err = readModels(f)
	return in, err
}

func readTimeBins(f *excelize.File, sheet string) ([]scenario.TimeBin, error) {
	t, err := readTable(f, sheet, nil)
	if err != nil {
		return nil, err
	}
	if err := t.require("TimeID", "Start", "End"); err != nil {
		return nil, err
	}
	bins := make([]scenario.TimeBin, 0, len(t.rows))
	for _, r := range t.rows {
		b := scenario.TimeBin{ID: t.cell(r, "TimeID")}
		if b.Start, err = t.clock(r, "Start"); err != nil {
			return nil, err
		}
		if b.End, err = t.clock(r, "End"); err != nil {
			return nil, err
		}
		bins = append(bins, b)
	}
	return bins, nil
}

func readTimePDF(f *excelize.File, sheet string) (scenario.TimePDF, error) {
	bins, err := readTimeBins(f, sheet)
	if err != nil {
		return scenario.TimePDF{}, err
	}
	t, _ := readTable(f, sheet, nil)
	if err := t.require("Weekday", "Weekend"); err != nil {
		return scenario.TimePDF{}, err
	}
	pdf := scenario.TimePDF{Bins: bins}
	for _, r := range t.rows {
		wd, err := t.float(r, "Weekday")
		if err != nil {
			return pdf, err
		}
		we, err := t.float(r, "Weekend")
		if err != nil {
			return pdf, err
		}
		pdf.Weekday = append(pdf.Weekday, wd)
		pdf.Weekend = append(pdf.Weekend, we)
	}
	pdf.Weekday = probabilities(pdf.Weekday)
	pdf.Weekend = probabilities(pdf.Weekend)
	return pdf, nil
}

func readSoCBins(f *excelize.File, sheet string) ([]scenario.SoCBin, error) {
	t, err := readTable(f, sheet, nil)
	if err != nil {
		return nil, err
	}
	if err := t.require("SoCID", "Lower", "Upper"); err != nil {
		return nil, err
	}
	bins := make([]scenario.SoCBin, 0, len(t.rows))
	percent := false
	for _, r := range t.rows {
		b := scenario.SoCBin{ID: t.cell(r, "SoCID")}
		if b.Lower, err = t.float(r, "Lower"); err != nil {
			return nil, err
		}
		if b.Upper, err = t.float(r, "Upper"); err != nil {
			return nil, err
		}
		percent = percent || b.Upper > 1
		bins = append(bins, b)
	}
	if percent {
		for i := range bins {
			bins[i].Lower /= 100
			bins[i].Upper /= 100
		}
	}
	return bins, nil
}

func readSoCPDF(f *excelize.File, sheet string) (scenario.SoCPDF, error) {
	bins, err := readSoCBins(f, sheet)
	if err != nil {
		return scenario.SoCPDF{}, err
	}
	t, _ := readTable(f, sheet, nil)
	col, ok := t.column("Prob")
	if !ok {
		return scenario.SoCPDF{}, invalid("sheet %s: missing column %q", sheet, "Probability")
	}
	pdf := scenario.SoCPDF{Bins: bins}
	for _, r := range t.rows {
		p, err := t.float(r, col)
		if err != nil {
			return pdf, err
		}
		pdf.Prob = append(pdf.Prob, p)
	}
	pdf.Prob = probabilities(pdf.Prob)
	return pdf, nil
}

// readMatrix reads a square table whose first column holds the row bin ids
// and whose header holds the column bin ids, both in the order of ids.
func readMatrix(f *excelize.File, sheet string, ids []string) ([][]float64, error) {
	t, err := readTable(f, sheet, nil)
	if err != nil {
		return nil, err
	}
	if err := t.require(ids...); err != nil {
		return nil, err
	}
	byID := make(map[string][]string, len(t.rows))
	for _, r := range t.rows {
		if len(r) > 0 {
			byID[normalize(r[0])] = r
		}
	}
	out := make([][]float64, len(ids))
	var flat []float64
	for i, id := range ids {
		r, ok := byID[normalize(id)]
		if !ok {
			return nil, invalid("sheet %s: missing row %q", sheet, id)
		}
		out[i] = make([]float64, len(ids))
		for j, col := range ids {
			if out[i][j], err = t.floatOr(r, col, 0); err != nil {
				return nil, err
			}
		}
		flat = append(flat, out[i]...)
	}
	if floats.Sum(flat) > 1+1e-9 {
		for i := range out {
			floats.Scale(0.01, out[i])
		}
	}
	return out, nil
}

func readModels(f *excelize.File) ([]scenario.EVModel, error) {
	t, err := readTable(f, "EVData", nil)
	if err != nil {
		return nil, err
	}
	if err := t.require("Model", "Battery Capacity (kWh)", "p_max_ch", "p_max_ds", "Share"); err != nil {
		return nil, err
	}
	var models []scenario.EVModel
	var shares []float64
	for _, r := range t.rows {
		m := scenario.EVModel{Name: t.cell(r, "Model")}
		if m.Capacity, err = t.float(r, "Battery Capacity (kWh)"); err != nil {
			return nil, err
		}
		if m.MaxCharge, err = t.float(r, "p_max_ch"); err != nil {
			return nil, err
		}
		if m.MaxDischarge, err = t.float(r, "p_max_ds"); err != nil {
			return nil, err
		}
		if m.Share, err = t.float(r, "Share"); err != nil {
			return nil, err
		}
		models = append(models, m)
		shares = append(shares, m.Share)
	}
	for i, s := range probabilities(shares) {
		models[i].Share = s
	}
	return models, nil
}

// probabilities converts percentages to ratios. A column summing to more
// than one is read as percent.
func probabilities(w []float64) []float64 {
	if floats.Sum(w) <= 1+1e-9 {
		return w
	}
	out := make([]float64, len(w))
	floats.ScaleTo(out, 0.01, w)
	return out
}
