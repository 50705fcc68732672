package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"armory-planner/internal/allocator"
	"armory-planner/internal/cost"
	"armory-planner/internal/plan"
)

// Sheet names of the exported workbooks.
const (
	SheetSummary   = "Summary"
	SheetItems     = "Items"
	SheetSteps     = "Steps"
	SheetMaterials = "Materials"
	SheetPlan      = "Plan"
)

type sheetWriter struct {
	f      *excelize.File
	header int // style ID for header rows
}

func newWorkbook(first string) (*sheetWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", first); err != nil {
		f.Close()
		return nil, err
	}
	id, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sheetWriter{f: f, header: id}, nil
}

func (w *sheetWriter) sheet(name string) error {
	if idx, _ := w.f.GetSheetIndex(name); idx >= 0 {
		return nil
	}
	_, err := w.f.NewSheet(name)
	return err
}

// table writes a header row and data rows starting at A1.
func (w *sheetWriter) table(sheet string, header []any, rows [][]any) error {
	if err := w.sheet(sheet); err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, w.header); err != nil {
		return err
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := w.f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *sheetWriter) finish(out io.Writer, active string) error {
	defer w.f.Close()
	if idx, err := w.f.GetSheetIndex(active); err == nil && idx >= 0 {
		w.f.SetActiveSheet(idx)
	}
	if _, err := w.f.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func label(cat *cost.Catalog, track string, level int) string {
	t, err := cat.Track(track)
	if err != nil {
		return ""
	}
	l, _ := t.Ladder().Label(level)
	return l
}

// WriteResultXLSX exports an allocation result as a workbook with summary,
// item, step and material sheets.
func WriteResultXLSX(out io.Writer, res allocator.Result, cat *cost.Catalog) error {
	w, err := newWorkbook(SheetSummary)
	if err != nil {
		return err
	}

	summary := [][]any{
		{"upgraded", res.Upgraded},
		{"stop", string(res.Stop)},
		{"steps", len(res.Steps)},
		{"spent", res.Spent},
		{"remaining", res.Remaining},
	}
	for _, g := range res.Groups {
		for _, tl := range g.Tracks {
			summary = append(summary, []any{fmt.Sprintf("%s %s min", g.Group, tl.Track), tl.Min})
		}
		if g.RatioPercent > 0 {
			summary = append(summary, []any{g.Group + " ratio %", g.RatioPercent})
		}
	}
	if err := w.table(SheetSummary, []any{"Field", "Value"}, summary); err != nil {
		return err
	}

	items := make([][]any, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, []any{
			it.Name, it.Group, it.Track,
			it.From, label(cat, it.Track, it.From),
			it.To, label(cat, it.Track, it.To),
			it.To - it.From,
		})
	}
	if err := w.table(SheetItems, []any{"Item", "Group", "Track", "From", "From Label", "To", "To Label", "Gain"}, items); err != nil {
		return err
	}

	steps := make([][]any, 0, len(res.Steps))
	for _, s := range res.Steps {
		steps = append(steps, []any{s.Seq, s.Item, s.Group, s.Track, s.From, s.To, s.Spent, s.Remaining})
	}
	if err := w.table(SheetSteps, []any{"Seq", "Item", "Group", "Track", "From", "To", "Spent", "Remaining"}, steps); err != nil {
		return err
	}

	var mats [][]any
	for _, m := range cat.Materials() {
		if _, used := res.Inventory[m.Key]; !used && res.Consumed[m.Key] == 0 {
			continue
		}
		mats = append(mats, []any{
			string(m.Key), m.Label,
			res.Consumed[m.Key], res.FromStock[m.Key], res.Bought[m.Key], res.Inventory[m.Key],
		})
	}
	if err := w.table(SheetMaterials, []any{"Material", "Label", "Consumed", "From Stock", "Bought", "Left"}, mats); err != nil {
		return err
	}

	return w.finish(out, SheetSummary)
}

// WritePlanXLSX exports an upgrade plan: one row per target, then totals.
func WritePlanXLSX(out io.Writer, p *plan.Plan, cat *cost.Catalog) error {
	w, err := newWorkbook(SheetPlan)
	if err != nil {
		return err
	}

	mats := cat.Materials()
	header := []any{"Item", "Track", "From", "To"}
	for _, m := range mats {
		header = append(header, m.Label)
	}
	header = append(header, "Price")

	var rows [][]any
	for _, l := range p.Lines {
		row := []any{l.Name, l.Track, label(cat, l.Track, l.From), label(cat, l.Track, l.To)}
		for _, m := range mats {
			row = append(row, l.Need[m.Key])
		}
		rows = append(rows, append(row, l.Price))
	}
	for _, total := range []struct {
		name string
		b    cost.Bill
	}{{"total", p.Need}, {"covered", p.Covered}, {"shortfall", p.Shortfall}, {"missing", p.Missing}} {
		row := []any{total.name, "", "", ""}
		for _, m := range mats {
			row = append(row, total.b[m.Key])
		}
		rows = append(rows, row)
	}
	rows = append(rows,
		[]any{"points", "", "", "", p.Points},
		[]any{"budget", "", "", "", p.Budget},
		[]any{"left", "", "", "", p.Left},
	)
	if err := w.table(SheetPlan, header, rows); err != nil {
		return err
	}
	return w.finish(out, SheetPlan)
}
