package pipeline

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"hspack/internal"
	"hspack/internal/hscodes"
	"hspack/internal/util"
)

// BuildExportRows turns classified items into line-detail export rows,
// ordered valid -> review -> exclude, then by line index.
func BuildExportRows(vocab *hscodes.Vocabulary, items []internal.ClassifiedItem) []internal.ExportRow {
	out := make([]internal.ExportRow, 0, len(items))
	for _, item := range items {
		outcome := vocab.Validate(util.Deref(item.HsCode), util.Deref(item.Category))
		out = append(out, internal.ExportRow{
			LineIndex:        item.LineIndex,
			RawLine:          item.RawLine,
			Description:      item.DetectedDescription,
			Quantity:         item.DetectedQuantity,
			Unit:             item.DetectedUnit,
			Category:         item.Category,
			HsCode:           item.HsCode,
			CleanDescription: item.CleanDescription,
			Confidence:       item.Confidence,
			Status:           string(outcome.Status),
		})
	}

	rank := map[string]int{
		string(hscodes.StatusValid):   1,
		string(hscodes.StatusReview):  2,
		string(hscodes.StatusExclude): 3,
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Status] != rank[out[j].Status] {
			return rank[out[i].Status] < rank[out[j].Status]
		}
		return out[i].LineIndex < out[j].LineIndex
	})
	return out
}

// ExportToXLSX renders the grouped result to a spreadsheet: one sheet with
// the per-HS-code aggregates, one with the underlying line detail.
func ExportToXLSX(grouped []internal.GroupedItem, lines []internal.ExportRow, outputPath string) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetName(sheet, "Grouped")

	groupedHeaders := []string{"hs_code", "category", "final_description", "total_quantity", "unit"}
	for i, h := range groupedHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue("Grouped", cell, h)
	}
	for i, g := range grouped {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue("Grouped", cell, value)
		}
		set(1, g.HsCode)
		set(2, g.Category)
		set(3, g.FinalDescription)
		set(4, g.TotalQuantity)
		set(5, util.Deref(g.Unit))
	}

	const linesSheet = "Lines"
	if _, err := f.NewSheet(linesSheet); err != nil {
		return err
	}
	lineHeaders := []string{
		"line_no", "raw_line", "description", "qty", "unit",
		"category", "hs_code", "clean_description", "confidence", "status",
	}
	for i, h := range lineHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(linesSheet, cell, h)
	}
	for i, row := range lines {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(linesSheet, cell, value)
		}
		set(1, row.LineIndex)
		set(2, row.RawLine)
		set(3, util.Deref(row.Description))
		set(4, derefInt(row.Quantity))
		set(5, util.Deref(row.Unit))
		set(6, util.Deref(row.Category))
		set(7, util.Deref(row.HsCode))
		set(8, util.Deref(row.CleanDescription))
		set(9, derefFloat(row.Confidence))
		set(10, row.Status)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
