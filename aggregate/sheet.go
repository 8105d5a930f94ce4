package aggregate

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/yash91989201/bulk-resume-parser/llm"
)

const sheetName = "Resumes"

// WriteSheet writes the records as a spreadsheet: one column per field key
// (sorted, source column last), one row per record, nulls as empty cells.
func WriteSheet(path string, records []llm.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	columns := Columns(records)
	for col, name := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
	}

	for row, rec := range records {
		for col, name := range columns {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, CellString(rec[name])); err != nil {
				return fmt.Errorf("write row %d: %w", row+1, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save spreadsheet: %w", err)
	}
	return nil
}
