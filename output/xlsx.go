package output

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// WriteXLSX saves a single-sheet workbook with a bold header row.
func WriteXLSX(path, sheet string, headers []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return errors.Wrap(err, "SetSheetName")
	}

	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return errors.Wrap(err, "CoordinatesToCellName")
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return errors.Wrap(err, "SetCellValue")
		}
	}
	if len(headers) > 0 {
		style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return errors.Wrap(err, "NewStyle")
		}
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			return errors.Wrap(err, "SetCellStyle")
		}
	}

	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return errors.Wrap(err, "CoordinatesToCellName")
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return errors.Wrap(err, fmt.Sprintf("SetCellValue %s", cell))
			}
		}
	}

	return errors.Wrap(f.SaveAs(path), "SaveAs")
}
