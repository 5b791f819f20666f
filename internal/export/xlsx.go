package export

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"
)

// XLSX stores tables as Excel workbooks, one sheet with a styled header row.
type XLSX struct{}

func (XLSX) Ext() string { return "xlsx" }

func (XLSX) Read(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func (XLSX) Create(path string, sheet Sheet, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	name := sheet.Name
	if name == "" {
		name = "Sheet1"
	}
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 12},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	header := make([]any, len(sheet.Header))
	for i, h := range sheet.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(sheet.Header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", last, headerStyle); err != nil {
		return err
	}
	for i, w := range sheet.Widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(name, col, col, w); err != nil {
			return err
		}
	}

	if err := writeXLSXRows(f, name, 2, rows); err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func (XLSX) Append(path string, rows [][]any) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	existing, err := f.GetRows(name)
	if err != nil {
		return err
	}
	next := len(existing) + 1
	if next < 2 {
		next = 2
	}
	if err := writeXLSXRows(f, name, next, rows); err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func writeXLSXRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	if err != nil {
		return err
	}
	for i, r := range rows {
		rowNum := startRow + i
		start, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		row := r
		if err := f.SetSheetRow(sheet, start, &row); err != nil {
			return errors.Wrapf(err, "write row %d", rowNum)
		}
		end, err := excelize.CoordinatesToCellName(len(r), rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, start, end, style); err != nil {
			return err
		}
	}
	return nil
}
