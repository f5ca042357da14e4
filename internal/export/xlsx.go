package export

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// WorkbookName is the file the xlsx writer creates.
const WorkbookName = "warehouse_snapshot.xlsx"

func init() {
	Register(&XLSXWriter{})
}

// XLSXWriter writes a single workbook with one sheet per relation.
type XLSXWriter struct{}

func (w *XLSXWriter) Name() string { return "xlsx" }

func (w *XLSXWriter) Write(dir string, tables []Table) ([]string, error) {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, t, header); err != nil {
			return nil, fmt.Errorf("failed to write sheet %s: %w", t.Name, err)
		}
	}

	path := filepath.Join(dir, WorkbookName)
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", path, err)
	}
	return []string{path}, nil
}

func writeSheet(f *excelize.File, t Table, header int) error {
	for i, h := range t.Columns {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		cell := col + "1"
		if err := f.SetCellValue(t.Name, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(t.Name, cell, cell, header); err != nil {
			return err
		}
	}

	for r, record := range t.Rows {
		values := make([]any, len(record))
		for c, s := range record {
			values[c] = cellValue(s, c < len(t.Numeric) && t.Numeric[c])
		}
		if err := f.SetSheetRow(t.Name, fmt.Sprintf("A%d", r+2), &values); err != nil {
			return err
		}
	}

	return f.SetPanes(t.Name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// cellValue converts values of numeric columns to float64; "" stays blank.
func cellValue(s string, numeric bool) any {
	if s == "" {
		return nil
	}
	if numeric {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}
