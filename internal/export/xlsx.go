package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/fundo/internal/domain"
	"github.com/mtlprog/fundo/internal/report"
)

// headerFill is the light green of the header rows, shared with the Sheets layout.
const headerFill = "D9EAD3"

// XLSXWriter writes one workbook per report into a directory.
type XLSXWriter struct {
	dir string
}

// NewXLSXWriter creates an XLSXWriter writing into dir.
func NewXLSXWriter(dir string) *XLSXWriter {
	return &XLSXWriter{dir: dir}
}

// Path returns the workbook path of a report.
func (w *XLSXWriter) Path(data report.Data) string {
	return filepath.Join(w.dir, fmt.Sprintf("nav-%s.xlsx", data.Date.Format(domain.DateLayout)))
}

// Export writes the report workbook, replacing a previous one of the same date.
func (w *XLSXWriter) Export(_ context.Context, data report.Data) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	path := w.Path(data)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteXLSX(f, data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	slog.Info("export: workbook written", "path", path)
	return nil
}

// WriteXLSX renders the report as a workbook with NAV, SHARES and HOLDINGS sheets.
func WriteXLSX(out io.Writer, data report.Data) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for i, t := range buildTables(data) {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), t.name); err != nil {
				return fmt.Errorf("naming sheet %s: %w", t.name, err)
			}
		} else if _, err := f.NewSheet(t.name); err != nil {
			return fmt.Errorf("adding sheet %s: %w", t.name, err)
		}
		if err := writeTable(f, t, header); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, t table, headerStyle int) error {
	width := 0
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.name, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", t.name, i+1, err)
		}
		width = max(width, len(row))
	}
	if width == 0 {
		return nil
	}

	last, err := excelize.ColumnNumberToName(width)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(t.name, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", t.name, err)
	}
	if err := f.SetColWidth(t.name, "A", last, 16); err != nil {
		return fmt.Errorf("sizing %s columns: %w", t.name, err)
	}
	return f.SetPanes(t.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
