package export

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/mtlprog/fundo/internal/report"
	"github.com/mtlprog/fundo/internal/shares"
)

// monitoringCol describes one column of the MONITORING sheet.
type monitoringCol struct {
	header string
	value  func(report.Data) any
}

// monitoringColumns are the data columns from B on; column A is the date.
var monitoringColumns = []monitoringCol{
	{header: "NAV EUR", value: func(d report.Data) any { return toFloat(d.Valuation.NAV) }},
	{header: "Cash EUR", value: func(d report.Data) any { return toFloat(d.Valuation.CashEUR) }},
	{header: "Holdings EUR", value: func(d report.Data) any { return toFloat(d.Valuation.HoldingsEUR) }},
	{header: "Total shares", value: func(d report.Data) any { return toFloat(d.Valuation.TotalShares) }},
	{header: "NAV per share", value: func(d report.Data) any { return toFloat(d.Valuation.NAVPerShare) }},
	{header: "Members", value: func(d report.Data) any {
		return float64(lo.CountBy(d.Register, func(o shares.Ownership) bool { return o.Shares.IsPositive() }))
	}},
	{header: "Largest stake %", value: func(d report.Data) any {
		if len(d.Register) == 0 {
			return nil
		}
		top := lo.MaxBy(d.Register, func(a, b shares.Ownership) bool { return a.Pct.GreaterThan(b.Pct) })
		return toFloat(top.Pct)
	}},
	{header: "Assets held", value: func(d report.Data) any { return float64(len(d.Valuation.Holdings)) }},
	{header: "Crypto share %", value: func(d report.Data) any {
		return weight(d.Valuation.HoldingsEUR, d.Valuation.NAV)
	}},
	{header: "Missing prices", value: func(d report.Data) any { return float64(len(d.Valuation.MissingPrices)) }},
}

// monitoringIntegerCols lists column indices (0-based) that use #,##0 format.
var monitoringIntegerCols = []int{1, 2, 3, 6, 8, 10}

// buildMonitoringRows builds header rows and one data row for the MONITORING sheet.
func buildMonitoringRows(data report.Data) (headerRows [][]any, dataRow []any) {
	colNums := make([]any, 1+len(monitoringColumns))
	colNums[0] = ""
	for i := range monitoringColumns {
		colNums[i+1] = float64(i + 1)
	}

	headers := make([]any, 1+len(monitoringColumns))
	headers[0] = "Date"
	for i, col := range monitoringColumns {
		headers[i+1] = col.header
	}

	dataRow = make([]any, 1+len(monitoringColumns))
	dataRow[0] = data.Date.UTC().Format("02.01.2006")
	for i, col := range monitoringColumns {
		dataRow[i+1] = col.value(data)
	}

	return [][]any{colNums, headers}, dataRow
}

// appendMonitoring writes header rows if the sheet is new or empty, then
// appends one data row for the report.
func (w *SheetsWriter) appendMonitoring(ctx context.Context, data report.Data, mon sheetMeta) error {
	headerRows, dataRow := buildMonitoringRows(data)
	lastCol, err := excelize.ColumnNumberToName(len(monitoringColumns) + 1)
	if err != nil {
		return err
	}

	existing, err := w.svc.Spreadsheets.Values.Get(
		w.spreadsheetID, sheetMonitoring+"!A1:A2",
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading MONITORING headers: %w", err)
	}

	if len(existing.Values) < 2 {
		_, err = w.svc.Spreadsheets.Values.Update(
			w.spreadsheetID,
			sheetMonitoring+"!A1",
			&sheets.ValueRange{Values: headerRows},
		).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("writing MONITORING headers: %w", err)
		}
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		sheetMonitoring+"!A:"+lastCol,
		&sheets.ValueRange{Values: [][]any{dataRow}},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending MONITORING row: %w", err)
	}

	if err := w.applyMonitoringFormatting(ctx, mon); err != nil {
		return fmt.Errorf("formatting MONITORING sheet: %w", err)
	}

	return nil
}

// applyMonitoringFormatting colours the two header rows, freezes them with
// the date column and sets number formats.
func (w *SheetsWriter) applyMonitoringFormatting(ctx context.Context, mon sheetMeta) error {
	lightGreen := &sheets.Color{Red: 0.851, Green: 0.918, Blue: 0.827}
	totalCols := int64(len(monitoringColumns) + 1)

	var reqs []*sheets.Request

	reqs = append(reqs, cellFormatReq(mon.id, 0, 2, 0, totalCols,
		&sheets.CellFormat{
			BackgroundColor:     lightGreen,
			TextFormat:          &sheets.TextFormat{Bold: true, FontSize: 9},
			HorizontalAlignment: "CENTER",
			VerticalAlignment:   "MIDDLE",
			WrapStrategy:        "WRAP",
		},
		"userEnteredFormat(backgroundColor,textFormat,horizontalAlignment,verticalAlignment,wrapStrategy)"))

	reqs = append(reqs, &sheets.Request{
		UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId: mon.id,
				GridProperties: &sheets.GridProperties{
					FrozenRowCount:    2,
					FrozenColumnCount: 1,
				},
			},
			Fields: "gridProperties.frozenRowCount,gridProperties.frozenColumnCount",
		},
	})

	reqs = append(reqs, cellFormatReq(mon.id, 2, 10000, 0, 1,
		&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "DATE", Pattern: "d.m.yyyy"}},
		"userEnteredFormat.numberFormat"))

	for _, col := range monitoringIntegerCols {
		reqs = append(reqs, cellFormatReq(mon.id, 2, 10000, int64(col), int64(col+1),
			&sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: "NUMBER", Pattern: "#,##0"}},
			"userEnteredFormat.numberFormat"))
	}

	for _, bid := range mon.bandingIDs {
		reqs = append(reqs, &sheets.Request{
			DeleteBanding: &sheets.DeleteBandingRequest{BandedRangeId: bid},
		})
	}

	_, err := w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs},
	).Context(ctx).Do()
	return err
}

func cellFormatReq(sheetID, startRow, endRow, startCol, endCol int64, format *sheets.CellFormat, fields string) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    startRow,
				EndRowIndex:      endRow,
				StartColumnIndex: startCol,
				EndColumnIndex:   endCol,
			},
			Cell:   &sheets.CellData{UserEnteredFormat: format},
			Fields: fields,
		},
	}
}
