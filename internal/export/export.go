// Package export renders inventory history as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"posledger/internal/domain"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

const timestampLayout = "2006-01-02 15:04:05"

var inventoryHeader = []string{"timestamp", "product", "type", "reason", "adjustment", "after_stock"}

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalid, raw)
	}
}

func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename stamps the export date, e.g. inventory-history-2024-05-01.csv.
func Filename(base string, f Format, at time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s-%s.%s", base, at.In(loc).Format("2006-01-02"), f)
}

func inventoryRow(rec domain.InventoryRecord, loc *time.Location) []string {
	return []string{
		rec.Timestamp.In(loc).Format(timestampLayout),
		rec.ProductName,
		rec.Type,
		rec.Reason,
		strconv.Itoa(rec.Adjustment),
		strconv.Itoa(rec.AfterStock),
	}
}

func WriteInventory(w io.Writer, f Format, records []domain.InventoryRecord, loc *time.Location) error {
	if f == XLSX {
		return writeInventoryXLSX(w, records, loc)
	}
	return writeInventoryCSV(w, records, loc)
}

func writeInventoryCSV(w io.Writer, records []domain.InventoryRecord, loc *time.Location) error {
	// BOM so spreadsheet apps open Hangul product names as UTF-8
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(inventoryHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(inventoryRow(rec, loc)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeInventoryXLSX(w io.Writer, records []domain.InventoryRecord, loc *time.Location) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Inventory"
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return err
	}

	header := make([]any, len(inventoryHeader))
	for i, h := range inventoryHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			rec.Timestamp.In(loc).Format(timestampLayout),
			rec.ProductName,
			rec.Type,
			rec.Reason,
			rec.Adjustment,
			rec.AfterStock,
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
