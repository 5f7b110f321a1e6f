// Package export writes the unified dataset in its downstream formats.
package export

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"bikeetl/internal/merge"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "bike_rentals"

// MaxXLSXRecords is the most records one sheet can hold below its header row.
const MaxXLSXRecords = excelize.TotalRows - 1

var ErrSheetRowLimit = errors.New("xlsx sheet row limit exceeded")

// CheckSheetRows reports ErrSheetRowLimit when n records exceed limit. A
// non-positive limit means MaxXLSXRecords.
func CheckSheetRows(n, limit int) error {
	if limit <= 0 || limit > MaxXLSXRecords {
		limit = MaxXLSXRecords
	}
	if n > limit {
		return fmt.Errorf("%w: %d records, limit %d", ErrSheetRowLimit, n, limit)
	}
	return nil
}

// UnifiedHeader is the column order of the unified export.
var UnifiedHeader = []string{
	"Rental_Id", "Duration", "Bike_Id", "End_Date", "EndStation_Id",
	"EndStation_Name", "Start_Date", "StartStation_Id", "StartStation_Name",
}

func text(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func unifiedRow(r merge.Record) []string {
	return []string{
		r.RentalID,
		strconv.FormatInt(r.Duration, 10),
		text(r.BikeID),
		text(r.EndDate),
		text(r.EndStationID),
		text(r.EndStationName),
		text(r.StartDate),
		text(r.StartStationID),
		text(r.StartStationName),
	}
}

// WriteDurationCSV writes "Duration,Rental_Id", one line per record.
func WriteDurationCSV(w io.Writer, recs []merge.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Duration", "Rental_Id"}); err != nil {
		return fmt.Errorf("write duration csv: %w", err)
	}
	for _, r := range recs {
		if err := cw.Write([]string{strconv.FormatInt(r.Duration, 10), r.RentalID}); err != nil {
			return fmt.Errorf("write duration csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write duration csv: %w", err)
	}
	return nil
}

// WriteUnifiedCSV writes every unified field; NULL is an empty cell.
func WriteUnifiedCSV(w io.Writer, recs []merge.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(UnifiedHeader); err != nil {
		return fmt.Errorf("write unified csv: %w", err)
	}
	for _, r := range recs {
		if err := cw.Write(unifiedRow(r)); err != nil {
			return fmt.Errorf("write unified csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write unified csv: %w", err)
	}
	return nil
}

// WriteXLSX saves the unified dataset as a workbook with a single sheet.
// Duration is written as a number, everything else as text.
func WriteXLSX(path string, recs []merge.Record) (err error) {
	if err := CheckSheetRows(len(recs), MaxXLSXRecords); err != nil {
		return fmt.Errorf("write xlsx %s: %w", path, err)
	}
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("write xlsx: %w", cerr)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}

	header := make([]any, len(UnifiedHeader))
	for i, h := range UnifiedHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}

	for i, r := range recs {
		cells := unifiedRow(r)
		row := make([]any, len(cells))
		for j, c := range cells {
			row[j] = c
		}
		row[1] = r.Duration

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("write xlsx %s: %w", path, err)
	}
	return nil
}
