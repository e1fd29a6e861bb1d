package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

// Export formats
const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts xlsx or csv, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatCSV:
		return f, nil
	}
	return "", domain.NewValidationError("format", "must be xlsx or csv", domain.ErrValidation)
}

// SheetName is the worksheet xlsx exports are written to.
const SheetName = "Audit"

var columns = []struct {
	header string
	width  float64
}{
	{"Created At", 22},
	{"Event Type", 20},
	{"Task ID", 38},
	{"Parent Task ID", 38},
	{"Rule ID", 38},
	{"Occurrence", 12},
	{"Event ID", 38},
	{"Payload", 80},
}

func row(rec *domain.AuditRecord) []string {
	optional := func(s fmt.Stringer, set bool) string {
		if !set {
			return ""
		}
		return s.String()
	}
	occurrence := ""
	if rec.OccurrenceNumber != nil {
		occurrence = strconv.Itoa(*rec.OccurrenceNumber)
	}
	return []string{
		rec.CreatedAt.UTC().Format(time.RFC3339),
		string(rec.EventType),
		rec.TaskID.String(),
		optional(rec.ParentTaskID, rec.ParentTaskID != nil),
		optional(rec.RuleID, rec.RuleID != nil),
		occurrence,
		rec.EventID.String(),
		string(rec.Payload),
	}
}

// Export writes records to w in format.
func Export(w io.Writer, records []*domain.AuditRecord, format Format) error {
	switch format {
	case FormatXLSX:
		return exportXLSX(w, records)
	case FormatCSV:
		return exportCSV(w, records)
	}
	return domain.NewValidationError("format", "must be xlsx or csv", domain.ErrValidation)
}

func exportCSV(w io.Writer, records []*domain.AuditRecord) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.header
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func exportXLSX(w io.Writer, records []*domain.AuditRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c.header
		if err := sw.SetColWidth(i+1, i+1, c.width); err != nil {
			return err
		}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, rec := range records {
		values := row(rec)
		cells := make([]interface{}, len(values))
		for j, v := range values {
			cells[j] = v
		}
		if rec.OccurrenceNumber != nil {
			cells[5] = *rec.OccurrenceNumber
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("write audit row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}
