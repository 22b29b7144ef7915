package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/example/carbonplane/internal/domain"
)

// CSV column names required in every upload.
const (
	csvColDate = "date"
	csvColTime = "time"
)

// ParseCSV reads a bulk upload: first row is the header, `date` and `time`
// are required columns, every other column is a numeric field of the
// scope's canonical payload. Blank cells parse as 0; rows with malformed
// numbers are reported individually and do not fail the batch.
func ParseCSV(r io.Reader) ([]RawRow, []RowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, domain.Errorf(domain.KindValidation, "ingest.csv",
			"read header: %v", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	dateIdx, timeIdx := -1, -1

	for i, col := range header {
		switch strings.ToLower(col) {
		case csvColDate:
			dateIdx = i
		case csvColTime:
			timeIdx = i
		}
	}

	if dateIdx < 0 || timeIdx < 0 {
		return nil, nil, domain.Errorf(domain.KindValidation, "ingest.csv",
			"header must contain %q and %q columns", csvColDate, csvColTime)
	}

	var (
		rows    []RawRow
		rowErrs []RowError
	)

	for rowIdx := 0; ; rowIdx++ {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			rowErrs = append(rowErrs, RowError{Index: rowIdx, Reason: readErr.Error()})
			continue
		}

		row := RawRow{Values: make(map[string]float64, len(header)-2)}
		rowOK := true

		for col, cell := range record {
			cell = strings.TrimSpace(cell)

			switch col {
			case dateIdx:
				row.Date = cell
			case timeIdx:
				row.Time = cell
			default:
				if col >= len(header) {
					continue // ragged extra cell; ignored like unknown columns
				}

				if cell == "" {
					row.Values[header[col]] = 0
					continue
				}

				value, parseErr := strconv.ParseFloat(cell, 64)
				if parseErr != nil {
					rowErrs = append(rowErrs, RowError{
						Index:  rowIdx,
						Reason: fmt.Sprintf("column %q: not a number: %q", header[col], cell),
					})
					rowOK = false
				} else {
					row.Values[header[col]] = value
				}
			}
		}

		if rowOK {
			rows = append(rows, row)
		}
	}

	return rows, rowErrs, nil
}

// WriteCSV emits entries in the upload format, for exports and the
// round-trip property: parse(emit(entries)) equals entries up to timestamp
// normalisation. Field columns are sorted for determinism.
func WriteCSV(w io.Writer, entries []*domain.Entry) error {
	fieldSet := map[string]struct{}{}

	for _, entry := range entries {
		for field := range entry.DataValues {
			fieldSet[field] = struct{}{}
		}
	}

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	writer := csv.NewWriter(w)

	header := append([]string{csvColDate, csvColTime}, fields...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, entry := range entries {
		record := make([]string, 0, len(header))
		record = append(record, entry.Date, entry.Time)

		for _, field := range fields {
			record = append(record, strconv.FormatFloat(entry.DataValues[field], 'f', -1, 64))
		}

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}
