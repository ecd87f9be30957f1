package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
)

// ReadCSV reads a header-driven CSV export. Blank lines and rows with only empty
// cells are skipped; short rows leave missing columns empty.
func ReadCSV(r io.Reader) ([]RawRow, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &utils.ParseError{Op: "read csv", Err: err}
	}
	data, err := toUTF8(raw)
	if err != nil {
		return nil, &utils.ParseError{Op: "decode csv", Err: err}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []RawRow{}, nil
	}
	if err != nil {
		return nil, &utils.ParseError{Op: "read csv header", Err: err}
	}

	rows := make([]RawRow, 0, 64)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &utils.ParseError{Op: "read csv", Err: err}
		}
		if isBlankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		row := newRawRow(line)
		for i, h := range headers {
			if i < len(record) {
				row.set(h, record[i])
			} else {
				row.set(h, "")
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
