package importer

import (
	"errors"

	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads the first worksheet; its first row is the header.
func ReadXLSX(path string) ([]RawRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &utils.ParseError{Op: "open xlsx", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &utils.ParseError{Op: "read xlsx", Err: errors.New("workbook has no sheets")}
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &utils.ParseError{Op: "read xlsx", Err: err}
	}
	if len(records) == 0 {
		return []RawRow{}, nil
	}

	headers := records[0]
	rows := make([]RawRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if isBlankRecord(record) {
			continue
		}
		// Sheet rows are 1-based and the header is row 1.
		row := newRawRow(i + 2)
		for c, h := range headers {
			if c < len(record) {
				row.set(h, record[c])
			} else {
				row.set(h, "")
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
