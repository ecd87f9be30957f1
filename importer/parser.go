// Package importer reads uploaded exports (CSV, XLSX, XML) into raw rows and maps
// them onto canonical records. Malformed rows are never fatal; they come back as
// RejectedRow values next to the accepted records.
package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
)

// RawRow is one data row keyed by lower-cased, trimmed header name.
type RawRow struct {
	Line   int
	Values map[string]string
}

func newRawRow(line int) RawRow {
	return RawRow{Line: line, Values: map[string]string{}}
}

func (r RawRow) set(header string, value string) {
	key := normalizeHeader(header)
	if key == "" {
		return
	}
	r.Values[key] = value
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(h))
}

// RejectedRow explains why a row did not become a record.
type RejectedRow struct {
	Line   int               `json:"line"`
	Reason string            `json:"reason"`
	Raw    map[string]string `json:"raw,omitempty"`
}

func reject(row RawRow, format string, args ...any) RejectedRow {
	return RejectedRow{Line: row.Line, Reason: fmt.Sprintf(format, args...), Raw: row.Values}
}

// Extensions accepted by the upload endpoints.
var AllowedExtensions = map[string]bool{
	".csv":  true,
	".xml":  true,
	".xlsx": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pdf":  true,
}

var notImplementedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pdf":  true,
}

func extensionOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// CheckSupported fails fast for formats that cannot be parsed, before any other work.
func CheckSupported(name string) error {
	ext := extensionOf(name)
	switch {
	case notImplementedExtensions[ext]:
		return &utils.ParseError{Op: ext, Err: utils.ErrNotImplemented}
	case ext == ".csv", ext == ".xlsx", ext == ".xml":
		return nil
	}
	return &utils.ParseError{Op: ext, Err: utils.ErrUnsupportedFormat}
}

// ParseFile reads path and returns its data rows. The format is chosen by extension.
func ParseFile(path string) ([]RawRow, error) {
	if err := CheckSupported(path); err != nil {
		return nil, err
	}
	switch extensionOf(path) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, &utils.ParseError{Op: "open csv", Err: err}
		}
		defer f.Close()
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, &utils.ParseError{Op: "open xml", Err: err}
		}
		defer f.Close()
		return ReadXML(f)
	}
}
