package importer

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// toUTF8 normalises export bytes to UTF-8 and drops a leading BOM.
// Valid UTF-8 is returned as is; anything else is decoded from the detected charset.
func toUTF8(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(raw)
	if err != nil || result == nil {
		return nil, fmt.Errorf("detect encoding: %v", err)
	}

	charset := strings.ToUpper(result.Charset)
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding: %s", result.Charset)
	}
	utf8Bytes, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, fmt.Errorf("encoding conversion failed: %w", err)
	}
	return bytes.TrimPrefix(utf8Bytes, utf8BOM), nil
}
