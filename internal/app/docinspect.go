package app

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfPageCount probes a PDF for its page count. The parser panics on some
// malformed inputs, so the probe recovers and reports an error instead.
func pdfPageCount(content []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
