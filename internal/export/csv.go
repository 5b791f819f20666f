package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSV stores tables as UTF-8 CSV with a BOM for spreadsheet friendliness.
type CSV struct{}

func (CSV) Ext() string { return "csv" }

func (CSV) Read(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read header")
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		rows = append(rows, rec)
	}
}

func (CSV) Create(path string, sheet Sheet, rows [][]any) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(sheet.Header); err != nil {
			return err
		}
		if err := writeCSVRows(cw, rows); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

// Append rewrites the file with rows added, keeping the existing bytes intact.
func (CSV) Append(path string, rows [][]any) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	cw := csv.NewWriter(&buf)
	if err := writeCSVRows(cw, rows); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		return copyInto(w, buf.Bytes())
	})
}

func writeCSVRows(cw *csv.Writer, rows [][]any) error {
	for _, r := range rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = fmt.Sprint(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
