package export

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Sheet describes the header of a new table.
type Sheet struct {
	Name   string
	Header []string
	Widths []float64
}

// Format reads and writes one tabular file type.
type Format interface {
	// Ext is the file extension without the dot.
	Ext() string
	// Read returns the data rows below the header. A missing file yields an error
	// matching os.ErrNotExist.
	Read(path string) ([][]string, error)
	// Create writes a new file with a header row followed by rows.
	Create(path string, sheet Sheet, rows [][]any) error
	// Append adds rows after the existing data of path.
	Append(path string, rows [][]any) error
}

// FormatByName returns the format for "xlsx" or "csv".
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "xlsx", "":
		return XLSX{}, nil
	case "csv":
		return CSV{}, nil
	default:
		return nil, errors.Newf("unknown export format %q", name)
	}
}

// writeFileAtomic streams write into a temp file next to path, syncs it and renames it
// over path, so readers see either the old or the new file.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func copyInto(w io.Writer, data []byte) error {
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}
