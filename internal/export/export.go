// Package export appends verified results to one spreadsheet per query and combines
// those spreadsheets into a single table.
package export

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/listing"
	"github.com/eloisaabril01/emailscrap/internal/logger"
)

var (
	ErrNoDestinations      = errors.New("export: no destinations to combine")
	ErrDestinationNotFound = errors.New("export: destination not found")
)

// TimestampLayout formats the Date Added column.
const TimestampLayout = "2006-01-02 15:04:05"

// CombinedBase names the combined table, without extension.
const CombinedBase = "combined_all_data"

const notAvailable = "N/A"

// Header is the column layout of a per-query destination.
var Header = []string{"Sr No", "Name", "Address", "Phone", "Website", "Emails", "Date Added"}

// CombinedHeader is Header with the Source column before Date Added.
var CombinedHeader = []string{"Sr No", "Name", "Address", "Phone", "Website", "Emails", "Source", "Date Added"}

var (
	headerWidths   = []float64{8, 40, 50, 20, 40, 40, 20}
	combinedWidths = []float64{8, 40, 50, 20, 40, 40, 30, 20}
)

// Destination identifies the export file for one query.
type Destination struct {
	Slug     string `json:"slug"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// FileInfo describes an export file on disk.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// CombineSummary reports the result of Combine.
type CombineSummary struct {
	Filename     string   `json:"filename"`
	Path         string   `json:"path"`
	TotalRecords int      `json:"total_records"`
	Sources      []string `json:"sources"`
	Skipped      []string `json:"skipped,omitempty"`
}

var slugStrip = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)

// Slug turns a query into a filename stem: anything but letters, digits, underscores,
// whitespace and hyphens is removed, the result trimmed and spaces replaced by
// underscores.
func Slug(query string) string {
	s := strings.TrimSpace(slugStrip.ReplaceAllString(query, ""))
	return strings.ReplaceAll(s, " ", "_")
}

// Sink writes per-query destinations under one directory.
type Sink struct {
	dir    string
	format Format
	log    *zap.SugaredLogger
	now    func() time.Time

	// mu serialises read-modify-write cycles on destination files.
	mu sync.Mutex
}

// NewSink returns a sink writing files in the named format ("xlsx" or "csv") under dir.
func NewSink(dir, format string) (*Sink, error) {
	f, err := FormatByName(format)
	if err != nil {
		return nil, err
	}
	return NewSinkWithFormat(dir, f), nil
}

// NewSinkWithFormat returns a sink using f.
func NewSinkWithFormat(dir string, f Format) *Sink {
	return &Sink{
		dir:    dir,
		format: f,
		log:    logger.ComponentLogger("export"),
		now:    time.Now,
	}
}

// Dir returns the export directory.
func (s *Sink) Dir() string { return s.dir }

// Destination returns where results for query are written.
func (s *Sink) Destination(query string) Destination {
	slug := Slug(query)
	if slug == "" {
		slug = "untitled"
	}
	name := slug + "." + s.format.Ext()
	return Destination{Slug: slug, Filename: name, Path: filepath.Join(s.dir, name)}
}

// Append adds results to the destination for query and returns the number of rows
// persisted. Results whose (name, address) already appear in the destination, or
// earlier in results, are skipped.
func (s *Sink) Append(ctx context.Context, query string, results []listing.VerifiedResult) (Destination, int, error) {
	dest := s.Destination(query)
	if len(results) == 0 {
		return dest, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return dest, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return dest, 0, errors.Wrapf(err, "create export dir %s", s.dir)
	}

	existing, err := s.format.Read(dest.Path)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return dest, 0, errors.Wrapf(err, "read %s", dest.Filename)
	}

	rows := mergeRows(existing, results, s.now())
	if len(rows) == 0 {
		return dest, 0, nil
	}
	cells := make([][]any, len(rows))
	for i, r := range rows {
		cells[i] = r.cells()
	}

	if exists {
		err = s.format.Append(dest.Path, cells)
	} else {
		err = s.format.Create(dest.Path, Sheet{Name: "Results", Header: Header, Widths: headerWidths}, cells)
	}
	if err != nil {
		return dest, 0, errors.Wrapf(err, "write %s", dest.Filename)
	}

	s.log.Infow("Exported results",
		logger.FieldFile, dest.Filename,
		logger.FieldQuery, query,
		logger.FieldCount, len(rows),
		"skipped", len(results)-len(rows),
	)
	return dest, len(rows), nil
}

// List returns the export files, newest first.
func (s *Sink) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !knownExt(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name < out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Path resolves an export filename to its location, rejecting anything that is not a
// plain export file name inside the export directory.
func (s *Sink) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) ||
		strings.HasPrefix(filename, ".") || !knownExt(filename) {
		return "", errors.Wrapf(ErrDestinationNotFound, "invalid export name %q", filename)
	}
	p := filepath.Join(s.dir, filename)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", errors.Wrapf(ErrDestinationNotFound, "%s", filename)
	}
	return p, nil
}

func knownExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}
