package export

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eloisaabril01/emailscrap/internal/logger"
)

// combineReadLimit bounds concurrent destination reads.
const combineReadLimit = 4

// CombinedFilename is the combined table's file name for this sink's format.
func (s *Sink) CombinedFilename() string {
	return CombinedBase + "." + s.format.Ext()
}

// Combine concatenates every destination's data rows, in filename order, into the
// combined table. Rows are tagged with their destination's slug and renumbered from 1.
// Rows with a blank serial are skipped, and unreadable destinations are logged and
// skipped.
func (s *Sink) Combine(ctx context.Context) (CombineSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.destinationNames()
	if err != nil {
		return CombineSummary{}, err
	}
	if len(names) == 0 {
		return CombineSummary{}, ErrNoDestinations
	}

	tables := make([][][]string, len(names))
	readErrs := make([]error, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(combineReadLimit)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := s.format.Read(filepath.Join(s.dir, name))
			if err != nil {
				readErrs[i] = err
				return nil
			}
			tables[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CombineSummary{}, err
	}

	summary := CombineSummary{Filename: s.CombinedFilename(), Path: filepath.Join(s.dir, s.CombinedFilename())}
	stamp := s.now().Format(TimestampLayout)
	var cells [][]any
	for i, name := range names {
		if readErrs[i] != nil {
			s.log.Warnw("Skipping unreadable export",
				logger.FieldFile, name,
				logger.FieldError, readErrs[i],
			)
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		slug := strings.TrimSuffix(name, filepath.Ext(name))
		summary.Sources = append(summary.Sources, slug)
		for _, rec := range tables[i] {
			if strings.TrimSpace(cell(rec, 0)) == "" {
				continue
			}
			row := Row{
				Serial:    len(cells) + 1,
				Name:      cellOrNA(rec, 1),
				Address:   cellOrNA(rec, 2),
				Phone:     cellOrNA(rec, 3),
				Website:   cellOrNA(rec, 4),
				Emails:    cellOrNA(rec, 5),
				Source:    slug,
				DateAdded: cell(rec, 6),
				combined:  true,
			}
			if strings.TrimSpace(row.DateAdded) == "" {
				row.DateAdded = stamp
			}
			cells = append(cells, row.cells())
		}
	}
	summary.TotalRecords = len(cells)

	sheet := Sheet{Name: "All Data", Header: CombinedHeader, Widths: combinedWidths}
	if err := s.format.Create(summary.Path, sheet, cells); err != nil {
		return CombineSummary{}, errors.Wrapf(err, "write %s", summary.Filename)
	}
	s.log.Infow("Combined exports",
		logger.FieldFile, summary.Filename,
		logger.FieldCount, len(summary.Sources),
		logger.FieldTotalCount, summary.TotalRecords,
	)
	return summary, nil
}

// destinationNames lists this format's destination files, excluding the combined table,
// sorted by name.
func (s *Sink) destinationNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}
	ext := "." + s.format.Ext()
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if name == s.CombinedFilename() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func cellOrNA(rec []string, i int) string {
	if i >= len(rec) {
		return notAvailable
	}
	return rec[i]
}
