package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/eloisaabril01/emailscrap/internal/listing"
)

// wildcardQuery keys the fixture listings served for queries with no entry of their own.
const wildcardQuery = "*"

// FileFactory opens listing fixtures from a .yaml, .yml, .json or .csv file.
//
// YAML/JSON documents are either a sequence of records, served for every query, or a
// mapping of query to sequence with an optional "*" fallback. Records (and CSV rows) may
// carry a "query" column restricting them to one query.
type FileFactory struct {
	Path   string
	Fields Fields
}

// NewFileFactory returns a factory using DefaultFields.
func NewFileFactory(path string) *FileFactory {
	return &FileFactory{Path: path, Fields: DefaultFields()}
}

// Open reads the fixture file and returns a source over the records for query.
func (f *FileFactory) Open(_ context.Context, query string) (listing.Source, error) {
	listings, err := f.Load(query)
	if err != nil {
		return nil, err
	}
	return NewStatic(listings), nil
}

// Load reads the fixture file and resolves the listings for query.
func (f *FileFactory) Load(query string) ([]listing.Listing, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open listing fixtures %s", f.Path)
	}
	defer file.Close()

	var records []Record
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".csv":
		records, err = ReadRecordsCSV(file)
	case ".yaml", ".yml", ".json":
		records, err = readRecordsYAML(file, query)
	default:
		return nil, errors.Newf("unsupported listing fixture extension %q", filepath.Ext(f.Path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse listing fixtures %s", f.Path)
	}

	fields := f.Fields
	if fields.Name == nil {
		fields = DefaultFields()
	}
	out := make([]listing.Listing, 0, len(records))
	for _, rec := range records {
		if q := rec["query"]; q != "" && !strings.EqualFold(strings.TrimSpace(q), strings.TrimSpace(query)) {
			continue
		}
		lf := fields.resolve(rec)
		out = append(out, listing.Listing{
			Name:    lf.name,
			Address: lf.address,
			Phone:   lf.phone,
			Website: lf.website,
			Key:     lf.key,
		})
	}
	return out, nil
}

// ReadRecordsCSV reads a headered CSV file into records keyed by lower-cased column.
func ReadRecordsCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make([]string, len(header))
	for i, col := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
	}

	var records []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			if i < len(row) && col != "" {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecordsYAML(r io.Reader, query string) ([]Record, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	switch root.Kind {
	case yaml.SequenceNode:
		var raw []map[string]any
		if err := root.Decode(&raw); err != nil {
			return nil, err
		}
		return toRecords(raw), nil
	case yaml.MappingNode:
		var byQuery map[string][]map[string]any
		if err := root.Decode(&byQuery); err != nil {
			return nil, err
		}
		if raw, ok := byQuery[query]; ok {
			return toRecords(raw), nil
		}
		for q, raw := range byQuery {
			if strings.EqualFold(strings.TrimSpace(q), strings.TrimSpace(query)) {
				return toRecords(raw), nil
			}
		}
		return toRecords(byQuery[wildcardQuery]), nil
	default:
		return nil, errors.Newf("expected a sequence or mapping at the document root, got %s", nodeKind(root.Kind))
	}
}

func toRecords(raw []map[string]any) []Record {
	out := make([]Record, 0, len(raw))
	for _, m := range raw {
		rec := make(Record, len(m))
		for k, v := range m {
			if v == nil {
				continue
			}
			rec[strings.ToLower(strings.TrimSpace(k))] = fmt.Sprint(v)
		}
		out = append(out, rec)
	}
	return out
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", k)
	}
}
