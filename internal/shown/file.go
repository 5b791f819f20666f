package shown

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/logger"
)

// FileStore keeps every query's record in one JSON object, rewritten whole on each
// mutation through a temp file and an atomic rename.
type FileStore struct {
	path string
	log  *zap.SugaredLogger

	mu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path. The file is created on
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, log: logger.ComponentLogger("shown")}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context, query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return nil, err
	}
	return decodeRecord(doc, query)
}

func (s *FileStore) HasShown(ctx context.Context, identity, query string) (bool, error) {
	ids, err := s.Load(ctx, query)
	if err != nil {
		return false, err
	}
	return contains(ids, identity), nil
}

func (s *FileStore) MarkShown(_ context.Context, identity, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	ids, err := decodeRecord(doc, query)
	if err != nil {
		return err
	}
	if contains(ids, identity) {
		return nil
	}
	ids = append(ids, identity)

	raw, err := json.Marshal(ids)
	if err != nil {
		return errors.Wrap(err, "encode shown record")
	}
	doc[Key(query)] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode shown records")
	}
	if err := writeFileAtomicDurable(s.path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", s.path)
	}
	s.log.Debugw("Marked shown",
		logger.FieldQuery, query,
		logger.FieldBusiness, identity,
		logger.FieldTotalCount, len(ids),
	)
	return nil
}

func (s *FileStore) Close() error { return nil }

// readDoc returns every record as raw JSON so unrelated records survive a rewrite.
func (s *FileStore) readDoc() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]json.RawMessage), nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s", s.path), ErrCorruptRecord)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	return doc, nil
}

func decodeRecord(doc map[string]json.RawMessage, query string) ([]string, error) {
	raw, ok := doc[Key(query)]
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode record %q", Key(query)), ErrCorruptRecord)
	}
	return ids, nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
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

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
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
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
