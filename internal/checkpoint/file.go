package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FileStore keeps the whole cache as one JSON object. Each Save rewrites
// the file through a temp file and rename, so a crash leaves either the old
// or the new snapshot.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the snapshot, or an empty map when none exists.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read %s", s.path)
	}

	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: decode %s", s.path)
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

// Save writes all values.
func (s *FileStore) Save(_ context.Context, all map[string]string, _ []Entry) error {
	data, err := json.Marshal(all)
	if err != nil {
		return eris.Wrap(err, "checkpoint: encode snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync snapshot")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close snapshot")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return eris.Wrap(err, "checkpoint: rename snapshot")
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
