// Package storage persists fetched tables as local CSV artifacts and
// uploads them to an S3-compatible object store.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
	"github.com/rs/zerolog"
)

// csvExt is the artifact file extension, locally and remotely.
const csvExt = ".csv"

// Persister writes tables under a local directory and reads them back.
type Persister struct {
	logger zerolog.Logger
}

// NewPersister creates a persister.
func NewPersister() *Persister {
	return &Persister{logger: logging.NewLogger("storage")}
}

// FilePath returns where Save writes the artifact for label.
func FilePath(dir, label string) string {
	return filepath.Join(dir, label+csvExt)
}

// Save writes t to {dir}/{label}.csv, creating dir as needed, and returns
// the table re-read from that file. The file is replaced atomically.
func (p *Persister) Save(t *table.Table, dir, label string) (*table.Table, error) {
	path := FilePath(dir, label)
	if label == "" {
		return nil, &PersistenceError{Path: path, Op: "validate", Err: fmt.Errorf("label is required")}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}

	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return nil, &PersistenceError{Path: path, Op: "encode", Err: err}
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return nil, &PersistenceError{Path: path, Op: "write", Err: err}
	}

	reloaded, err := p.Load(path)
	if err != nil {
		return nil, err
	}

	if reloaded.NumRows() != t.NumRows() || reloaded.NumColumns() != t.NumColumns() {
		return nil, &PersistenceError{Path: path, Op: "verify", Err: fmt.Errorf(
			"read back %dx%d, wrote %dx%d",
			reloaded.NumRows(), reloaded.NumColumns(), t.NumRows(), t.NumColumns())}
	}
	if !reloaded.Equal(t) {
		return nil, &PersistenceError{Path: path, Op: "verify", Err: fmt.Errorf("read back cells differ from the written table")}
	}

	p.logger.Info().
		Str("path", path).
		Int("rows", reloaded.NumRows()).
		Int("columns", reloaded.NumColumns()).
		Int("bytes", buf.Len()).
		Msg("Table saved")

	return reloaded, nil
}

// Load reads a CSV artifact.
func (p *Persister) Load(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, &PersistenceError{Path: path, Op: "read", Err: err}
	}
	return t, nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
