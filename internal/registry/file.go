// Package registry persists the store registry and rate card table as JSON
// files.
//
// Each registry is a single document on disk. Saves copy the previous file
// to a ".bak" sibling first (one generation only), stamp last_updated, and
// replace the file through a temp file and rename. Read-modify-write
// sequences are serialized within the process by a mutex on each registry;
// concurrent writers in other processes still race, last writer wins.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JonMunkholm/nashingest/internal/metrics"
)

// DefaultVersion is written into newly created documents.
const DefaultVersion = "1.0"

// BackupSuffix is appended to the registry path for the previous generation.
const BackupSuffix = ".bak"

// File loads and saves one JSON document of type D.
type File[D any] struct {
	name     string
	path     string
	schema   *gojsonschema.Schema
	defaults func() *D
	stamp    func(*D, time.Time)
	now      func() time.Time
}

func newFile[D any](name, path string, schema *gojsonschema.Schema, defaults func() *D, stamp func(*D, time.Time)) *File[D] {
	return &File[D]{
		name:     name,
		path:     path,
		schema:   schema,
		defaults: defaults,
		stamp:    stamp,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the file path backing the document.
func (f *File[D]) Path() string { return f.path }

// BackupPath returns the path of the previous generation.
func (f *File[D]) BackupPath() string { return f.path + BackupSuffix }

// Load returns the on-disk document, or the default document if the file
// does not exist yet.
func (f *File[D]) Load() (*D, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.name, err)
	}

	problems, err := checkSchema(f.schema, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.name, err)
	}
	if len(problems) > 0 {
		return nil, &SchemaError{Path: f.path, Problems: problems}
	}

	doc := new(D)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.name, err)
	}
	return doc, nil
}

// Save backs up the current file, stamps doc and writes it.
func (f *File[D]) Save(doc *D) error {
	err := f.save(doc)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RegistrySaves.WithLabelValues(f.name, result).Inc()
	return err
}

func (f *File[D]) save(doc *D) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := f.backup(); err != nil {
		return err
	}

	f.stamp(doc, f.now())

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.name, err)
	}

	return writeFileAtomic(f.path, data)
}

// backup copies the live file byte for byte over any previous backup.
func (f *File[D]) backup() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s for backup: %w", f.name, err)
	}
	if err := os.WriteFile(f.BackupPath(), data, 0o644); err != nil {
		return fmt.Errorf("write %s backup: %w", f.name, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteJSONAtomic encodes v and writes it to path through a temp file.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}
