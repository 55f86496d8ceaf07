package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/nashingest/internal/registry"
)

// pointer is the current accepted upload record, stored as current.json.
type pointer struct {
	SavedAs    string    `json:"saved_as"`
	Filename   string    `json:"filename"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func (o *Orchestrator) writePointer(p pointer) error {
	return registry.WriteJSONAtomic(filepath.Join(o.dir, pointerFile), p)
}

func (o *Orchestrator) readPointer() (pointer, error) {
	var p pointer
	data, err := os.ReadFile(filepath.Join(o.dir, pointerFile))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", pointerFile, err)
	}
	if p.SavedAs == "" || filepath.Base(p.SavedAs) != p.SavedAs {
		return p, fmt.Errorf("%s: invalid saved_as %q", pointerFile, p.SavedAs)
	}
	return p, nil
}

// Latest returns the path of the current accepted upload. The pointer file
// is authoritative; if it is missing or names a file that no longer exists,
// the newest accepted CSV by modification time is used instead.
func (o *Orchestrator) Latest() (string, error) {
	p, err := o.readPointer()
	switch {
	case err == nil:
		path := filepath.Join(o.dir, p.SavedAs)
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
		o.logger.Warn("ingest: current upload pointer names a missing file", "saved_as", p.SavedAs)
	case !errors.Is(err, fs.ErrNotExist):
		o.logger.Warn("ingest: ignoring unreadable upload pointer", "error", err)
	}

	return o.newestByMtime()
}

func (o *Orchestrator) newestByMtime() (string, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return "", fmt.Errorf("read uploads dir: %w", err)
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, stagingPrefix) || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mt := info.ModTime()
		if newest == "" || mt.After(newestAt) || (mt.Equal(newestAt) && name > newest) {
			newest, newestAt = name, mt
		}
	}

	if newest == "" {
		return "", ErrNoUpload
	}
	return filepath.Join(o.dir, newest), nil
}
