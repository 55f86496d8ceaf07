// Package allowlist holds the set of CA store identifiers that are eligible
// for analysis and Spark bulk updates.
//
// A Set is read-only once built. Callers construct one at startup with Load
// and pass it to the components that need it; Holder allows the set to be
// replaced at runtime when the reference file changes.
package allowlist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/xuri/excelize/v2"
)

// DefaultIDs is used when the reference file cannot be read.
var DefaultIDs = []string{"2082", "2242", "5930"}

// ErrNoStores is returned when a reference file contains no store ids.
var ErrNoStores = errors.New("reference file contains no store ids")

// Set is an immutable set of store ids.
type Set struct {
	ids    map[string]struct{}
	source string
}

// New builds a Set from ids. Blank ids are ignored.
func New(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids)), source: "inline"}
	for _, id := range ids {
		if key := Canonical(id); key != "" {
			s.ids[key] = struct{}{}
		}
	}
	return s
}

// Default returns the built-in fallback set.
func Default() *Set {
	s := New(DefaultIDs...)
	s.source = "default"
	return s
}

// IsMember reports whether storeID is allow-listed. Numeric ids compare
// without leading zeros, so "02082" matches "2082".
func (s *Set) IsMember(storeID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[Canonical(storeID)]
	return ok
}

// IDs returns the members in ascending numeric order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Source describes where the set was loaded from.
func (s *Set) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// Load reads the reference list at path. CSV files carry one store id per
// line in the first column; XLSX workbooks carry it in the first column of
// sheet (or the first sheet when sheet is empty). The first row is a header
// in both formats.
//
// Load never fails: if the file cannot be read or holds no ids, it logs the
// problem and returns Default().
func Load(path, sheet string, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}

	ids, err := readIDs(path, sheet)
	if err == nil && len(ids) == 0 {
		err = ErrNoStores
	}
	if err != nil {
		logger.Warn("allowlist: using default CA stores",
			"path", path,
			"error", err,
			"default_ids", DefaultIDs,
		)
		return Default()
	}

	s := New(ids...)
	s.source = path
	logger.Info("allowlist: loaded CA stores", "path", path, "count", s.Len())
	return s
}

// Reload is like Load but reports failures instead of falling back.
func Reload(path, sheet string) (*Set, error) {
	ids, err := readIDs(path, sheet)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoStores)
	}
	s := New(ids...)
	s.source = path
	return s, nil
}

func readIDs(path, sheet string) ([]string, error) {
	if path == "" {
		return nil, errors.New("no reference file configured")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path, sheet)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var ids []string
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse reference file: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) == 0 {
			continue
		}
		if id := Canonical(rec[0]); isNumeric(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func readXLSX(path, sheet string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var ids []string
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if id := Canonical(row[0]); isNumeric(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Canonical trims id and strips leading zeros from numeric ids, so "02082"
// and "2082" name the same store. Every store-keyed map uses this form.
func Canonical(id string) string {
	id = strings.TrimSpace(id)
	if !isNumeric(id) {
		return id
	}
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Holder publishes the current Set and allows it to be swapped atomically.
type Holder struct {
	p atomic.Pointer[Set]
}

// NewHolder returns a Holder serving s.
func NewHolder(s *Set) *Holder {
	h := &Holder{}
	h.p.Store(s)
	return h
}

// Current returns the active Set.
func (h *Holder) Current() *Set {
	return h.p.Load()
}

// Swap replaces the active Set and returns the previous one.
func (h *Holder) Swap(s *Set) *Set {
	return h.p.Swap(s)
}

// IsMember checks storeID against the active Set.
func (h *Holder) IsMember(storeID string) bool {
	return h.Current().IsMember(storeID)
}

// IDs returns the members of the active Set.
func (h *Holder) IDs() []string {
	return h.Current().IDs()
}
