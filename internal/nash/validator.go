// Package nash validates Nash delivery-trip CSV exports.
//
// Validation never fails with a Go error. Every problem, from a missing
// file to a malformed row, is reported in Result.Errors so callers can
// render diagnostics uniformly. Policy findings (stores outside the
// allowlist, excluded carriers) are warnings and do not fail the file.
package nash

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
	"github.com/JonMunkholm/nashingest/internal/carrier"
	"github.com/JonMunkholm/nashingest/internal/metrics"
)

// Allowlist is the store membership check the validator depends on.
type Allowlist interface {
	IsMember(storeID string) bool
	IDs() []string
}

// Stats summarizes the data rows of a file.
type Stats struct {
	TotalRows          int      `json:"totalRows"`
	NonAllowlistedRows int      `json:"nonAllowlistedRows"`
	ExcludedCarriers   []string `json:"excludedCarriers"`
	AcceptedCarriers   []string `json:"acceptedCarriers"`
}

// Result is the outcome of validating one file.
type Result struct {
	Valid    bool     `json:"valid"`
	// Errors cite "Row N", where N counts non-blank records from the header.
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Stats    Stats    `json:"stats"`

	// StoreIDs holds the distinct allow-listed store ids seen, in first-seen
	// order and canonical form.
	StoreIDs []string `json:"-"`
}

var (
	storeIDPattern = regexp.MustCompile(`^\d+$`)
	usDatePattern  = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Validator checks Nash exports against the required schema.
type Validator struct {
	allow  Allowlist
	logger *slog.Logger
}

// NewValidator returns a Validator that checks store ids against allow.
func NewValidator(allow Allowlist, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{allow: allow, logger: logger}
}

// Validate reads the file at path and checks it.
func (v *Validator) Validate(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		res := newResult()
		if errors.Is(err, fs.ErrNotExist) {
			res.fail("File does not exist")
		} else {
			res.fail(fmt.Sprintf("Error reading file: %v", err))
		}
		return v.finish(path, res)
	}
	return v.finish(path, v.ValidateBytes(data))
}

// ValidateBytes checks an in-memory export.
func (v *Validator) ValidateBytes(data []byte) Result {
	res := newResult()

	records, err := parseCSV(data)
	if err != nil {
		res.fail(fmt.Sprintf("Error reading file: %v", err))
		return res
	}
	if len(records) == 0 {
		res.fail("File is empty")
		return res
	}

	idx, headerErrs := checkHeader(records[0])
	if len(headerErrs) > 0 {
		for _, e := range headerErrs {
			res.fail(e)
		}
		return res
	}

	v.scanRows(&res, idx, records[1:])
	v.addWarnings(&res)

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) scanRows(res *Result, idx headerIndex, rows [][]string) {
	storeCol := idx[ColStoreID]
	dateCol := idx[ColDate]
	carrierCol := idx[ColCarrier]

	seenExcluded := make(map[string]bool)
	seenAccepted := make(map[string]bool)
	seenStores := make(map[string]bool)

	for i, row := range rows {
		// Rows count parsed records, header as row 1. Blank lines are not
		// counted and a quoted field spanning lines is still one row, so
		// rowNum can be lower than the physical line number.
		rowNum := i + 2
		res.Stats.TotalRows++

		storeID := cell(row, storeCol)
		numeric := storeIDPattern.MatchString(storeID)
		allowed := false

		if !numeric {
			res.fail(fmt.Sprintf("Row %d: Store Id must be numeric, got %q", rowNum, storeID))
		} else if v.allow != nil && v.allow.IsMember(storeID) {
			allowed = true
			if id := allowlist.Canonical(storeID); !seenStores[id] {
				seenStores[id] = true
				res.StoreIDs = append(res.StoreIDs, id)
			}
		} else {
			res.Stats.NonAllowlistedRows++
		}

		date := cell(row, dateCol)
		if !isValidDate(date) {
			res.fail(fmt.Sprintf(
				"Row %d: Invalid date format %q. Expected MM/DD/YYYY or YYYY-MM-DD",
				rowNum, date,
			))
		}

		raw := cell(row, carrierCol)
		if raw == "" {
			continue
		}
		code, excluded := carrier.Normalize(raw)
		switch {
		case excluded:
			if allowed && !seenExcluded[raw] {
				seenExcluded[raw] = true
				res.Stats.ExcludedCarriers = append(res.Stats.ExcludedCarriers, raw)
			}
		case !seenAccepted[code]:
			seenAccepted[code] = true
			res.Stats.AcceptedCarriers = append(res.Stats.AcceptedCarriers, code)
		}
	}
}

func (v *Validator) addWarnings(res *Result) {
	if n := res.Stats.NonAllowlistedRows; n > 0 {
		var ids []string
		if v.allow != nil {
			ids = v.allow.IDs()
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"Found %d rows from non-CA stores (will be excluded from analysis). CA stores: %s",
			n, strings.Join(ids, ", "),
		))
	}

	if len(res.Stats.ExcludedCarriers) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"Excluded carriers found: %s. These carriers are not included in analysis",
			strings.Join(res.Stats.ExcludedCarriers, ", "),
		))
	}
}

func (v *Validator) finish(path string, res Result) Result {
	outcome := "valid"
	if !res.Valid {
		outcome = "invalid"
	}
	metrics.ValidationsTotal.WithLabelValues(outcome).Inc()
	metrics.ValidationRows.WithLabelValues("true").Add(float64(res.Stats.TotalRows - res.Stats.NonAllowlistedRows))
	metrics.ValidationRows.WithLabelValues("false").Add(float64(res.Stats.NonAllowlistedRows))

	v.logger.Debug("nash: validated file",
		"path", path,
		"valid", res.Valid,
		"rows", res.Stats.TotalRows,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
	)
	return res
}

// isValidDate accepts MM/DD/YYYY or YYYY-MM-DD naming a real calendar day.
func isValidDate(s string) bool {
	var layout string
	switch {
	case usDatePattern.MatchString(s):
		layout = "01/02/2006"
	case isoDatePattern.MatchString(s):
		layout = "2006-01-02"
	default:
		return false
	}
	_, err := time.Parse(layout, s)
	return err == nil
}

func newResult() Result {
	return Result{
		Errors:   []string{},
		Warnings: []string{},
		Stats: Stats{
			ExcludedCarriers: []string{},
			AcceptedCarriers: []string{},
		},
	}
}

func (r *Result) fail(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}
