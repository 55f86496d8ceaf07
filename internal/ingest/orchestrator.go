// Package ingest turns uploaded Nash exports into accepted files.
//
// An upload is staged under a random name, validated, and then either
// deleted (rejected) or renamed to a timestamped name and recorded as the
// current accepted upload. Allow-listed stores seen in an accepted file are
// merged into the store registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/nashingest/internal/metrics"
	"github.com/JonMunkholm/nashingest/internal/nash"
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrNotCSV       = errors.New("only CSV files are allowed")
	ErrNoUpload     = errors.New("no accepted upload")
)

const (
	// DefaultMaxFileSize matches the limit operators have always had (50MB).
	DefaultMaxFileSize int64 = 50 << 20

	stagingPrefix  = "staging_"
	acceptedPrefix = "nash_"
	pointerFile    = "current.json"
)

// Validator checks a staged file.
type Validator interface {
	Validate(path string) nash.Result
}

// StoreMerger records the stores seen in an accepted upload.
type StoreMerger interface {
	MergeUpload(storeIDs []string, seenAt time.Time) (int, error)
}

// Accepted describes an upload that passed validation.
type Accepted struct {
	Filename   string
	SavedAs    string
	Path       string
	Size       int64
	Stats      nash.Stats
	Warnings   []string
	CAStores   int
	AcceptedAt time.Time
}

// Rejected carries the validator's findings for a failed upload.
type Rejected struct {
	Errors   []string
	Warnings []string
	Stats    nash.Stats
}

// Options configures an Orchestrator.
type Options struct {
	Dir         string
	MaxFileSize int64
	Validator   Validator
	Stores      StoreMerger
	Limiter     *Limiter
	Logger      *slog.Logger
}

// Orchestrator owns the uploads directory.
type Orchestrator struct {
	dir       string
	maxSize   int64
	validator Validator
	stores    StoreMerger
	limiter   *Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an Orchestrator and creates the uploads directory.
func New(opts Options) (*Orchestrator, error) {
	if opts.Dir == "" {
		return nil, errors.New("ingest: uploads dir is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("ingest: validator is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		dir:       opts.Dir,
		maxSize:   opts.MaxFileSize,
		validator: opts.Validator,
		stores:    opts.Stores,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// MaxFileSize returns the upload size limit in bytes.
func (o *Orchestrator) MaxFileSize() int64 { return o.maxSize }

// Limiter returns the upload slot limiter.
func (o *Orchestrator) Limiter() *Limiter { return o.limiter }

// Accept stages, validates and either accepts or rejects one upload.
// Exactly one of the returned *Accepted, *Rejected and error is non-nil.
func (o *Orchestrator) Accept(ctx context.Context, filename string, r io.Reader) (*Accepted, *Rejected, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, nil, ErrNotCSV
	}

	release, err := o.limiter.Acquire(ctx)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}
	defer release()

	logger := o.logger.With("filename", filename)

	staged, size, err := o.stage(r)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	res := o.validator.Validate(staged)
	if !res.Valid {
		if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("ingest: remove rejected upload", "path", staged, "error", err)
		}
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		logger.Info("ingest: upload rejected", "errors", len(res.Errors), "rows", res.Stats.TotalRows)
		return nil, &Rejected{Errors: res.Errors, Warnings: res.Warnings, Stats: res.Stats}, nil
	}

	acceptedAt := o.now()
	savedAs := acceptedName(acceptedAt)
	final := filepath.Join(o.dir, savedAs)

	if err := os.Rename(staged, final); err != nil {
		os.Remove(staged)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("move accepted upload: %w", err)
	}

	if err := o.writePointer(pointer{SavedAs: savedAs, Filename: filename, AcceptedAt: acceptedAt}); err != nil {
		// Latest() still finds the file by mtime.
		logger.Error("ingest: write current upload pointer", "error", err)
	}

	if o.stores != nil && len(res.StoreIDs) > 0 {
		if _, err := o.stores.MergeUpload(res.StoreIDs, acceptedAt); err != nil {
			logger.Error("ingest: merge upload stores into registry", "error", err, "stores", len(res.StoreIDs))
		}
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	logger.Info("ingest: upload accepted",
		"saved_as", savedAs,
		"size", size,
		"rows", res.Stats.TotalRows,
		"non_ca_rows", res.Stats.NonAllowlistedRows,
	)

	return &Accepted{
		Filename:   filename,
		SavedAs:    savedAs,
		Path:       final,
		Size:       size,
		Stats:      res.Stats,
		Warnings:   res.Warnings,
		CAStores:   res.Stats.TotalRows - res.Stats.NonAllowlistedRows,
		AcceptedAt: acceptedAt,
	}, nil, nil
}

// stage copies r into a uniquely named file in the uploads directory.
func (o *Orchestrator) stage(r io.Reader) (string, int64, error) {
	path := filepath.Join(o.dir, stagingPrefix+uuid.NewString()+".csv")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, o.maxSize+1))
	closeErr := f.Close()

	switch {
	case err != nil:
		os.Remove(path)
		return "", 0, fmt.Errorf("stage upload: %w", err)
	case closeErr != nil:
		os.Remove(path)
		return "", 0, fmt.Errorf("stage upload: %w", closeErr)
	case n > o.maxSize:
		os.Remove(path)
		return "", 0, fmt.Errorf("%w: limit is %dMB", ErrFileTooLarge, o.maxSize>>20)
	}
	return path, n, nil
}

// acceptedName is timestamp-qualified with a short random suffix so two
// uploads in the same second never collide.
func acceptedName(t time.Time) string {
	return fmt.Sprintf("%s%s_%s.csv", acceptedPrefix, t.Format("20060102T150405Z"), uuid.NewString()[:8])
}
