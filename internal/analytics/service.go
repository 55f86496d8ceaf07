package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/JonMunkholm/nashingest/internal/metrics"
	"github.com/JonMunkholm/nashingest/internal/registry"
)

// TempPrefix starts the name of every registry snapshot written for a run.
const TempPrefix = "nash-analytics-"

// Script module names.
const (
	ScriptDashboard     = "dashboard"
	ScriptAllStores     = "all_stores"
	ScriptStore         = "store_analysis"
	ScriptVendors       = "vendor_analysis"
	ScriptCPD           = "cpd_analysis"
	ScriptBatches       = "batch_analysis"
	ScriptPerformance   = "performance"
	ScriptWeeklyMetrics = "weekly_metrics"
)

// ErrInvalidStoreID is returned for store ids that are not all digits.
var ErrInvalidStoreID = errors.New("store id must be numeric")

var storeIDPattern = regexp.MustCompile(`^\d+$`)

// UploadSource locates the current accepted upload.
type UploadSource interface {
	Latest() (string, error)
}

// StoreSnapshots provides the store registry document.
type StoreSnapshots interface {
	Snapshot() (*registry.StoreRegistry, error)
}

// RateCardSnapshots provides the rate card document.
type RateCardSnapshots interface {
	Snapshot() (*registry.RateCardTable, error)
}

// Config holds the Service dependencies.
type Config struct {
	Runner    Runner
	Uploads   UploadSource
	Stores    StoreSnapshots
	RateCards RateCardSnapshots
	TempDir   string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Service runs the analyses against the current accepted upload.
type Service struct {
	runner    Runner
	uploads   UploadSource
	stores    StoreSnapshots
	rateCards RateCardSnapshots
	tempDir   string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService returns a Service. TempDir defaults to the OS temp directory.
func NewService(cfg Config) *Service {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		runner:    cfg.Runner,
		uploads:   cfg.Uploads,
		stores:    cfg.Stores,
		rateCards: cfg.RateCards,
		tempDir:   cfg.TempDir,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// TempDir returns where registry snapshots are written.
func (s *Service) TempDir() string { return s.tempDir }

// Dashboard returns the headline metrics for the current upload.
func (s *Service) Dashboard(ctx context.Context) (json.RawMessage, error) {
	return s.withBoth(ctx, ScriptDashboard)
}

// AllStores returns per-store metrics for every store in the upload.
func (s *Service) AllStores(ctx context.Context) (json.RawMessage, error) {
	return s.withBoth(ctx, ScriptAllStores)
}

// CPDComparison compares van cost per delivery with Spark benchmarks.
func (s *Service) CPDComparison(ctx context.Context) (json.RawMessage, error) {
	return s.withBoth(ctx, ScriptCPD)
}

// BatchAnalysis returns trip-level batch data.
func (s *Service) BatchAnalysis(ctx context.Context) (json.RawMessage, error) {
	return s.withBoth(ctx, ScriptBatches)
}

// Store analyzes one store.
func (s *Service) Store(ctx context.Context, storeID string) (json.RawMessage, error) {
	if !storeIDPattern.MatchString(storeID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreID, storeID)
	}

	csv, err := s.uploads.Latest()
	if err != nil {
		return nil, err
	}
	reg, rc, cleanup, err := s.snapshots(true, true)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.run(ctx, ScriptStore, csv, storeID, reg, rc)
}

// Vendors compares carrier performance. Only rate cards are passed.
func (s *Service) Vendors(ctx context.Context) (json.RawMessage, error) {
	return s.withRateCards(ctx, ScriptVendors)
}

// WeeklyMetrics returns week-over-week metrics. Only rate cards are passed.
func (s *Service) WeeklyMetrics(ctx context.Context) (json.RawMessage, error) {
	return s.withRateCards(ctx, ScriptWeeklyMetrics)
}

// Performance needs only the upload.
func (s *Service) Performance(ctx context.Context) (json.RawMessage, error) {
	csv, err := s.uploads.Latest()
	if err != nil {
		return nil, err
	}
	return s.run(ctx, ScriptPerformance, csv)
}

func (s *Service) withBoth(ctx context.Context, script string) (json.RawMessage, error) {
	csv, err := s.uploads.Latest()
	if err != nil {
		return nil, err
	}
	reg, rc, cleanup, err := s.snapshots(true, true)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.run(ctx, script, csv, reg, rc)
}

func (s *Service) withRateCards(ctx context.Context, script string) (json.RawMessage, error) {
	csv, err := s.uploads.Latest()
	if err != nil {
		return nil, err
	}
	_, rc, cleanup, err := s.snapshots(false, true)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.run(ctx, script, csv, rc)
}

func (s *Service) run(ctx context.Context, script string, args ...string) (json.RawMessage, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.runner.Run(ctx, script, args...)
	metrics.AnalyticsDuration.WithLabelValues(script).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalyticsFailures.WithLabelValues(script).Inc()
		return nil, err
	}

	s.logger.Debug("analytics: script completed",
		"script", script,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", len(out),
	)
	return out, nil
}

// snapshots writes the requested registry documents to temp files and
// returns their paths with a cleanup func that removes them.
func (s *Service) snapshots(stores, rateCards bool) (regPath, rcPath string, cleanup func(), err error) {
	var paths []string
	cleanup = func() {
		for _, p := range paths {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Warn("analytics: remove temp snapshot", "path", p, "error", rmErr)
			}
		}
	}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", "", cleanup, fmt.Errorf("create temp dir: %w", err)
	}

	if stores {
		doc, err := s.stores.Snapshot()
		if err != nil {
			return "", "", cleanup, fmt.Errorf("snapshot store registry: %w", err)
		}
		regPath, err = s.writeTemp("registry", doc)
		if err != nil {
			cleanup()
			return "", "", func() {}, err
		}
		paths = append(paths, regPath)
	}

	if rateCards {
		doc, err := s.rateCards.Snapshot()
		if err != nil {
			cleanup()
			return "", "", func() {}, fmt.Errorf("snapshot rate cards: %w", err)
		}
		rcPath, err = s.writeTemp("rate_cards", doc)
		if err != nil {
			cleanup()
			return "", "", func() {}, err
		}
		paths = append(paths, rcPath)
	}

	return regPath, rcPath, cleanup, nil
}

func (s *Service) writeTemp(kind string, doc any) (string, error) {
	f, err := os.CreateTemp(s.tempDir, TempPrefix+kind+"-*.json")
	if err != nil {
		return "", fmt.Errorf("create %s snapshot: %w", kind, err)
	}
	name := f.Name()

	if err := json.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s snapshot: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("write %s snapshot: %w", kind, err)
	}
	return name, nil
}
