package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/nashingest/internal/metrics"
)

// SweepTarget selects files by name prefix inside one directory.
type SweepTarget struct {
	Dir    string
	Prefix string
}

// StagingTarget returns the sweep target for abandoned staged uploads.
func (o *Orchestrator) StagingTarget() SweepTarget {
	return SweepTarget{Dir: o.dir, Prefix: stagingPrefix}
}

// SweeperConfig controls how often the sweeper runs and what counts as stale.
type SweeperConfig struct {
	Interval time.Duration // default 15m
	MaxAge   time.Duration // default 1h
}

// Sweeper removes leftover temp and staging files. Normal request paths
// clean up after themselves; the sweeper catches what a crash left behind.
type Sweeper struct {
	cfg     SweeperConfig
	targets []SweepTarget
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper returns a Sweeper over targets.
func NewSweeper(cfg SweeperConfig, logger *slog.Logger, targets ...SweepTarget) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cfg: cfg, targets: targets, logger: logger, now: time.Now}
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started",
		"interval", s.cfg.Interval.String(),
		"max_age", s.cfg.MaxAge.String(),
		"targets", len(s.targets),
	)

	s.Sweep()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of files removed.
func (s *Sweeper) Sweep() int {
	start := time.Now()
	cutoff := s.now().Add(-s.cfg.MaxAge)
	removed := 0

	for _, t := range s.targets {
		entries, err := os.ReadDir(t.Dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Error("sweeper: read dir failed", "dir", t.Dir, "error", err)
			}
			continue
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), t.Prefix) {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(t.Dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("sweeper: remove failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		metrics.SweptFiles.Add(float64(removed))
		s.logger.Info("sweeper: removed stale files",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
