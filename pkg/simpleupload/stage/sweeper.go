package stage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Sweeper removes staged files that were never committed. Groups of abandoned
// forms and of failed commits stay in the temp area until they expire.
type Sweeper struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithClock replaces the time source.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// SweepReport contains statistics about one sweep.
type SweepReport struct {
	// Scanned is the number of staged files inspected
	Scanned int
	// Removed is the number of expired files deleted
	Removed int
	// Failed is the number of expired files that could not be deleted
	Failed int
	// Bytes is the total size of removed files
	Bytes int64
	// RemovedPaths lists removed files relative to the temp directory
	RemovedPaths []string
}

// NewSweeper creates a sweeper for dir. Files older than ttl are removed.
func NewSweeper(dir string, ttl time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep walks the temp directory once. Only files named like staged variants
// in either layout are considered.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if s.ttl <= 0 {
		return report, errors.New("sweep ttl must be positive")
	}
	cutoff := s.now().Add(-s.ttl)

	var dirs []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." {
				if strings.Contains(rel, string(filepath.Separator)) {
					return fs.SkipDir
				}
				dirs = append(dirs, path)
			}
			return nil
		}
		if !isStagedName(rel) {
			return nil
		}

		report.Scanned++
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			report.Failed++
			s.logger.Warn("failed to remove expired temp file", "path", path, "error", err)
			return nil
		}
		report.Removed++
		report.Bytes += info.Size()
		report.RemovedPaths = append(report.RemovedPaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return report, err
	}

	// Variant directories of the directory layout are dropped once empty.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		os.Remove(dir)
	}

	if report.Removed > 0 || report.Failed > 0 {
		s.logger.Info("swept temp directory",
			"dir", s.dir,
			"scanned", report.Scanned,
			"removed", report.Removed,
			"failed", report.Failed,
			"reclaimed", humanize.IBytes(uint64(report.Bytes)))
	}
	return report, nil
}

func isStagedName(rel string) bool {
	if _, _, ok := simpleupload.ParseTempName(simpleupload.LayoutFlat, rel); ok && !strings.Contains(filepath.ToSlash(rel), "/") {
		return true
	}
	_, _, ok := simpleupload.ParseTempName(simpleupload.LayoutDirectory, rel)
	return ok
}
