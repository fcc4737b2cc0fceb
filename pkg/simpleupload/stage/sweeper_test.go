package stage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload/stage"
)

func writeAged(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweeperRemovesOnlyExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeAged(t, filepath.Join(dir, "original!_!old.png"), 3*time.Hour, now)
	writeAged(t, filepath.Join(dir, "thumb!_!old.png"), 3*time.Hour, now)
	writeAged(t, filepath.Join(dir, "original!_!fresh.png"), time.Minute, now)
	writeAged(t, filepath.Join(dir, "thumb", "old.png"), 5*time.Hour, now)
	writeAged(t, filepath.Join(dir, "README"), 10*time.Hour, now)

	sweeper := stage.NewSweeper(dir, time.Hour, stage.WithClock(func() time.Time { return now }))
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 3, report.Removed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(12), report.Bytes)
	assert.ElementsMatch(t, []string{"original!_!old.png", "thumb!_!old.png", "thumb/old.png"}, report.RemovedPaths)

	assert.FileExists(t, filepath.Join(dir, "original!_!fresh.png"))
	assert.FileExists(t, filepath.Join(dir, "README"))
	assert.NoDirExists(t, filepath.Join(dir, "thumb"))
}

func TestSweeperMissingDir(t *testing.T) {
	sweeper := stage.NewSweeper(filepath.Join(t.TempDir(), "absent"), time.Hour)
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestSweeperRequiresTTL(t *testing.T) {
	_, err := stage.NewSweeper(t.TempDir(), 0).Sweep(context.Background())
	assert.Error(t, err)
}
