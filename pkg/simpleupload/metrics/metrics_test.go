package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/metrics"
)

func TestHooksFeedCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New("test", reg)
	require.NoError(t, err)
	hooks := c.Hooks()
	ctx := context.Background()

	require.NoError(t, hooks.RunAfterStage(ctx, "avatar", []simpleupload.StagedFile{
		{Variant: "original", Size: 100},
		{Variant: "thumb", Size: 20},
	}))
	hooks.RunCommitState(ctx, "avatar", simpleupload.CommitIdle, simpleupload.CommitChecking, 0)
	hooks.RunCommitState(ctx, "avatar", simpleupload.CommitChecking, simpleupload.CommitWriting, time.Millisecond)
	hooks.RunCommitState(ctx, "avatar", simpleupload.CommitWriting, simpleupload.CommitCommitted, 2*time.Millisecond)
	hooks.RunCommitState(ctx, "avatar", simpleupload.CommitChecking, simpleupload.CommitAborted, time.Millisecond)
	hooks.RunAfterRemove(ctx, "avatar", "a.png", 2)
	hooks.RunOnError(ctx, "commit", errors.New("boom"))

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range metricFamilies {
		names[mf.GetName()] = true
	}
	for _, name := range []string{
		"test_staged_files_total",
		"test_staged_bytes_total",
		"test_commits_total",
		"test_commit_duration_seconds",
		"test_removed_files_total",
		"test_errors_total",
	} {
		assert.True(t, names[name], name)
	}

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "test_staged_files_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "test_commits_total"), "only terminal states are counted")
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "test_commit_duration_seconds"))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New("dup", reg)
	require.NoError(t, err)
	_, err = metrics.New("dup", reg)
	assert.NoError(t, err)
}
