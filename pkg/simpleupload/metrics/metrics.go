// Package metrics exports staging and commit telemetry to Prometheus through
// the simpleupload hook chain.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Collector holds the upload metrics.
type Collector struct {
	stagedFiles    *prometheus.CounterVec
	stagedBytes    *prometheus.CounterVec
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	removedFiles   *prometheus.CounterVec
	errors         *prometheus.CounterVec
}

// New registers the upload metrics with reg, defaulting to the global
// registry. Collectors already registered by an earlier call are reused.
func New(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = "simple_upload"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		stagedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_files_total",
			Help:      "Files written to the temp area.",
		}, []string{"attribute", "variant"}),
		stagedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_bytes_total",
			Help:      "Bytes written to the temp area.",
		}, []string{"attribute"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by final state.",
		}, []string{"attribute", "state"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Latency of commit attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"attribute"}),
		removedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removed_files_total",
			Help:      "Durable files deleted when a variant set is retired.",
		}, []string{"attribute"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported through the hook chain.",
		}, []string{"operation"}),
	}

	var err error
	c.stagedFiles, err = register(reg, c.stagedFiles)
	if err != nil {
		return nil, err
	}
	if c.stagedBytes, err = register(reg, c.stagedBytes); err != nil {
		return nil, err
	}
	if c.commits, err = register(reg, c.commits); err != nil {
		return nil, err
	}
	if c.commitDuration, err = register(reg, c.commitDuration); err != nil {
		return nil, err
	}
	if c.removedFiles, err = register(reg, c.removedFiles); err != nil {
		return nil, err
	}
	if c.errors, err = register(reg, c.errors); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register upload metric: %w", err)
	}
	return collector, nil
}

// Hooks returns the hook set feeding the collector.
func (c *Collector) Hooks() *simpleupload.Hooks {
	return &simpleupload.Hooks{
		AfterStage: []simpleupload.AfterStageHook{
			func(hctx *simpleupload.HookContext, attribute string, files []simpleupload.StagedFile) error {
				for _, f := range files {
					c.stagedFiles.WithLabelValues(attribute, f.Variant).Inc()
					c.stagedBytes.WithLabelValues(attribute).Add(float64(f.Size))
				}
				return nil
			},
		},
		OnCommitState: []simpleupload.CommitStateHook{
			func(hctx *simpleupload.HookContext, attribute string, from, to simpleupload.CommitState, elapsed time.Duration) {
				if !to.Terminal() {
					return
				}
				c.commits.WithLabelValues(attribute, string(to)).Inc()
				c.commitDuration.WithLabelValues(attribute).Observe(elapsed.Seconds())
			},
		},
		AfterRemove: []simpleupload.AfterRemoveHook{
			func(hctx *simpleupload.HookContext, attribute, filename string, removed int) {
				c.removedFiles.WithLabelValues(attribute).Add(float64(removed))
			},
		},
		OnError: []simpleupload.ErrorHook{
			func(hctx *simpleupload.HookContext, operation string, err error) {
				c.errors.WithLabelValues(operation).Inc()
			},
		},
	}
}
