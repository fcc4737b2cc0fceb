// Package commit promotes staged variant sets into durable storage and wires
// that promotion into the record lifecycle.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/variant"
)

// Sharder assigns a subdirectory to new files under an attribute root.
// An empty shard means no subdirectory.
type Sharder interface {
	Shard(ctx context.Context, root string) (string, error)
}

// Result describes one Promote call.
type Result struct {
	State    simpleupload.CommitState
	Filename string
	Files    []simpleupload.DurableFile
	// Written lists the variants stored durably, also on partial failure.
	Written []string

	temps map[string]string
}

// Engine moves complete variant sets from the temp area into a BlobStore.
type Engine struct {
	store    simpleupload.BlobStore
	tempDir  string
	layout   simpleupload.Layout
	variants *variant.Set
	sharder  Sharder
	hooks    *simpleupload.Hooks
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSharder prefixes committed filenames with a shard directory.
func WithSharder(s Sharder) Option {
	return func(e *Engine) {
		e.sharder = s
	}
}

// WithHooks sets the hooks fired on state transitions and removals.
func WithHooks(h *simpleupload.Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine reading staged files laid out per settings.
// When set is nil the variant set is resolved from settings.
func NewEngine(store simpleupload.BlobStore, settings simpleupload.Settings, set *variant.Set, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, &simpleupload.ConfigurationError{Field: "store", Err: errors.New("blob store is required")}
	}
	if settings.TempDir == "" {
		return nil, &simpleupload.ConfigurationError{Field: "temp_dir", Err: errors.New("temp directory is required")}
	}
	if settings.Layout == "" {
		settings.Layout = simpleupload.LayoutFlat
	}
	if set == nil {
		var err error
		if set, err = variant.Resolve(settings); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		store:    store,
		tempDir:  settings.TempDir,
		layout:   settings.Layout,
		variants: set,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the durable store.
func (e *Engine) Store() simpleupload.BlobStore { return e.store }

// Variants returns the required variant set.
func (e *Engine) Variants() *variant.Set { return e.variants }

// Hooks returns the configured hooks, possibly nil.
func (e *Engine) Hooks() *simpleupload.Hooks { return e.hooks }

// Promote commits the staged group named filename for attr.
//
// Every required variant must be staged, otherwise nothing is written. A
// failing write does not stop the remaining ones; all failures are reported
// in a *simpleupload.WriteFailure, nothing is rolled back and the temp copies
// stay in place so the commit can be retried. Temp copies are deleted only
// once the whole set is written.
func (e *Engine) Promote(ctx context.Context, attr simpleupload.AttributeConfig, filename string) (*Result, error) {
	result, err := e.promote(ctx, attr, filename)
	if err != nil {
		return result, err
	}
	e.DiscardTemp(attr, result)
	return result, nil
}

// Check verifies that filename names a complete staged group for attr
// without writing anything. A failed check is reported to the hooks like an
// aborted commit.
func (e *Engine) Check(ctx context.Context, attr simpleupload.AttributeConfig, filename string) error {
	if _, err := e.stagedPaths(attr, filename); err != nil {
		tr := e.begin(ctx, attr)
		tr.to(simpleupload.CommitChecking)
		tr.to(simpleupload.CommitAborted)
		e.hooks.RunOnError(ctx, "commit", err)
		return err
	}
	return nil
}

// promote writes the whole set but leaves the temp copies in place.
func (e *Engine) promote(ctx context.Context, attr simpleupload.AttributeConfig, filename string) (*Result, error) {
	tr := e.begin(ctx, attr)
	result := &Result{State: simpleupload.CommitIdle}

	tr.to(simpleupload.CommitChecking)
	tempPaths, err := e.stagedPaths(attr, filename)
	if err != nil {
		result.State = tr.to(simpleupload.CommitAborted)
		e.hooks.RunOnError(ctx, "commit", err)
		return result, err
	}

	final := filename
	if e.sharder != nil {
		shard, err := e.sharder.Shard(ctx, attr.Path)
		if err != nil {
			result.State = tr.to(simpleupload.CommitAborted)
			err = fmt.Errorf("%w: assign shard for %s: %v", simpleupload.ErrCannotUpload, attr.Name, err)
			e.hooks.RunOnError(ctx, "commit", err)
			return result, err
		}
		if shard != "" {
			final = path.Join(shard, filename)
		}
	}
	result.Filename = final
	result.temps = tempPaths

	tr.to(simpleupload.CommitWriting)
	contentType := "application/octet-stream"
	if mtype, err := mimetype.DetectFile(tempPaths[e.variants.Base()]); err == nil {
		contentType = mtype.String()
	}

	failed := make(map[string]error)
	for _, v := range e.variants.Required() {
		durable := simpleupload.DurablePath(attr.Path, v, final)
		if err := e.writeVariant(ctx, tempPaths[v], durable, contentType); err != nil {
			e.logger.Error("failed to write variant", "attribute", attr.Name, "variant", v, "path", durable, "error", err)
			failed[v] = err
			continue
		}
		result.Written = append(result.Written, v)
		result.Files = append(result.Files, simpleupload.DurableFile{Variant: v, Filename: final, Path: durable})
	}

	if len(failed) > 0 {
		result.State = tr.to(simpleupload.CommitPartiallyWritten)
		err := &simpleupload.WriteFailure{Attribute: attr.Name, Failed: failed, Written: result.Written}
		e.hooks.RunOnError(ctx, "commit", err)
		return result, err
	}

	result.State = tr.to(simpleupload.CommitCommitted)
	e.logger.Info("committed variant set", "attribute", attr.Name, "filename", final, "variants", len(tempPaths))
	return result, nil
}

// DiscardTemp deletes the temp copies consumed by a committed result.
func (e *Engine) DiscardTemp(attr simpleupload.AttributeConfig, result *Result) {
	for _, p := range result.temps {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("failed to remove temp file", "attribute", attr.Name, "path", p, "error", err)
		}
	}
	result.temps = nil
}

// stagedPaths returns the temp path of every required variant of filename.
func (e *Engine) stagedPaths(attr simpleupload.AttributeConfig, filename string) (map[string]string, error) {
	if !simpleupload.ValidBaseName(filename) {
		return nil, &simpleupload.ValidationError{Message: fmt.Sprintf("The file name %q is not allowed.", filename)}
	}
	required := e.variants.Required()
	tempPaths := make(map[string]string, len(required))
	var missing []string
	for _, v := range required {
		p := simpleupload.TempPath(e.tempDir, e.layout, v, filename)
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, v)
			continue
		}
		tempPaths[v] = p
	}
	if len(missing) > 0 {
		return nil, &simpleupload.MissingVariantError{Attribute: attr.Name, Variants: missing}
	}
	return tempPaths, nil
}

func (e *Engine) writeVariant(ctx context.Context, tempPath, durable, contentType string) error {
	f, err := os.Open(tempPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.store.Write(ctx, durable, f, simpleupload.WriteMeta{ContentType: contentType})
}

// Remove deletes every variant of filename under attr. Missing objects are
// skipped and errors are logged, never returned. It reports how many objects
// were deleted.
func (e *Engine) Remove(ctx context.Context, attr simpleupload.AttributeConfig, filename string) int {
	if !validStoredName(filename) {
		e.logger.Warn("refusing to remove invalid filename", "attribute", attr.Name, "filename", filename)
		return 0
	}

	removed := 0
	for _, v := range e.variants.Required() {
		p := simpleupload.DurablePath(attr.Path, v, filename)
		if err := e.store.Delete(ctx, p); err != nil {
			if !simpleupload.IsNotFound(err) {
				e.logger.Warn("failed to remove durable file", "attribute", attr.Name, "path", p, "error", err)
				e.hooks.RunOnError(ctx, "remove", err)
			}
			continue
		}
		removed++
	}
	e.hooks.RunAfterRemove(ctx, attr.Name, filename, removed)
	return removed
}

// DurablePath returns the store path of variant v of filename under attr.
func (e *Engine) DurablePath(attr simpleupload.AttributeConfig, v, filename string) string {
	return simpleupload.DurablePath(attr.Path, v, filename)
}

// validStoredName accepts a committed filename, optionally prefixed with
// shard directories.
func validStoredName(name string) bool {
	if name == "" {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if !simpleupload.ValidBaseName(seg) {
			return false
		}
	}
	return true
}

// transitions reports state changes with the time elapsed since the attempt
// started.
type transitions struct {
	engine    *Engine
	ctx       context.Context
	attribute string
	state     simpleupload.CommitState
	start     time.Time
}

func (e *Engine) begin(ctx context.Context, attr simpleupload.AttributeConfig) *transitions {
	return &transitions{engine: e, ctx: ctx, attribute: attr.Name, state: simpleupload.CommitIdle, start: e.now()}
}

func (t *transitions) to(next simpleupload.CommitState) simpleupload.CommitState {
	t.engine.hooks.RunCommitState(t.ctx, t.attribute, t.state, next, t.engine.now().Sub(t.start))
	t.engine.logger.Debug("commit state", "attribute", t.attribute, "from", t.state, "to", next)
	t.state = next
	return next
}
