package simpleupload

import (
	"context"
	"time"
)

// Hook system allows extending upload behavior without modifying core code.
// Hooks are called at specific points of the staging and commit flows.

// CommitState is a state of one attribute commit attempt.
type CommitState string

// Commit states.
const (
	CommitIdle             CommitState = "idle"
	CommitChecking         CommitState = "checking"
	CommitWriting          CommitState = "writing"
	CommitCommitted        CommitState = "committed"
	CommitAborted          CommitState = "aborted"
	CommitPartiallyWritten CommitState = "partially_written"
)

// Terminal reports whether no further transition follows s.
func (s CommitState) Terminal() bool {
	return s == CommitCommitted || s == CommitAborted || s == CommitPartiallyWritten
}

// Hooks defines all available lifecycle hooks
type Hooks struct {
	// Staging hooks
	BeforeStage []BeforeStageHook
	AfterStage  []AfterStageHook

	// Commit hooks
	OnCommitState []CommitStateHook
	AfterUpload   []AfterUploadHook
	AfterRemove   []AfterRemoveHook

	// Error hooks
	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context) *HookContext {
	return &HookContext{
		Context:  ctx,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeStageHook is called before a blob is validated and written. Returning
// an error rejects the blob.
type BeforeStageHook func(hctx *HookContext, attribute, variant string, blob *UploadedBlob) error

// AfterStageHook is called after every variant of a group is staged
type AfterStageHook func(hctx *HookContext, attribute string, files []StagedFile) error

// CommitStateHook is called on every commit state transition. elapsed is
// measured from the start of the commit attempt.
type CommitStateHook func(hctx *HookContext, attribute string, from, to CommitState, elapsed time.Duration)

// AfterUploadHook is called after a variant set is committed
type AfterUploadHook func(hctx *HookContext, attribute string, files []DurableFile) error

// AfterRemoveHook is called after a durable variant set is deleted
type AfterRemoveHook func(hctx *HookContext, attribute, filename string, removed int)

// ErrorHook is called when an error occurs
type ErrorHook func(hctx *HookContext, operation string, err error)

// Merge combines several hook sets into one, preserving order.
func Merge(sets ...*Hooks) *Hooks {
	out := &Hooks{}
	for _, h := range sets {
		if h == nil {
			continue
		}
		out.BeforeStage = append(out.BeforeStage, h.BeforeStage...)
		out.AfterStage = append(out.AfterStage, h.AfterStage...)
		out.OnCommitState = append(out.OnCommitState, h.OnCommitState...)
		out.AfterUpload = append(out.AfterUpload, h.AfterUpload...)
		out.AfterRemove = append(out.AfterRemove, h.AfterRemove...)
		out.OnError = append(out.OnError, h.OnError...)
	}
	return out
}

// Hook execution helpers. All of them accept a nil receiver.

// RunBeforeStage runs all BeforeStage hooks
func (h *Hooks) RunBeforeStage(ctx context.Context, attribute, variant string, blob *UploadedBlob) error {
	if h == nil || len(h.BeforeStage) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.BeforeStage {
		if err := hook(hctx, attribute, variant, blob); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// RunAfterStage runs all AfterStage hooks
func (h *Hooks) RunAfterStage(ctx context.Context, attribute string, files []StagedFile) error {
	if h == nil || len(h.AfterStage) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterStage {
		if err := hook(hctx, attribute, files); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// RunCommitState runs all OnCommitState hooks
func (h *Hooks) RunCommitState(ctx context.Context, attribute string, from, to CommitState, elapsed time.Duration) {
	if h == nil || len(h.OnCommitState) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnCommitState {
		hook(hctx, attribute, from, to, elapsed)
		if hctx.StopChain {
			break
		}
	}
}

// RunAfterUpload runs all AfterUpload hooks
func (h *Hooks) RunAfterUpload(ctx context.Context, attribute string, files []DurableFile) error {
	if h == nil || len(h.AfterUpload) == 0 {
		return nil
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterUpload {
		if err := hook(hctx, attribute, files); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

// RunAfterRemove runs all AfterRemove hooks
func (h *Hooks) RunAfterRemove(ctx context.Context, attribute, filename string, removed int) {
	if h == nil || len(h.AfterRemove) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.AfterRemove {
		hook(hctx, attribute, filename, removed)
		if hctx.StopChain {
			break
		}
	}
}

// RunOnError runs all OnError hooks
func (h *Hooks) RunOnError(ctx context.Context, operation string, err error) {
	if h == nil || len(h.OnError) == 0 {
		return
	}

	hctx := NewHookContext(ctx)
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// LoggingHook logs staging, commit and removal events
func LoggingHook(logger func(format string, args ...interface{})) *Hooks {
	return &Hooks{
		AfterStage: []AfterStageHook{
			func(hctx *HookContext, attribute string, files []StagedFile) error {
				if len(files) > 0 {
					logger("Files staged: %s (%s, %d variants)", attribute, files[0].BaseName, len(files))
				}
				return nil
			},
		},
		AfterUpload: []AfterUploadHook{
			func(hctx *HookContext, attribute string, files []DurableFile) error {
				if len(files) > 0 {
					logger("Files committed: %s (%s, %d variants)", attribute, files[0].Filename, len(files))
				}
				return nil
			},
		},
		AfterRemove: []AfterRemoveHook{
			func(hctx *HookContext, attribute, filename string, removed int) {
				logger("Files removed: %s (%s, %d objects)", attribute, filename, removed)
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, operation string, err error) {
				logger("Error in %s: %v", operation, err)
			},
		},
	}
}
