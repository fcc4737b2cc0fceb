package simpleupload

import "context"

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// FilesStaged does nothing and returns nil
func (n *NoopEventSink) FilesStaged(ctx context.Context, attribute string, files []StagedFile) error {
	return nil
}

// FilesCommitted does nothing and returns nil
func (n *NoopEventSink) FilesCommitted(ctx context.Context, attribute string, files []DurableFile) error {
	return nil
}

// FilesRemoved does nothing and returns nil
func (n *NoopEventSink) FilesRemoved(ctx context.Context, attribute string, filename string) error {
	return nil
}

// NoopLifecycle never vetoes and never touches files
type NoopLifecycle struct{}

// NewNoopLifecycle creates a lifecycle that accepts every operation
func NewNoopLifecycle() Lifecycle {
	return &NoopLifecycle{}
}

func (NoopLifecycle) BeforeInsert(ctx context.Context, record Record) error { return nil }
func (NoopLifecycle) BeforeUpdate(ctx context.Context, record Record) error { return nil }
func (NoopLifecycle) BeforeDelete(ctx context.Context, record Record) error { return nil }
