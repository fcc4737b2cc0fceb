package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/validate"
)

// URLBuilder turns a committed filename into a public URL.
type URLBuilder interface {
	URL(attr simpleupload.AttributeConfig, variant, filename string) string
}

// Behavior implements simpleupload.Lifecycle for records with file-valued
// attributes. Attribute values are staged base filenames until the record is
// saved and committed filenames afterwards.
type Behavior struct {
	engine     *Engine
	attributes []simpleupload.AttributeConfig
	byName     map[string]simpleupload.AttributeConfig
	urls       URLBuilder
	eventSink  simpleupload.EventSink
	logger     *slog.Logger
}

// BehaviorOption configures a Behavior.
type BehaviorOption func(*Behavior)

// WithURLBuilder sets the builder used by URL.
func WithURLBuilder(u URLBuilder) BehaviorOption {
	return func(b *Behavior) {
		b.urls = u
	}
}

// WithEventSink sets the sink notified after commits and removals.
func WithEventSink(s simpleupload.EventSink) BehaviorOption {
	return func(b *Behavior) {
		b.eventSink = s
	}
}

// WithBehaviorLogger sets the logger.
func WithBehaviorLogger(l *slog.Logger) BehaviorOption {
	return func(b *Behavior) {
		b.logger = l
	}
}

// NewBehavior attaches engine to the given attributes.
func NewBehavior(engine *Engine, attributes []simpleupload.AttributeConfig, opts ...BehaviorOption) (*Behavior, error) {
	if engine == nil {
		return nil, &simpleupload.ConfigurationError{Field: "engine", Err: errors.New("commit engine is required")}
	}
	if len(attributes) == 0 {
		return nil, &simpleupload.ConfigurationError{Field: "attributes", Err: errors.New("invalid or empty attributes")}
	}

	b := &Behavior{
		engine:     engine,
		attributes: attributes,
		byName:     make(map[string]simpleupload.AttributeConfig, len(attributes)),
		eventSink:  simpleupload.NewNoopEventSink(),
		logger:     engine.logger,
	}
	for _, attr := range attributes {
		if err := validate.Struct(attr); err != nil {
			return nil, &simpleupload.ConfigurationError{Field: attr.Name, Err: err}
		}
		if _, dup := b.byName[attr.Name]; dup {
			return nil, &simpleupload.ConfigurationError{Field: attr.Name, Err: errors.New("duplicate attribute")}
		}
		b.byName[attr.Name] = attr
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Attribute returns the configuration of name.
func (b *Behavior) Attribute(name string) (simpleupload.AttributeConfig, bool) {
	attr, ok := b.byName[name]
	return attr, ok
}

// Attributes returns the configured attributes in declaration order.
func (b *Behavior) Attributes() []simpleupload.AttributeConfig {
	out := make([]simpleupload.AttributeConfig, len(b.attributes))
	copy(out, b.attributes)
	return out
}

// BeforeInsert commits every attribute holding a value.
func (b *Behavior) BeforeInsert(ctx context.Context, record simpleupload.Record) error {
	var changed []simpleupload.AttributeConfig
	for _, attr := range b.attributes {
		if record.Attribute(attr.Name) != "" {
			changed = append(changed, attr)
		}
	}
	return b.save(ctx, record, changed)
}

// BeforeUpdate commits every attribute whose value changed.
func (b *Behavior) BeforeUpdate(ctx context.Context, record simpleupload.Record) error {
	var changed []simpleupload.AttributeConfig
	for _, attr := range b.attributes {
		if record.Attribute(attr.Name) != record.OldAttribute(attr.Name) {
			changed = append(changed, attr)
		}
	}
	return b.save(ctx, record, changed)
}

// BeforeDelete removes the durable sets of attributes configured with
// DeleteOnDelete.
func (b *Behavior) BeforeDelete(ctx context.Context, record simpleupload.Record) error {
	for _, attr := range b.attributes {
		if !attr.DeleteOnDelete {
			continue
		}
		if value := record.Attribute(attr.Name); value != "" {
			b.remove(ctx, attr, value)
		}
	}
	return nil
}

// save commits the changed attributes as one unit. Every staged group is
// checked before anything is written. When a commit fails the save is vetoed:
// every changed attribute gets its persisted value back, sets already written
// by this save are removed again and all temp copies stay in place. Previous
// durable sets are only retired once every commit of the save has succeeded.
func (b *Behavior) save(ctx context.Context, record simpleupload.Record, changed []simpleupload.AttributeConfig) error {
	for _, attr := range changed {
		value := record.Attribute(attr.Name)
		if value == "" {
			continue
		}
		if err := b.engine.Check(ctx, attr, value); err != nil {
			b.restore(record, changed)
			b.logger.Warn("file check failed, save vetoed", "attribute", attr.Name, "filename", value, "error", err)
			return fmt.Errorf("commit %s: %w", attr.Name, err)
		}
	}

	type promoted struct {
		attr   simpleupload.AttributeConfig
		result *Result
	}
	var done []promoted

	for _, attr := range changed {
		value := record.Attribute(attr.Name)
		if value == "" {
			continue
		}
		result, err := b.engine.promote(ctx, attr, value)
		if err != nil {
			for _, p := range done {
				if p.result.Filename != record.OldAttribute(p.attr.Name) {
					b.engine.Remove(ctx, p.attr, p.result.Filename)
				}
			}
			b.restore(record, changed)
			b.logger.Warn("file commit failed, save vetoed", "attribute", attr.Name, "filename", value, "state", result.State, "rolled_back", len(done), "error", err)
			return fmt.Errorf("commit %s: %w", attr.Name, err)
		}
		record.SetAttribute(attr.Name, result.Filename)
		done = append(done, promoted{attr: attr, result: result})
	}

	for _, p := range done {
		b.engine.DiscardTemp(p.attr, p.result)
		if err := b.engine.hooks.RunAfterUpload(ctx, p.attr.Name, p.result.Files); err != nil {
			b.logger.Warn("after upload hook failed", "attribute", p.attr.Name, "error", err)
		}
		if err := b.eventSink.FilesCommitted(ctx, p.attr.Name, p.result.Files); err != nil {
			b.logger.Warn("failed to fire files committed event", "attribute", p.attr.Name, "error", err)
		}
	}

	for _, attr := range changed {
		old := record.OldAttribute(attr.Name)
		if attr.DeleteOnSave && old != "" && old != record.Attribute(attr.Name) {
			b.remove(ctx, attr, old)
		}
	}
	return nil
}

// restore puts back the persisted value of every changed attribute.
func (b *Behavior) restore(record simpleupload.Record, changed []simpleupload.AttributeConfig) {
	for _, attr := range changed {
		record.SetAttribute(attr.Name, record.OldAttribute(attr.Name))
	}
}

func (b *Behavior) remove(ctx context.Context, attr simpleupload.AttributeConfig, filename string) int {
	removed := b.engine.Remove(ctx, attr, filename)
	if err := b.eventSink.FilesRemoved(ctx, attr.Name, filename); err != nil {
		b.logger.Warn("failed to fire files removed event", "attribute", attr.Name, "error", err)
	}
	return removed
}

// URL returns the public URL of a variant of the record's file, or "" when
// the attribute is unknown or empty. An empty variant means the original.
func (b *Behavior) URL(record simpleupload.Record, attribute, variant string) string {
	attr, ok := b.byName[attribute]
	if !ok || b.urls == nil {
		return ""
	}
	value := record.Attribute(attribute)
	if value == "" {
		return ""
	}
	if variant == "" {
		variant = simpleupload.VariantOriginal
	}
	return b.urls.URL(attr, variant, value)
}

// URLs returns the URL of every variant of the record's file.
func (b *Behavior) URLs(record simpleupload.Record, attribute string) map[string]string {
	if record.Attribute(attribute) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, v := range b.engine.variants.Required() {
		if u := b.URL(record, attribute, v); u != "" {
			out[v] = u
		}
	}
	return out
}

// MimeType returns the stored content type of the original variant.
func (b *Behavior) MimeType(ctx context.Context, record simpleupload.Record, attribute string) (string, error) {
	p, err := b.originalPath(record, attribute)
	if err != nil {
		return "", err
	}
	meta, err := b.engine.store.Stat(ctx, p)
	if err != nil {
		return "", err
	}
	return meta.ContentType, nil
}

// FileExists reports whether the original variant is stored.
func (b *Behavior) FileExists(ctx context.Context, record simpleupload.Record, attribute string) (bool, error) {
	p, err := b.originalPath(record, attribute)
	if errors.Is(err, simpleupload.ErrObjectNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return b.engine.store.Has(ctx, p)
}

// RemoveAttribute deletes the stored variant set and clears the attribute.
// The caller persists the record. It reports whether anything was deleted.
func (b *Behavior) RemoveAttribute(ctx context.Context, record simpleupload.Record, attribute string) (bool, error) {
	attr, ok := b.byName[attribute]
	if !ok {
		return false, fmt.Errorf("unknown attribute %q", attribute)
	}
	value := record.Attribute(attribute)
	if value == "" {
		return false, nil
	}
	removed := b.remove(ctx, attr, value)
	record.SetAttribute(attribute, "")
	return removed > 0, nil
}

func (b *Behavior) originalPath(record simpleupload.Record, attribute string) (string, error) {
	attr, ok := b.byName[attribute]
	if !ok {
		return "", fmt.Errorf("unknown attribute %q", attribute)
	}
	value := record.Attribute(attribute)
	if value == "" {
		return "", simpleupload.ErrObjectNotFound
	}
	return simpleupload.DurablePath(attr.Path, simpleupload.VariantOriginal, value), nil
}
