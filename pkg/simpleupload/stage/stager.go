// Package stage writes validated upload groups into the temp area under
// derived names, ready to be promoted by the commit engine.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/validate"
	"github.com/tendant/simple-upload/pkg/simpleupload/variant"
)

// Config configures a Stager for one attribute.
type Config struct {
	TempDir   string
	Layout    simpleupload.Layout
	Attribute simpleupload.AttributeConfig
	// Variants defaults to a set holding only "original".
	Variants *variant.Set
	// Generator defaults to ULID tokens.
	Generator NameGenerator
	Hooks     *simpleupload.Hooks
	EventSink simpleupload.EventSink
	Logger    *slog.Logger
}

// Stager writes upload groups of a single attribute into the temp area.
type Stager struct {
	tempDir   string
	layout    simpleupload.Layout
	attribute simpleupload.AttributeConfig
	variants  *variant.Set
	generator NameGenerator
	hooks     *simpleupload.Hooks
	eventSink simpleupload.EventSink
	logger    *slog.Logger
}

// Part is one variant of an upload group.
type Part struct {
	Variant string
	Blob    *simpleupload.UploadedBlob
}

// GroupResult describes a fully staged group.
type GroupResult struct {
	BaseName string
	Files    []simpleupload.StagedFile
}

// New creates a Stager and makes sure its temp directory exists.
func New(cfg Config) (*Stager, error) {
	if cfg.TempDir == "" {
		return nil, &simpleupload.ConfigurationError{Field: "temp_dir", Err: errors.New("temp directory is required")}
	}
	if cfg.Layout == "" {
		cfg.Layout = simpleupload.LayoutFlat
	}
	if cfg.Layout != simpleupload.LayoutFlat && cfg.Layout != simpleupload.LayoutDirectory {
		return nil, &simpleupload.ConfigurationError{Field: "layout", Err: fmt.Errorf("unknown layout %q", cfg.Layout)}
	}
	if cfg.Attribute.Name == "" {
		return nil, &simpleupload.ConfigurationError{Field: "attribute", Err: errors.New("attribute name is required")}
	}
	if err := validate.CheckOptions(cfg.Attribute.Options); err != nil {
		return nil, &simpleupload.ConfigurationError{Field: cfg.Attribute.Name + ".options", Err: err}
	}
	if cfg.Variants == nil {
		cfg.Variants = variant.New(simpleupload.VariantOriginal)
	}
	if cfg.Generator == nil {
		cfg.Generator = NewULIDGenerator()
	}
	if cfg.EventSink == nil {
		cfg.EventSink = simpleupload.NewNoopEventSink()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, &simpleupload.ConfigurationError{Field: "temp_dir", Err: err}
	}

	return &Stager{
		tempDir:   cfg.TempDir,
		layout:    cfg.Layout,
		attribute: cfg.Attribute,
		variants:  cfg.Variants,
		generator: cfg.Generator,
		hooks:     cfg.Hooks,
		eventSink: cfg.EventSink,
		logger:    cfg.Logger,
	}, nil
}

func (s *Stager) TempDir() string                         { return s.tempDir }
func (s *Stager) Layout() simpleupload.Layout             { return s.layout }
func (s *Stager) Attribute() simpleupload.AttributeConfig { return s.attribute }
func (s *Stager) Variants() *variant.Set                  { return s.variants }

// Path returns the temp path of variant for base.
func (s *Stager) Path(variantName, base string) string {
	return simpleupload.TempPath(s.tempDir, s.layout, variantName, base)
}

// NewGroup starts a new upload group. A group is not safe for concurrent use.
func (s *Stager) NewGroup() *Group {
	return &Group{stager: s}
}

// StageAll stages parts as one group. The variant names are checked and the
// group must contain every required variant before anything is written. On
// any failure every file written for the group is removed.
func (s *Stager) StageAll(ctx context.Context, parts []Part) (*GroupResult, error) {
	if len(parts) == 0 {
		return nil, simpleupload.ErrNoFiles
	}

	present := make(map[string]bool, len(parts))
	for _, p := range parts {
		if !s.variants.Has(p.Variant) {
			return nil, unknownVariant(p.Variant)
		}
		if present[p.Variant] {
			return nil, &simpleupload.ValidationError{
				Variant: p.Variant,
				Message: fmt.Sprintf("Variant %q was uploaded more than once.", p.Variant),
			}
		}
		present[p.Variant] = true
	}
	if missing := s.variants.Missing(present); len(missing) > 0 {
		return nil, &simpleupload.MissingVariantError{Attribute: s.attribute.Name, Variants: missing}
	}

	group := s.NewGroup()
	for _, p := range parts {
		if _, err := group.Stage(ctx, p.Blob, p.Variant); err != nil {
			group.discardOnFailure(ctx)
			return nil, err
		}
	}

	result, err := group.Complete(ctx)
	if err != nil {
		group.discardOnFailure(ctx)
		return nil, err
	}
	return result, nil
}

// Group accumulates the variants of one upload. The base filename is fixed by
// the first staged variant and reused by every later one.
type Group struct {
	stager *Stager
	base   string
	staged []simpleupload.StagedFile
}

// BaseName returns the shared base filename, empty before the first Stage.
func (g *Group) BaseName() string {
	return g.base
}

// Files returns the variants staged so far.
func (g *Group) Files() []simpleupload.StagedFile {
	out := make([]simpleupload.StagedFile, len(g.staged))
	copy(out, g.staged)
	return out
}

// Stage validates blob and writes it to the temp area as variantName.
// Validation runs before any byte is written.
func (g *Group) Stage(ctx context.Context, blob *simpleupload.UploadedBlob, variantName string) (*simpleupload.StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := g.stager
	if !s.variants.Has(variantName) {
		return nil, unknownVariant(variantName)
	}
	if err := s.hooks.RunBeforeStage(ctx, s.attribute.Name, variantName, blob); err != nil {
		return nil, err
	}
	if err := validate.Validate(blob, s.attribute.Policy, s.attribute.Options); err != nil {
		var verr *simpleupload.ValidationError
		if errors.As(err, &verr) {
			verr.Variant = variantName
		}
		return nil, err
	}

	first := g.base == ""
	if first {
		base, err := g.baseName(blob)
		if err != nil {
			return nil, err
		}
		g.base = base
	}

	path := s.Path(variantName, g.base)
	size, err := writeTemp(path, blob.Body)
	if err != nil {
		s.logger.Error("failed to stage file", "attribute", s.attribute.Name, "variant", variantName, "path", path, "error", err)
		if first {
			g.base = ""
		}
		return nil, &simpleupload.WriteFailure{
			Attribute: s.attribute.Name,
			Failed:    map[string]error{variantName: err},
		}
	}

	file := simpleupload.StagedFile{
		TempDir:  s.tempDir,
		Variant:  variantName,
		BaseName: g.base,
		Path:     path,
		Size:     size,
	}
	g.staged = append(g.staged, file)
	s.logger.Debug("staged file", "attribute", s.attribute.Name, "variant", variantName, "base", g.base, "size", size)
	return &file, nil
}

// Complete checks that every required variant was staged and announces the
// group.
func (g *Group) Complete(ctx context.Context) (*GroupResult, error) {
	s := g.stager
	if len(g.staged) == 0 {
		return nil, simpleupload.ErrNoFiles
	}
	present := make(map[string]bool, len(g.staged))
	for _, f := range g.staged {
		present[f.Variant] = true
	}
	if missing := s.variants.Missing(present); len(missing) > 0 {
		return nil, &simpleupload.MissingVariantError{Attribute: s.attribute.Name, Variants: missing}
	}

	files := g.Files()
	if err := s.hooks.RunAfterStage(ctx, s.attribute.Name, files); err != nil {
		return nil, err
	}
	if err := s.eventSink.FilesStaged(ctx, s.attribute.Name, files); err != nil {
		s.logger.Warn("failed to fire files staged event", "attribute", s.attribute.Name, "error", err)
	}
	return &GroupResult{BaseName: g.base, Files: files}, nil
}

// Discard removes every file staged by the group.
func (g *Group) Discard(ctx context.Context) error {
	var errs []error
	for _, f := range g.staged {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", f.Path, err))
		}
	}
	g.staged = nil
	g.base = ""
	return errors.Join(errs...)
}

func (g *Group) discardOnFailure(ctx context.Context) {
	if err := g.Discard(ctx); err != nil {
		g.stager.logger.Warn("failed to discard staged group", "attribute", g.stager.attribute.Name, "error", err)
	}
}

func (g *Group) baseName(blob *simpleupload.UploadedBlob) (string, error) {
	if g.stager.attribute.Unique {
		return g.stager.generator.Token() + validate.Extension(blob), nil
	}
	if !simpleupload.ValidBaseName(blob.Name) {
		return "", &simpleupload.ValidationError{Message: fmt.Sprintf("The file name %q is not allowed.", blob.Name)}
	}
	return blob.Name, nil
}

func writeTemp(path string, body io.ReadSeeker) (int64, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

func unknownVariant(name string) error {
	return &simpleupload.ValidationError{
		Variant: name,
		Message: fmt.Sprintf("Unknown variant %q.", name),
	}
}
