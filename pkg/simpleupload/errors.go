package simpleupload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error types
var (
	// ErrObjectNotFound indicates an object was not found in a BlobStore
	ErrObjectNotFound = errors.New("object not found")

	// ErrRecordNotFound indicates a record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrCannotUpload is the generic message reported when a staged or
	// durable write fails
	ErrCannotUpload = errors.New("cannot upload file")

	// ErrNoFiles indicates an upload request carried no file parts
	ErrNoFiles = errors.New("no files")
)

// ConfigurationError is raised at construction time and is fatal.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration for %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ValidationError reports a blob rejected by the content policy. Message is
// meant for end users.
type ValidationError struct {
	Variant string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MissingVariantError reports required variants absent from the temp area.
type MissingVariantError struct {
	Attribute string
	Variants  []string
}

func (e *MissingVariantError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("missing required variants: %s", strings.Join(e.Variants, ", "))
	}
	return fmt.Sprintf("missing required variants for %s: %s", e.Attribute, strings.Join(e.Variants, ", "))
}

// WriteFailure reports durable writes that failed during a commit. Variants in
// Written were stored before or after the failures and are not rolled back.
type WriteFailure struct {
	Attribute string
	Failed    map[string]error
	Written   []string
}

func (e *WriteFailure) Error() string {
	variants := make([]string, 0, len(e.Failed))
	for v := range e.Failed {
		variants = append(variants, v)
	}
	sort.Strings(variants)
	return fmt.Sprintf("%v: %s: failed variants %s", ErrCannotUpload, e.Attribute, strings.Join(variants, ", "))
}

func (e *WriteFailure) Unwrap() []error {
	errs := []error{ErrCannotUpload}
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err indicates a missing object or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrRecordNotFound)
}
