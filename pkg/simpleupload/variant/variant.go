// Package variant resolves which variants a complete upload group must
// contain.
package variant

import (
	"errors"
	"sort"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Set is the ordered list of variants required for a commit. The first
// element is always the base variant.
type Set struct {
	required []string
	index    map[string]struct{}
}

// Resolve derives the required variant set from settings.
//
// With no transforms only "original" is required. Otherwise "original" comes
// first followed by the transform keys in sorted order. When TransmitOriginal
// is false the client never sends the untouched file, so one of the
// transforms must itself be named "original".
func Resolve(settings simpleupload.Settings) (*Set, error) {
	if len(settings.Transforms) > 0 && !settings.TransmitOriginal {
		if _, ok := settings.Transforms[simpleupload.VariantOriginal]; !ok {
			return nil, &simpleupload.ConfigurationError{
				Field: "transforms",
				Err:   errors.New(`an "original" transform is required when the original is not transmitted`),
			}
		}
	}

	keys := make([]string, 0, len(settings.Transforms))
	for name := range settings.Transforms {
		if name == simpleupload.VariantOriginal {
			continue
		}
		if !simpleupload.ValidBaseName(name) {
			return nil, &simpleupload.ConfigurationError{
				Field: "transforms",
				Err:   errors.New("invalid variant name " + name),
			}
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)

	return New(append([]string{simpleupload.VariantOriginal}, keys...)...), nil
}

// New builds a set from explicit names. Duplicates are dropped and
// "original" is moved to the front when present.
func New(names ...string) *Set {
	s := &Set{index: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if _, dup := s.index[name]; dup {
			continue
		}
		s.index[name] = struct{}{}
		if name == simpleupload.VariantOriginal {
			s.required = append([]string{name}, s.required...)
			continue
		}
		s.required = append(s.required, name)
	}
	return s
}

// Required returns a copy of the required variants in commit order.
func (s *Set) Required() []string {
	out := make([]string, len(s.required))
	copy(out, s.required)
	return out
}

// Has reports whether name is part of the set.
func (s *Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Base returns the variant used for MIME detection and for naming the group.
func (s *Set) Base() string {
	if len(s.required) == 0 {
		return simpleupload.VariantOriginal
	}
	return s.required[0]
}

// Len returns the number of required variants.
func (s *Set) Len() int {
	return len(s.required)
}

// Missing returns the required variants absent from present, in order.
func (s *Set) Missing(present map[string]bool) []string {
	var missing []string
	for _, name := range s.required {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
