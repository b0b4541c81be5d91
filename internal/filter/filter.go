// Package filter provides name predicates that decide which metric series
// leave the process.
package filter

import (
	"strings"
)

// Predicate decides whether a metric or series name is accepted.
type Predicate interface {
	Accept(name string) bool
}

type acceptAll struct{}

func (acceptAll) Accept(string) bool { return true }

// AcceptAll accepts every name. It is stateless and safe to share.
var AcceptAll Predicate = acceptAll{}

type and struct {
	left  Predicate
	right Predicate
}

func (a and) Accept(name string) bool {
	return a.left.Accept(name) && a.right.Accept(name)
}

// And returns a predicate accepting a name only if both a and b accept it.
// A nil operand is treated as AcceptAll. Neither operand is modified.
func And(a, b Predicate) Predicate {
	switch {
	case a == nil && b == nil:
		return AcceptAll
	case a == nil:
		return b
	case b == nil:
		return a
	}

	if _, ok := a.(acceptAll); ok {
		return b
	}

	if _, ok := b.(acceptAll); ok {
		return a
	}

	return and{left: a, right: b}
}

// NameFilter accepts names by exact inclusion, exact exclusion, prefix
// inclusion and prefix exclusion. Each clause with an empty set passes.
//
// Without excluded names it is a metric name filter. With excluded names it
// acts as a series name filter, where histogram and summary sub-series such
// as _count, _sum and _bucket have to be listed individually.
type NameFilter struct {
	includedNames    map[string]struct{}
	excludedNames    map[string]struct{}
	includedPrefixes []string
	excludedPrefixes []string
}

var _ Predicate = (*NameFilter)(nil)

// Accept reports whether name passes all clauses. An excluded prefix
// rejects even an exactly included name.
func (f *NameFilter) Accept(name string) bool {
	return f.matchesIncludedNames(name) &&
		!f.matchesExcludedNames(name) &&
		f.matchesIncludedPrefixes(name) &&
		!f.matchesExcludedPrefixes(name)
}

// And composes f with other. See And.
func (f *NameFilter) And(other Predicate) Predicate {
	return And(f, other)
}

// toBuilder returns a builder seeded with the sets of f.
func (f *NameFilter) toBuilder() *Builder {
	b := NewBuilder()

	for name := range f.includedNames {
		b.includedNames = append(b.includedNames, name)
	}

	for name := range f.excludedNames {
		b.excludedNames = append(b.excludedNames, name)
	}

	b.includedPrefixes = append(b.includedPrefixes, f.includedPrefixes...)
	b.excludedPrefixes = append(b.excludedPrefixes, f.excludedPrefixes...)

	return b
}

func (f *NameFilter) matchesIncludedNames(name string) bool {
	if len(f.includedNames) == 0 {
		return true
	}

	_, ok := f.includedNames[name]

	return ok
}

func (f *NameFilter) matchesExcludedNames(name string) bool {
	if len(f.excludedNames) == 0 {
		return false
	}

	_, ok := f.excludedNames[name]

	return ok
}

func (f *NameFilter) matchesIncludedPrefixes(name string) bool {
	if len(f.includedPrefixes) == 0 {
		return true
	}

	return hasAnyPrefix(name, f.includedPrefixes)
}

func (f *NameFilter) matchesExcludedPrefixes(name string) bool {
	if len(f.excludedPrefixes) == 0 {
		return false
	}

	return hasAnyPrefix(name, f.excludedPrefixes)
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

// Builder accumulates the raw name and prefix collections of a NameFilter.
type Builder struct {
	includedNames    []string
	excludedNames    []string
	includedPrefixes []string
	excludedPrefixes []string
}

// NewBuilder returns an empty builder. An empty builder builds a filter
// that accepts everything.
func NewBuilder() *Builder {
	return &Builder{}
}

// IncludeNames restricts the filter to series with exactly one of names.
// Histogram sub-series must be listed by their full series name.
func (b *Builder) IncludeNames(names ...string) *Builder {
	b.includedNames = append(b.includedNames, names...)

	return b
}

// ExcludeNames rejects series with exactly one of names.
func (b *Builder) ExcludeNames(names ...string) *Builder {
	b.excludedNames = append(b.excludedNames, names...)

	return b
}

// IncludePrefixes restricts the filter to names starting with one of prefixes.
func (b *Builder) IncludePrefixes(prefixes ...string) *Builder {
	b.includedPrefixes = append(b.includedPrefixes, prefixes...)

	return b
}

// ExcludePrefixes rejects names starting with one of prefixes.
func (b *Builder) ExcludePrefixes(prefixes ...string) *Builder {
	b.excludedPrefixes = append(b.excludedPrefixes, prefixes...)

	return b
}

// Build snapshots the accumulated collections into a new NameFilter.
// Later builder calls do not affect filters already built.
func (b *Builder) Build() *NameFilter {
	return &NameFilter{
		includedNames:    toSet(b.includedNames),
		excludedNames:    toSet(b.excludedNames),
		includedPrefixes: clone(b.includedPrefixes),
		excludedPrefixes: clone(b.excludedPrefixes),
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}

	return set
}

func clone(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	out := make([]string, len(values))
	copy(out, values)

	return out
}

// RestrictToNames narrows p to the given series names. It returns p
// unchanged when names is empty. A nil p means the names filter alone.
// HTTP exporters use this to implement the name[] query parameter.
func RestrictToNames(p Predicate, names []string) Predicate {
	if len(names) == 0 {
		return p
	}

	// A filter without an included-names clause takes the names directly,
	// which keeps a single flat check per name.
	if f, ok := p.(*NameFilter); ok && len(f.includedNames) == 0 {
		return f.toBuilder().IncludeNames(names...).Build()
	}

	restricted := NewBuilder().IncludeNames(names...).Build()
	if p == nil {
		return restricted
	}

	return And(restricted, p)
}

// ParseList splits s on commas, semicolons, spaces, tabs and newlines and
// drops empty tokens. It gives exporters one format for name lists passed
// as a single string.
func ParseList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		default:
			return false
		}
	})

	if len(fields) == 0 {
		return nil
	}

	return fields
}
