// Package properties models component-scoped deployment properties.
//
// A property is addressed by (scope, key). The scope names a pipeline
// component, or AllScopes for properties that apply to every component.
// Sets are ordered by first insertion so diagnostic output and compiled
// payloads are stable, while lookups ignore order.
package properties

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// AllScopes addresses every component of a pipeline.
const AllScopes = "*"

// Property is a single scoped key/value pair.
type Property struct {
	Scope string `json:"scope" yaml:"scope"`
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// String renders the property in the assignment form accepted by Parse.
func (p Property) String() string {
	return p.Scope + "." + p.Key + "=" + p.Value
}

// Address identifies a property inside a Set.
type Address struct {
	Scope string
	Key   string
}

// Set is an ordered mapping from Address to value. The zero value is not
// usable; create sets with New, Parse or Merge. Methods that change content
// return a new Set so a Set handed to the reconciler is never mutated behind
// its back.
type Set struct {
	values *orderedmap.OrderedMap[Address, string]
}

// New returns a Set containing props in order. Later duplicates override
// earlier ones.
func New(props ...Property) *Set {
	s := &Set{values: orderedmap.New[Address, string]()}
	for _, p := range props {
		s.put(p.Scope, p.Key, p.Value)
	}
	return s
}

func (s *Set) put(scope, key, value string) {
	s.values.Set(Address{Scope: scope, Key: key}, value)
}

// Get returns the value stored for (scope, key).
func (s *Set) Get(scope, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.values.Get(Address{Scope: scope, Key: key})
}

// Has reports whether (scope, key) is present.
func (s *Set) Has(scope, key string) bool {
	_, ok := s.Get(scope, key)
	return ok
}

// Resolve returns the value for key as seen by the named component: a
// component-scoped value wins over an AllScopes value.
func (s *Set) Resolve(scope, key string) (string, bool) {
	if v, ok := s.Get(scope, key); ok {
		return v, true
	}
	return s.Get(AllScopes, key)
}

// Len returns the number of properties.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.values.Len()
}

// Entries returns the properties in first-insertion order.
func (s *Set) Entries() []Property {
	if s == nil {
		return nil
	}
	out := make([]Property, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Property{Scope: pair.Key.Scope, Key: pair.Key.Key, Value: pair.Value})
	}
	return out
}

// Scopes returns the distinct scopes in first-seen order.
func (s *Set) Scopes() []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, p := range s.Entries() {
		if !seen[p.Scope] {
			seen[p.Scope] = true
			scopes = append(scopes, p.Scope)
		}
	}
	return scopes
}

// With returns a copy of s with (scope, key) set to value.
func (s *Set) With(scope, key, value string) *Set {
	out := New(s.Entries()...)
	out.put(scope, key, value)
	return out
}

// Merge combines sources in precedence order: for an identical (scope, key)
// the value from the later source wins. Position follows the first source
// that introduced the address. Nil sources are skipped.
func Merge(sources ...*Set) *Set {
	out := New()
	for _, src := range sources {
		for _, p := range src.Entries() {
			out.put(p.Scope, p.Key, p.Value)
		}
	}
	return out
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`)

// Format renders the set in the line format accepted by Parse, one property
// per line.
func (s *Set) Format() string {
	var b strings.Builder
	for _, p := range s.Entries() {
		value := valueEscaper.Replace(p.Value)
		fmt.Fprintf(&b, "%s.%s=%s\n", p.Scope, p.Key, value)
	}
	return b.String()
}
