// Package compiler turns a property set into the deployment payload accepted
// by the control plane.
package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/properties"
)

// ListSeparator is the only list separator the control plane parses.
const ListSeparator = ","

// DefaultBundleKeys are the key suffixes treated as environment-variable
// bundles.
var DefaultBundleKeys = []string{"environment-variables", "environmentVariables", "env"}

// DefaultBundleDelimiters are the secondary delimiters found inside bundles
// written for shells and older tooling.
var DefaultBundleDelimiters = []string{";", "|"}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type options struct {
	bundleKeys []string
	delimiters []string
}

// Option configures Compile.
type Option func(*options)

// WithBundleKeys replaces the set of key suffixes treated as
// environment-variable bundles.
func WithBundleKeys(keys ...string) Option {
	return func(o *options) {
		o.bundleKeys = keys
	}
}

// WithBundleDelimiters replaces the secondary delimiters recognised inside
// bundles.
func WithBundleDelimiters(delims ...string) Option {
	return func(o *options) {
		o.delimiters = delims
	}
}

// Compile builds the payload for set. Scopes appear in first-seen order and
// keys within a scope in first-seen order; a repeated (scope, key) keeps the
// last value. An empty or nil set compiles to an empty payload.
func Compile(set *properties.Set, opts ...Option) (*Payload, error) {
	o := &options{
		bundleKeys: DefaultBundleKeys,
		delimiters: DefaultBundleDelimiters,
	}
	for _, opt := range opts {
		opt(o)
	}

	payload := newPayload()
	for _, p := range set.Entries() {
		value := p.Value
		if o.isBundle(p.Key) {
			normalized, err := o.normalizeBundle(value)
			if err != nil {
				return nil, &errdefs.ConfigError{
					Field:  p.Scope + "." + p.Key,
					Reason: "invalid environment variable bundle",
					Err:    err,
				}
			}
			value = normalized
		}
		payload.set(p.Scope, p.Key, value)
	}
	return payload, nil
}

func (o *options) isBundle(key string) bool {
	for _, suffix := range o.bundleKeys {
		if key == suffix || strings.HasSuffix(key, "."+suffix) {
			return true
		}
	}
	return false
}

// normalizeBundle tokenizes a NAME=value bundle on the secondary delimiters
// and the list separator, then re-joins it with ListSeparator. Item values
// that contain the separator or a delimiter are double-quoted so the control
// plane does not split them.
func (o *options) normalizeBundle(raw string) (string, error) {
	items, err := o.splitBundle(raw)
	if err != nil {
		return "", err
	}
	return strings.Join(items, ListSeparator), nil
}

func (o *options) splitBundle(raw string) ([]string, error) {
	var (
		items   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() error {
		item := strings.TrimSpace(current.String())
		current.Reset()
		if item == "" {
			return nil
		}
		normalized, err := o.normalizeItem(item)
		if err != nil {
			return err
		}
		items = append(items, normalized)
		return nil
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '"':
			quoted = !quoted
			current.WriteByte(c)
		case c == '\\' && quoted && i+1 < len(raw):
			current.WriteByte(c)
			i++
			current.WriteByte(raw[i])
		case !quoted && o.delimiterAt(raw[i:]) > 0:
			i += o.delimiterAt(raw[i:]) - 1
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteByte(c)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", raw)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return items, nil
}

// delimiterAt returns the length of the delimiter starting rest, or 0.
func (o *options) delimiterAt(rest string) int {
	if strings.HasPrefix(rest, ListSeparator) {
		return len(ListSeparator)
	}
	for _, d := range o.delimiters {
		if d != "" && strings.HasPrefix(rest, d) {
			return len(d)
		}
	}
	return 0
}

// normalizeItem validates NAME=value and re-quotes a value that would
// otherwise be split by a separator or delimiter.
func (o *options) normalizeItem(item string) (string, error) {
	eq := strings.IndexByte(item, '=')
	if eq <= 0 {
		return "", fmt.Errorf("item %q is not NAME=value", item)
	}
	name := strings.TrimSpace(item[:eq])
	if !envName.MatchString(name) {
		return "", fmt.Errorf("invalid variable name %q", name)
	}
	value := strings.TrimSpace(item[eq+1:])
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = unquote(value[1 : len(value)-1])
	}
	if o.needsQuotes(value) {
		value = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
	}
	return name + "=" + value, nil
}

func (o *options) needsQuotes(value string) bool {
	if strings.Contains(value, ListSeparator) || strings.Contains(value, `"`) {
		return true
	}
	for _, d := range o.delimiters {
		if d != "" && strings.Contains(value, d) {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(s)
}
