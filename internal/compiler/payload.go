package compiler

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scopeMap holds the compiled keys of one scope in insertion order.
type scopeMap = orderedmap.OrderedMap[string, string]

// Payload is the compiled deployment request body: an ordered object of
// scope to an ordered object of key to string value.
type Payload struct {
	scopes *orderedmap.OrderedMap[string, *scopeMap]
}

func newPayload() *Payload {
	return &Payload{scopes: orderedmap.New[string, *scopeMap]()}
}

func (p *Payload) set(scope, key, value string) {
	if p.scopes == nil {
		p.scopes = orderedmap.New[string, *scopeMap]()
	}
	sp, ok := p.scopes.Get(scope)
	if !ok {
		sp = orderedmap.New[string, string]()
		p.scopes.Set(scope, sp)
	}
	sp.Set(key, value)
}

// Scopes returns the scopes in payload order.
func (p *Payload) Scopes() []string {
	var out []string
	if p.scopes == nil {
		return out
	}
	for pair := p.scopes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Get returns the compiled value for (scope, key).
func (p *Payload) Get(scope, key string) (string, bool) {
	if p.scopes == nil {
		return "", false
	}
	sp, ok := p.scopes.Get(scope)
	if !ok {
		return "", false
	}
	return sp.Get(key)
}

// Len returns the total number of compiled keys.
func (p *Payload) Len() int {
	n := 0
	if p.scopes == nil {
		return n
	}
	for pair := p.scopes.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Len()
	}
	return n
}

// Flatten returns the payload in the flat "app.<scope>.<key>" form, in
// payload order.
func (p *Payload) Flatten() []string {
	var out []string
	if p.scopes == nil {
		return out
	}
	for pair := p.scopes.Oldest(); pair != nil; pair = pair.Next() {
		for kv := pair.Value.Oldest(); kv != nil; kv = kv.Next() {
			out = append(out, fmt.Sprintf("app.%s.%s=%s", pair.Key, kv.Key, kv.Value))
		}
	}
	return out
}

// Equal reports whether props holds exactly the compiled keys and values.
// Order is ignored.
func (p *Payload) Equal(props map[string]map[string]string) bool {
	if p.Len() != countValues(props) {
		return false
	}
	for scope, values := range props {
		for key, want := range values {
			if got, ok := p.Get(scope, key); !ok || got != want {
				return false
			}
		}
	}
	return true
}

func countValues(props map[string]map[string]string) int {
	n := 0
	for _, values := range props {
		n += len(values)
	}
	return n
}

// MarshalJSON writes the payload preserving scope and key order. An empty
// payload encodes as {}.
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p.scopes == nil {
		return []byte("{}"), nil
	}
	return p.scopes.MarshalJSON()
}

// UnmarshalJSON reads a nested scope/key object. Order follows the input.
func (p *Payload) UnmarshalJSON(data []byte) error {
	scopes := orderedmap.New[string, *scopeMap]()
	if err := scopes.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	for pair := scopes.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			return fmt.Errorf("invalid payload: scope %q is not an object", pair.Key)
		}
	}
	p.scopes = scopes
	return nil
}
