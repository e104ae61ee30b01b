package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/sasha-s/go-deadlock"
)

var (
	// ErrNotFound is returned when a parameter is not set.
	ErrNotFound = errors.New("param not found")
	// ErrTypeMismatch is returned when a parameter is read or restored with the wrong type.
	ErrTypeMismatch = errors.New("param type mismatch")
)

// Map is a threadsafe, type-aware parameter map owned by a single stage.
//
// Parameters may be declared with a Go type before they are set. Declared
// parameters are type checked on Set and decoded to their declared type on
// Restore; undeclared parameters restored from JSON are kept as json.RawMessage.
type Map struct {
	mu       deadlock.RWMutex
	declared map[string]reflect.Type
	data     map[string]entry
}

type entry struct {
	typ   reflect.Type
	value any
}

// New constructs an empty parameter map.
func New() *Map {
	return &Map{
		declared: make(map[string]reflect.Type),
		data:     make(map[string]entry),
	}
}

// Declare registers the Go type of a parameter.
func (m *Map) Declare(name string, typ reflect.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declared[name] = typ
}

// Declared returns the declared type of name, if any.
func (m *Map) Declared(name string) (reflect.Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.declared[name]
	return t, ok
}

// Set stores value under name, checking it against the declared type.
func (m *Map) Set(name string, value any) error {
	if name == "" {
		return errors.New("param name cannot be empty")
	}
	if value == nil {
		return fmt.Errorf("param %q: nil value", name)
	}

	t := reflect.TypeOf(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if want, ok := m.declared[name]; ok && !t.AssignableTo(want) {
		return fmt.Errorf("%w: param %q declared as %v, got %v", ErrTypeMismatch, name, want, t)
	}
	m.data[name] = entry{typ: t, value: value}
	return nil
}

// Get retrieves a parameter of type T.
func Get[T any](m *Map, name string) (T, error) {
	var zero T

	m.mu.RLock()
	e, ok := m.data[name]
	m.mu.RUnlock()

	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	result, ok := e.value.(T)
	if !ok {
		want := reflect.TypeOf((*T)(nil)).Elem()
		return zero, fmt.Errorf("%w: param %q wanted %v, got %v", ErrTypeMismatch, name, want, e.typ)
	}
	return result, nil
}

// GetOrDefault retrieves a parameter of type T, falling back to defaultValue when unset.
func GetOrDefault[T any](m *Map, name string, defaultValue T) (T, error) {
	value, err := Get[T](m, name)
	if errors.Is(err, ErrNotFound) {
		return defaultValue, nil
	}
	return value, err
}

// Has reports whether name is set.
func (m *Map) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[name]
	return ok
}

// Delete removes a parameter. It reports whether it was set.
func (m *Map) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return false
	}
	delete(m.data, name)
	return true
}

// Names returns the names of all set parameters, sorted.
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of set parameters.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Clone returns a copy of the map. Declarations are copied, values are
// shared by reference except for json.RawMessage which is duplicated.
func (m *Map) Clone() *Map {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := New()
	for k, t := range m.declared {
		c.declared[k] = t
	}
	for k, e := range m.data {
		if raw, ok := e.value.(json.RawMessage); ok {
			e.value = append(json.RawMessage(nil), raw...)
		}
		c.data[k] = e
	}
	return c
}

// Replace swaps the contents of m for those of other.
func (m *Map) Replace(other *Map) {
	if m == other {
		return
	}
	other.mu.RLock()
	declared := make(map[string]reflect.Type, len(other.declared))
	for k, t := range other.declared {
		declared[k] = t
	}
	data := make(map[string]entry, len(other.data))
	for k, e := range other.data {
		data[k] = e
	}
	other.mu.RUnlock()

	m.mu.Lock()
	m.declared = declared
	m.data = data
	m.mu.Unlock()
}

// Encode returns the JSON encoding of every set parameter.
func (m *Map) Encode() (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.data))
	for k, e := range m.data {
		data, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode param %q: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}

// Restore sets name from its JSON encoding. Declared parameters are decoded
// to their declared type; others are stored as json.RawMessage.
func (m *Map) Restore(name string, raw json.RawMessage) error {
	if name == "" {
		return errors.New("param name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	want, ok := m.declared[name]
	if !ok {
		m.data[name] = entry{
			typ:   reflect.TypeOf(json.RawMessage(nil)),
			value: append(json.RawMessage(nil), raw...),
		}
		return nil
	}

	if string(bytes.TrimSpace(raw)) == "null" && !nullable(want) {
		return fmt.Errorf("%w: param %q as %v: null value", ErrTypeMismatch, name, want)
	}

	ptr := reflect.New(want)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return fmt.Errorf("%w: param %q as %v: %v", ErrTypeMismatch, name, want, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: param %q: trailing data after JSON value", ErrTypeMismatch, name)
	}
	m.data[name] = entry{typ: want, value: ptr.Elem().Interface()}
	return nil
}

// Schema returns a JSON Schema for the declared type of name.
func (m *Map) Schema(name string) (*jsonschema.Schema, error) {
	t, ok := m.Declared(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not declared", ErrNotFound, name)
	}
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	return reflector.ReflectFromType(t), nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}
