package featurestage

import (
	"fmt"
	"reflect"

	"github.com/sasha-s/go-deadlock"
)

// TypeHandle is a resolvable type descriptor. Both feature types and the
// value types they wrap are type handles.
type TypeHandle interface {
	// TypeName returns the canonical name used in persisted documents.
	TypeName() string
}

// ValueType describes a Go value type that feature values are stored as.
type ValueType struct {
	name string
	typ  reflect.Type
}

// NewValueType returns a ValueType named after the Go type t.
func NewValueType(t reflect.Type) ValueType {
	return ValueType{name: t.String(), typ: t}
}

// NewNamedValueType returns a ValueType for t registered under name.
func NewNamedValueType(name string, t reflect.Type) ValueType {
	return ValueType{name: name, typ: t}
}

// TypeName implements TypeHandle.
func (v ValueType) TypeName() string { return v.name }

// Type returns the Go type.
func (v ValueType) Type() reflect.Type { return v.typ }

func (v ValueType) String() string { return v.name }

// MarshalJSON fails: value types are persisted as type tags, never as plain
// JSON values.
func (v ValueType) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("value type %s cannot be encoded as a JSON value", v.name)
}

// FeatureType describes the type of a feature and the value type it wraps.
type FeatureType struct {
	name  string
	value ValueType
}

// NewFeatureType returns a FeatureType named name wrapping value.
func NewFeatureType(name string, value ValueType) FeatureType {
	return FeatureType{name: name, value: value}
}

// TypeName implements TypeHandle.
func (f FeatureType) TypeName() string { return f.name }

// ValueType returns the wrapped value type.
func (f FeatureType) ValueType() ValueType { return f.value }

// IsZero reports whether f is the zero FeatureType.
func (f FeatureType) IsZero() bool { return f.name == "" }

func (f FeatureType) String() string { return f.name }

// MarshalJSON fails: feature types are persisted as type tags, never as
// plain JSON values.
func (f FeatureType) MarshalJSON() ([]byte, error) {
	return nil, fmt.Errorf("feature type %s cannot be encoded as a JSON value", f.name)
}

// Built-in value types.
var (
	ValueBool        = NewValueType(reflect.TypeOf(false))
	ValueInt64       = NewValueType(reflect.TypeOf(int64(0)))
	ValueFloat64     = NewValueType(reflect.TypeOf(float64(0)))
	ValueString      = NewValueType(reflect.TypeOf(""))
	ValueStringSlice = NewValueType(reflect.TypeOf([]string(nil)))
	ValueVector      = NewValueType(reflect.TypeOf([]float64(nil)))
	ValueStringMap   = NewValueType(reflect.TypeOf(map[string]string(nil)))
)

// Built-in feature types.
var (
	Binary    = NewFeatureType("Binary", ValueBool)
	Integral  = NewFeatureType("Integral", ValueInt64)
	Date      = NewFeatureType("Date", ValueInt64)
	Real      = NewFeatureType("Real", ValueFloat64)
	RealNN    = NewFeatureType("RealNN", ValueFloat64)
	Currency  = NewFeatureType("Currency", ValueFloat64)
	Text      = NewFeatureType("Text", ValueString)
	PickList  = NewFeatureType("PickList", ValueString)
	TextList  = NewFeatureType("TextList", ValueStringSlice)
	TextMap   = NewFeatureType("TextMap", ValueStringMap)
	OPVector  = NewFeatureType("OPVector", ValueVector)
	MultiPick = NewFeatureType("MultiPickList", ValueStringSlice)
)

// TypeResolver resolves type names into type handles. Feature types and
// value types live in separate name spaces.
type TypeResolver struct {
	mu       deadlock.RWMutex
	features map[string]FeatureType
	values   map[string]ValueType
	byGoType map[reflect.Type]ValueType
}

// NewTypeResolver returns an empty resolver.
func NewTypeResolver() *TypeResolver {
	return &TypeResolver{
		features: make(map[string]FeatureType),
		values:   make(map[string]ValueType),
		byGoType: make(map[reflect.Type]ValueType),
	}
}

// DefaultTypes returns a resolver holding the built-in feature and value types.
func DefaultTypes() *TypeResolver {
	r := NewTypeResolver()
	for _, v := range []ValueType{ValueBool, ValueInt64, ValueFloat64, ValueString, ValueStringSlice, ValueVector, ValueStringMap} {
		r.MustRegisterValueType(v)
	}
	for _, f := range []FeatureType{Binary, Integral, Date, Real, RealNN, Currency, Text, PickList, TextList, TextMap, OPVector, MultiPick} {
		r.MustRegisterFeatureType(f)
	}
	return r
}

// RegisterFeatureType adds a feature type. Names must be unique among feature types.
func (r *TypeResolver) RegisterFeatureType(f FeatureType) error {
	if f.IsZero() {
		return fmt.Errorf("feature type name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.features[f.name]; exists {
		return fmt.Errorf("feature type '%s' is already registered", f.name)
	}
	r.features[f.name] = f
	return nil
}

// MustRegisterFeatureType is like RegisterFeatureType but panics on error.
func (r *TypeResolver) MustRegisterFeatureType(f FeatureType) {
	if err := r.RegisterFeatureType(f); err != nil {
		panic(err)
	}
}

// RegisterValueType adds a value type. Names must be unique among value types.
func (r *TypeResolver) RegisterValueType(v ValueType) error {
	if v.name == "" || v.typ == nil {
		return fmt.Errorf("value type must have a name and a Go type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[v.name]; exists {
		return fmt.Errorf("value type '%s' is already registered", v.name)
	}
	r.values[v.name] = v
	r.byGoType[v.typ] = v
	return nil
}

// MustRegisterValueType is like RegisterValueType but panics on error.
func (r *TypeResolver) MustRegisterValueType(v ValueType) {
	if err := r.RegisterValueType(v); err != nil {
		panic(err)
	}
}

// FeatureType looks up a feature type by name.
func (r *TypeResolver) FeatureType(name string) (FeatureType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.features[name]
	return f, ok
}

// ValueType looks up a value type by name.
func (r *TypeResolver) ValueType(name string) (ValueType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// ValueTypeOf looks up the value type registered for a Go type.
func (r *TypeResolver) ValueTypeOf(t reflect.Type) (ValueType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byGoType[t]
	return v, ok
}

// Resolve resolves name as a feature type first and as a value type second.
func (r *TypeResolver) Resolve(name string) (TypeHandle, bool) {
	if f, ok := r.FeatureType(name); ok {
		return f, true
	}
	if v, ok := r.ValueType(name); ok {
		return v, true
	}
	return nil, false
}
