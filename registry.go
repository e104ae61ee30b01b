package featurestage

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/davidroman0O/featurestage/params"
	"github.com/sasha-s/go-deadlock"
)

// ArgSpec declares one constructor argument of a model class.
type ArgSpec struct {
	Name string
	Type reflect.Type
}

// Args maps constructor argument names to decoded values. Arguments whose
// value is provided later by parameter restoration hold Deferred.
type Args map[string]any

// DeferredValue marks a constructor argument that is populated after
// construction by restoring a nested sub-stage.
type DeferredValue struct{}

// Deferred is the DeferredValue sentinel.
var Deferred = DeferredValue{}

// IsDeferred reports whether v is the Deferred sentinel.
func IsDeferred(v any) bool {
	_, ok := v.(DeferredValue)
	return ok
}

// ModelClass describes how to build, inspect and complete a model type.
type ModelClass struct {
	// Name is the stable identifier written as className
	Name string
	// Type is the concrete Go type of the models this class builds
	Type reflect.Type
	// Args lists the constructor arguments in declaration order
	Args []ArgSpec
	// New builds a model from decoded arguments
	New func(uid string, args Args) (Model, error)
	// Get returns the current constructor argument values of a model
	Get func(m Model) (Args, error)
	// Set overwrites one constructor argument after construction
	Set func(m Model, name string, value any) error
}

// Arg returns the spec of the named argument.
func (c *ModelClass) Arg(name string) (ArgSpec, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgSpec{}, false
}

func (c *ModelClass) validate() error {
	if c.Name == "" {
		return fmt.Errorf("model class name cannot be empty")
	}
	if c.Type == nil {
		return fmt.Errorf("model class '%s' has no Go type", c.Name)
	}
	if c.New == nil || c.Get == nil {
		return fmt.Errorf("model class '%s' must define New and Get", c.Name)
	}
	seen := make(map[string]bool, len(c.Args))
	for _, a := range c.Args {
		if a.Name == "" || a.Type == nil {
			return fmt.Errorf("model class '%s' has an argument without name or type", c.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("model class '%s' declares argument '%s' twice", c.Name, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Registry maps class names to model classes.
type Registry struct {
	mu     deadlock.RWMutex
	byName map[string]*ModelClass
	byType map[reflect.Type]*ModelClass
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*ModelClass),
		byType: make(map[reflect.Type]*ModelClass),
	}
}

// Register adds a model class. Class names and Go types must be unique.
func (r *Registry) Register(c *ModelClass) error {
	if c == nil {
		return fmt.Errorf("model class cannot be nil")
	}
	if err := c.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("model class '%s' is already registered", c.Name)
	}
	if other, exists := r.byType[c.Type]; exists {
		return fmt.Errorf("type %v is already registered as '%s'", c.Type, other.Name)
	}
	r.byName[c.Name] = c
	r.byType[c.Type] = c
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(c *ModelClass) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) (*ModelClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ClassOf returns the class registered for the concrete type of m.
func (r *Registry) ClassOf(m Model) (*ModelClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[reflect.TypeOf(m)]
	return c, ok
}

// Names returns the registered class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by readers and
// writers created without WithRegistry.
func DefaultRegistry() *Registry { return defaultRegistry }

// RegisterModel registers a model class in the default registry.
// This function should be called at application startup for every model
// that may be loaded. It panics if the class is invalid or already registered.
func RegisterModel(c *ModelClass) {
	defaultRegistry.MustRegister(c)
}

// ModelClassOf derives a class for *T from the fields of T tagged
// `ctor:"name"`. Tagged fields become constructor arguments in field order.
// If *T has an Init() error method it is called after the fields are set.
// An empty name defaults to the package-qualified type name.
func ModelClassOf[T any, PT interface {
	*T
	Model
}](name string) (*ModelClass, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model type %v is not a struct", t)
	}
	if name == "" {
		name = typeName(PT(nil))
	}

	var args []ArgSpec
	index := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("ctor")
		if !ok {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("model type %v: constructor field '%s' is unexported", t, field.Name)
		}
		if tag == "" {
			tag = field.Name
		}
		if _, dup := index[tag]; dup {
			return nil, fmt.Errorf("model type %v: constructor argument '%s' declared twice", t, tag)
		}
		index[tag] = i
		args = append(args, ArgSpec{Name: tag, Type: field.Type})
	}

	set := func(v reflect.Value, argName string, value any) error {
		f := v.Field(index[argName])
		rv := reflect.ValueOf(value)
		if !rv.IsValid() {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		if !rv.Type().AssignableTo(f.Type()) {
			return fmt.Errorf("argument '%s': %v is not assignable to %v", argName, rv.Type(), f.Type())
		}
		f.Set(rv)
		return nil
	}

	elem := func(m Model) (reflect.Value, error) {
		p, ok := m.(PT)
		if !ok {
			return reflect.Value{}, fmt.Errorf("model %T is not a %v", m, t)
		}
		return reflect.ValueOf(p).Elem(), nil
	}

	return &ModelClass{
		Name: name,
		Type: reflect.TypeOf(PT(nil)),
		Args: args,
		New: func(uid string, in Args) (Model, error) {
			p := PT(new(T))
			b := p.base()
			b.uid = uid
			b.params = params.New()

			v := reflect.ValueOf(p).Elem()
			for _, a := range args {
				value := in[a.Name]
				if IsDeferred(value) {
					continue
				}
				if err := set(v, a.Name, value); err != nil {
					return nil, err
				}
			}
			if hook, ok := any(p).(interface{ Init() error }); ok {
				if err := hook.Init(); err != nil {
					return nil, err
				}
			}
			return p, nil
		},
		Get: func(m Model) (Args, error) {
			v, err := elem(m)
			if err != nil {
				return nil, err
			}
			out := make(Args, len(args))
			for _, a := range args {
				out[a.Name] = v.Field(index[a.Name]).Interface()
			}
			return out, nil
		},
		Set: func(m Model, argName string, value any) error {
			v, err := elem(m)
			if err != nil {
				return err
			}
			if _, ok := index[argName]; !ok {
				return fmt.Errorf("model type %v has no constructor argument '%s'", t, argName)
			}
			return set(v, argName, value)
		},
	}, nil
}

// MustModelClassOf is like ModelClassOf but panics on error.
func MustModelClassOf[T any, PT interface {
	*T
	Model
}](name string) *ModelClass {
	c, err := ModelClassOf[T, PT](name)
	if err != nil {
		panic(err)
	}
	return c
}
