package featurestage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// ValueKind is the wire tag of an AnyValue.
type ValueKind string

const (
	// KindTypeTag tags a type descriptor.
	KindTypeTag ValueKind = "TypeTag"
	// KindDeferredSubStage tags a wrapped sub-stage whose document lives
	// under the params entry of the same name. The wire name is historical.
	KindDeferredSubStage ValueKind = "SparkWrappedStage"
	// KindValue tags a JSON value.
	KindValue ValueKind = "Value"
)

// AnyValue is the encoded form of a constructor argument. It is exactly one
// of TypeTag, DeferredSubStage or Value.
type AnyValue interface {
	Kind() ValueKind
	anyValue()
}

// TypeTag names a feature type or a value type.
type TypeTag struct {
	Name string
}

// DeferredSubStage marks an argument restored later from a nested document.
type DeferredSubStage struct{}

// Value holds a JSON value decoded against the argument's declared type.
type Value struct {
	Raw json.RawMessage
}

func (TypeTag) Kind() ValueKind          { return KindTypeTag }
func (DeferredSubStage) Kind() ValueKind { return KindDeferredSubStage }
func (Value) Kind() ValueKind            { return KindValue }

func (TypeTag) anyValue()          {}
func (DeferredSubStage) anyValue() {}
func (Value) anyValue()            {}

var (
	reflectTypeType = reflect.TypeOf((*reflect.Type)(nil)).Elem()
)

// Codec converts constructor arguments to and from AnyValue.
type Codec struct {
	types *TypeResolver
}

// NewCodec returns a codec resolving type tags with types.
func NewCodec(types *TypeResolver) *Codec {
	if types == nil {
		types = DefaultTypes()
	}
	return &Codec{types: types}
}

// Encode encodes value, declared as the given type.
func (c *Codec) Encode(value any, arg ArgSpec) (AnyValue, error) {
	if value != nil && arg.Type != nil && !reflect.TypeOf(value).AssignableTo(arg.Type) {
		return nil, &StageError{
			Kind:  ErrArgumentEncode,
			Name:  arg.Name,
			Value: fmt.Sprintf("%v", value),
			Err:   fmt.Errorf("%T is not assignable to declared type %v", value, arg.Type),
		}
	}

	if isNilPointer(value) {
		return Value{Raw: json.RawMessage("null")}, nil
	}

	switch v := value.(type) {
	case TypeHandle:
		return TypeTag{Name: v.TypeName()}, nil
	case reflect.Type:
		vt, ok := c.types.ValueTypeOf(v)
		if !ok {
			return nil, &StageError{Kind: ErrUnknownTypeDescriptor, Name: arg.Name, Value: v.String()}
		}
		return TypeTag{Name: vt.TypeName()}, nil
	case Stage:
		return DeferredSubStage{}, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, &StageError{Kind: ErrArgumentEncode, Name: arg.Name, Err: err}
	}
	return Value{Raw: data}, nil
}

// Decode decodes av for the argument arg. The target type always comes from
// arg, never from the shape of the encoded value. DeferredSubStage decodes
// to the Deferred sentinel.
func (c *Codec) Decode(av AnyValue, arg ArgSpec) (any, error) {
	switch v := av.(type) {
	case TypeTag:
		return c.decodeTypeTag(v, arg)
	case DeferredSubStage:
		return Deferred, nil
	case Value:
		return c.decodeValue(v, arg)
	default:
		return nil, &StageError{Kind: ErrMalformedDocument, Name: arg.Name, Err: fmt.Errorf("unsupported value kind %T", av)}
	}
}

func (c *Codec) decodeTypeTag(tag TypeTag, arg ArgSpec) (any, error) {
	h, ok := c.types.Resolve(tag.Name)
	if !ok {
		return nil, &StageError{Kind: ErrUnknownTypeDescriptor, Name: arg.Name, Value: tag.Name}
	}

	ht := reflect.TypeOf(h)
	switch {
	case arg.Type == nil || ht.AssignableTo(arg.Type):
		return h, nil
	case arg.Type == reflectTypeType:
		if vt, ok := h.(ValueType); ok {
			return vt.Type(), nil
		}
	}
	return nil, &StageError{
		Kind:  ErrArgumentDecode,
		Name:  arg.Name,
		Value: tag.Name,
		Err:   fmt.Errorf("%v is not assignable to declared type %v", ht, arg.Type),
	}
}

func (c *Codec) decodeValue(v Value, arg ArgSpec) (any, error) {
	if arg.Type == nil {
		return nil, &StageError{Kind: ErrArgumentDecode, Name: arg.Name, Value: string(v.Raw), Err: fmt.Errorf("no declared type")}
	}
	if len(v.Raw) == 0 {
		return nil, &StageError{Kind: ErrArgumentDecode, Name: arg.Name, Err: fmt.Errorf("empty value")}
	}

	if isNull(v.Raw) && !nullable(arg.Type) {
		return nil, &StageError{Kind: ErrArgumentDecode, Name: arg.Name, Value: string(v.Raw), Err: fmt.Errorf("null is not a valid %v", arg.Type)}
	}

	ptr := reflect.New(arg.Type)
	if err := decodeStrict(v.Raw, ptr.Interface()); err != nil {
		return nil, &StageError{Kind: ErrArgumentDecode, Name: arg.Name, Value: string(v.Raw), Err: err}
	}
	return ptr.Elem().Interface(), nil
}

// decodeStrict decodes exactly one JSON value into out, rejecting unknown
// struct fields and trailing data.
func decodeStrict(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

// nullable reports whether JSON null is a meaningful value of t.
func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// isNilPointer reports whether v is a typed nil pointer.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// wireValue is the JSON shape of an AnyValue.
type wireValue struct {
	Type  ValueKind       `json:"type" jsonschema:"enum=TypeTag,enum=SparkWrappedStage,enum=Value"`
	Value json.RawMessage `json:"value"`
}

func toWire(av AnyValue) (wireValue, error) {
	switch v := av.(type) {
	case TypeTag:
		data, err := json.Marshal(v.Name)
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{Type: KindTypeTag, Value: data}, nil
	case DeferredSubStage:
		return wireValue{Type: KindDeferredSubStage, Value: json.RawMessage("null")}, nil
	case Value:
		if len(v.Raw) == 0 {
			return wireValue{}, fmt.Errorf("empty value")
		}
		return wireValue{Type: KindValue, Value: v.Raw}, nil
	default:
		return wireValue{}, fmt.Errorf("unsupported value kind %T", av)
	}
}

func fromWire(w wireValue) (AnyValue, error) {
	switch w.Type {
	case KindTypeTag:
		var name string
		if err := json.Unmarshal(w.Value, &name); err != nil {
			return nil, fmt.Errorf("type tag value must be a string: %w", err)
		}
		return TypeTag{Name: name}, nil
	case KindDeferredSubStage:
		return DeferredSubStage{}, nil
	case KindValue:
		if len(w.Value) == 0 {
			return nil, fmt.Errorf("value entry has no value")
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, w.Value); err != nil {
			return nil, err
		}
		return Value{Raw: buf.Bytes()}, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", w.Type)
	}
}
