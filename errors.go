package featurestage

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the reader and writer. Every failure is a
// *StageError whose Kind is one of these.
var (
	ErrMalformedDocument          = errors.New("malformed document")
	ErrClassNotFound              = errors.New("class not found")
	ErrMissingConstructorArgument = errors.New("missing constructor argument")
	ErrUnknownTypeDescriptor      = errors.New("unknown type descriptor")
	ErrArgumentDecode             = errors.New("argument decode error")
	ErrArgumentEncode             = errors.New("argument encode error")
	ErrModelInstantiation         = errors.New("model instantiation error")
	ErrDanglingFeatureReference   = errors.New("dangling feature reference")
)

// StageError describes a failure to write or load one stage.
type StageError struct {
	Kind      error
	StageUID  string
	ClassName string
	// Name is the offending argument, parameter, field or feature uid
	Name string
	// Value is the offending raw value, if any
	Value string
	Err   error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " (value %s)", e.Value)
	}
	if e.ClassName != "" {
		fmt.Fprintf(&b, " in class %s", e.ClassName)
	}
	if e.StageUID != "" {
		fmt.Fprintf(&b, " for stage %s", e.StageUID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// errorKind returns the Kind of err, or nil when err is not a *StageError.
func errorKind(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return nil
}
