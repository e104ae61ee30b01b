package featurestage

import (
	"reflect"
	"strings"

	"github.com/davidroman0O/featurestage/params"
	"github.com/google/uuid"
)

// Stage is a computation unit of a pipeline. Concrete stages embed either
// StageBase (transformers) or ModelBase (fitted models).
type Stage interface {
	// UID returns the unique identifier of the stage
	UID() string

	// Inputs returns the declared input features in order
	Inputs() []*Feature

	// Params returns the stage's generic parameters
	Params() *params.Map

	base() *StageBase
}

// Model is a Stage holding fitted state. Models are rebuilt from their
// registered class and constructor arguments.
type Model interface {
	Stage
	fitted()
}

// StageBase carries the state common to every stage.
type StageBase struct {
	uid    string
	inputs []*Feature
	params *params.Map
}

// NewStageBase creates a base with the given uid. An empty uid gets a fresh one.
func NewStageBase(uid string) StageBase {
	if uid == "" {
		uid = NewUID("stage")
	}
	return StageBase{uid: uid, params: params.New()}
}

// UID implements Stage.
func (s *StageBase) UID() string { return s.uid }

// Inputs implements Stage.
func (s *StageBase) Inputs() []*Feature {
	out := make([]*Feature, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// Params implements Stage.
func (s *StageBase) Params() *params.Map {
	if s.params == nil {
		s.params = params.New()
	}
	return s.params
}

// SetInputs declares the stage's input features.
func (s *StageBase) SetInputs(features ...*Feature) {
	s.inputs = append([]*Feature(nil), features...)
}

func (s *StageBase) base() *StageBase { return s }

// ModelBase is embedded by fitted model stages.
type ModelBase struct {
	StageBase
}

// NewModelBase creates a model base with the given uid.
func NewModelBase(uid string) ModelBase {
	return ModelBase{StageBase: NewStageBase(uid)}
}

func (m *ModelBase) fitted() {}

// IsModel reports whether stage is a Model.
func IsModel(stage Stage) bool {
	_, ok := stage.(Model)
	return ok
}

// NewUID returns a uid of the form <prefix>_<12 hex chars>.
func NewUID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + id[:12]
}

// typeName returns the package-qualified name of the stage's concrete type.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
