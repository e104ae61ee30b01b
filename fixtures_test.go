package featurestage

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

// LogisticModel is a fitted binary classifier used across the tests.
type LogisticModel struct {
	ModelBase
	Coefficients []float64   `ctor:"coefficients"`
	Intercept    float64     `ctor:"intercept"`
	Penalty      float64     `ctor:"penalty"`
	MaxIter      int         `ctor:"maxIter"`
	LabelType    FeatureType `ctor:"labelType"`
	OutputType   TypeHandle  `ctor:"outputType"`

	initialized bool
}

func (m *LogisticModel) Init() error {
	if m.MaxIter < 0 {
		return errors.New("maxIter must be positive")
	}
	m.Params().Declare("threshold", reflect.TypeOf(float64(0)))
	m.initialized = true
	return nil
}

// SelectedModel wraps the best model found by a model selector.
type SelectedModel struct {
	ModelBase
	Best   Stage  `ctor:"best"`
	Metric string `ctor:"metric"`
}

// EnsembleModel blends its own score with an optional fallback model.
type EnsembleModel struct {
	ModelBase
	Fallback *LogisticModel `ctor:"fallback"`
	Weight   float64        `ctor:"weight"`
}

// TypedModel keeps the feature types it was fitted on.
type TypedModel struct {
	ModelBase
	Types []FeatureType `ctor:"types"`
}

// BrokenModel rejects its own arguments.
type BrokenModel struct {
	ModelBase
	Factor float64 `ctor:"factor"`
}

func (m *BrokenModel) Init() error {
	if m.Factor == 0 {
		panic("factor cannot be zero")
	}
	if m.Factor < 0 {
		return errors.New("factor must be positive")
	}
	return nil
}

// Scaler is a stateless transformer.
type Scaler struct {
	StageBase
}

func newScaler(uid string) *Scaler {
	s := &Scaler{StageBase: NewStageBase(uid)}
	s.Params().Declare("scale", reflect.TypeOf(float64(0)))
	return s
}

const (
	logisticClass = "com.example.LogisticModel"
	selectedClass = "com.example.SelectedModel"
	brokenClass   = "com.example.BrokenModel"
	ensembleClass = "com.example.EnsembleModel"
	typedClass    = "com.example.TypedModel"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(MustModelClassOf[LogisticModel](logisticClass)))
	require.NoError(t, reg.Register(MustModelClassOf[SelectedModel](selectedClass)))
	require.NoError(t, reg.Register(MustModelClassOf[BrokenModel](brokenClass)))
	return reg
}

func newLogisticModel(uid string, inputs ...*Feature) *LogisticModel {
	m := &LogisticModel{
		ModelBase:    NewModelBase(uid),
		Coefficients: []float64{0.5, -1.25},
		Intercept:    0.1,
		Penalty:      0.01,
		MaxIter:      100,
		LabelType:    RealNN,
		OutputType:   ValueFloat64,
	}
	m.SetInputs(inputs...)
	return m
}

// testGraph returns a label and a predictor feature and the graph holding them.
func testGraph(t *testing.T) (*Feature, *Feature, *FeatureGraph) {
	t.Helper()
	label := NewRawFeature("label", RealNN, true)
	age := NewRawFeature("age", Real, false)
	graph, err := NewFeatureGraph(label, age)
	require.NoError(t, err)
	return label, age, graph
}

// TestLogger records messages for assertions
type TestLogger struct {
	t        *testing.T
	messages []string
}

func (l *TestLogger) Debug(format string, args ...interface{}) { l.record("DEBUG", format, args...) }
func (l *TestLogger) Info(format string, args ...interface{})  { l.record("INFO", format, args...) }
func (l *TestLogger) Warn(format string, args ...interface{})  { l.record("WARN", format, args...) }
func (l *TestLogger) Error(format string, args ...interface{}) { l.record("ERROR", format, args...) }

func (l *TestLogger) record(level, format string, args ...interface{}) {
	l.t.Logf("["+level+"] "+format, args...)
	l.messages = append(l.messages, level)
}
