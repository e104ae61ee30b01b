package featurestage

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/davidroman0O/featurestage/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	label, age, graph := testGraph(t)

	original := newLogisticModel("logreg_000000000001", label, age)
	require.NoError(t, original.Params().Set("threshold", 0.5))

	data, err := NewWriter(WithRegistry(reg)).WriteBytes(original)
	require.NoError(t, err)

	loaded, err := NewReader(WithRegistry(reg)).LoadBytes(nil, data, graph)
	require.NoError(t, err)

	model, ok := loaded.(*LogisticModel)
	require.True(t, ok, "expected *LogisticModel, got %T", loaded)
	assert.NotSame(t, original, model)
	assert.True(t, model.initialized, "Init should run during construction")

	assert.Equal(t, original.UID(), model.UID())
	assert.Equal(t, original.Coefficients, model.Coefficients)
	assert.Equal(t, original.Intercept, model.Intercept)
	assert.Equal(t, original.Penalty, model.Penalty)
	assert.Equal(t, original.MaxIter, model.MaxIter)
	assert.Equal(t, RealNN, model.LabelType)
	assert.Equal(t, ValueFloat64, model.OutputType)

	threshold, err := params.Get[float64](model.Params(), "threshold")
	require.NoError(t, err)
	assert.Equal(t, 0.5, threshold)

	inputs := model.Inputs()
	require.Len(t, inputs, 2)
	assert.Same(t, label, inputs[0])
	assert.Same(t, age, inputs[1])
	for _, in := range inputs {
		assert.False(t, in.IsTransient())
	}
}

func TestValueDecodedAgainstDeclaredType(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, graph := testGraph(t)

	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_a"))
	require.NoError(t, err)

	// the same JSON number decodes as int for maxIter and float64 for penalty
	doc.ConstructorArgs["maxIter"] = Value{Raw: json.RawMessage(`3`)}
	doc.ConstructorArgs["penalty"] = Value{Raw: json.RawMessage(`3`)}

	loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, graph)
	require.NoError(t, err)
	model := loaded.(*LogisticModel)
	assert.Equal(t, 3, model.MaxIter)
	assert.Equal(t, 3.0, model.Penalty)

	doc.ConstructorArgs["maxIter"] = Value{Raw: json.RawMessage(`3.5`)}
	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, graph)
	require.ErrorIs(t, err, ErrArgumentDecode)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "maxIter", se.Name)
	assert.Equal(t, "3.5", se.Value)
	assert.Equal(t, logisticClass, se.ClassName)
	assert.Equal(t, "logreg_a", se.StageUID)
}

func TestMissingConstructorArgument(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, graph := testGraph(t)

	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_b"))
	require.NoError(t, err)
	delete(doc.ConstructorArgs, "penalty")

	loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, graph)
	assert.Nil(t, loaded)
	require.ErrorIs(t, err, ErrMissingConstructorArgument)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "penalty", se.Name)
	assert.Equal(t, logisticClass, se.ClassName)
	assert.Contains(t, err.Error(), "penalty")
}

func TestDanglingFeatureReference(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, graph := testGraph(t)

	missing := &Feature{UID: "f-42", Name: "income", Type: Real}
	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_c", missing))
	require.NoError(t, err)

	loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, graph)
	assert.Nil(t, loaded)
	require.ErrorIs(t, err, ErrDanglingFeatureReference)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "f-42", se.Name)
	assert.Equal(t, "logreg_c", se.StageUID)
}

func TestFeatureTypeMismatchIsDangling(t *testing.T) {
	reg := newTestRegistry(t)
	label, _, graph := testGraph(t)

	wrong := &Feature{UID: label.UID, Name: label.Name, Type: Text}
	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_d", wrong))
	require.NoError(t, err)

	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, graph)
	assert.ErrorIs(t, err, ErrDanglingFeatureReference)
}

func TestTransformerBypass(t *testing.T) {
	reg := newTestRegistry(t)
	_, age, graph := testGraph(t)

	prototype := newScaler("scaler_1")
	prototype.SetInputs(NewTransientFeature(age.UID, age.Name, age.Type))

	doc := &Document{
		IsModel:   false,
		ClassName: "com.example.Scaler",
		ConstructorArgs: map[string]AnyValue{
			"junk": TypeTag{Name: "NoSuchType"},
		},
		Params: map[string]json.RawMessage{
			"scale": json.RawMessage(`2.5`),
		},
	}

	loaded, err := NewReader(WithRegistry(reg)).Load(prototype, doc, graph)
	require.NoError(t, err)
	assert.Same(t, prototype, loaded)

	scale, err := params.Get[float64](loaded.Params(), "scale")
	require.NoError(t, err)
	assert.Equal(t, 2.5, scale)

	// the prototype's transient input is replaced by the live feature
	require.Len(t, loaded.Inputs(), 1)
	assert.Same(t, age, loaded.Inputs()[0])
}

func TestTransformerIgnoresMalformedConstructorArgs(t *testing.T) {
	_, _, graph := testGraph(t)
	prototype := newScaler("scaler_2")

	data := []byte(`{"isModel":false,"className":"com.example.Scaler","constructorArgs":42,"params":{"scale":1}}`)
	loaded, err := NewReader(WithRegistry(NewRegistry())).LoadBytes(prototype, data, graph)
	require.NoError(t, err)
	assert.Same(t, prototype, loaded)
}

func TestTransformerWithoutPrototype(t *testing.T) {
	doc := &Document{ClassName: "com.example.Scaler"}
	_, err := NewReader().Load(nil, doc, nil)
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestTransformerLoadIsAllOrNothing(t *testing.T) {
	_, _, graph := testGraph(t)
	prototype := newScaler("scaler_3")
	require.NoError(t, prototype.Params().Set("scale", 1.0))

	records, err := json.Marshal([]featureRecord{{UID: "f-42", Name: "income", TypeName: "Real"}})
	require.NoError(t, err)

	doc := &Document{
		ClassName: "com.example.Scaler",
		Params: map[string]json.RawMessage{
			"scale":            json.RawMessage(`9`),
			ParamInputFeatures: records,
		},
	}

	_, err = NewReader().Load(prototype, doc, graph)
	require.ErrorIs(t, err, ErrDanglingFeatureReference)

	scale, err := params.Get[float64](prototype.Params(), "scale")
	require.NoError(t, err)
	assert.Equal(t, 1.0, scale, "failed load must not touch the prototype")
	assert.Empty(t, prototype.Inputs())
}

func TestUnknownClassFailsBeforeDecoding(t *testing.T) {
	data := []byte(`{
		"isModel": true,
		"className": "com.example.NoSuchModel",
		"constructorArgs": {
			"penalty": {"type": "Value", "value": "not a number"},
			"labelType": {"type": "TypeTag", "value": "NoSuchType"}
		},
		"params": {}
	}`)

	loaded, err := NewReader(WithRegistry(newTestRegistry(t))).LoadBytes(nil, data, nil)
	assert.Nil(t, loaded)
	require.ErrorIs(t, err, ErrClassNotFound)
	assert.NotErrorIs(t, err, ErrArgumentDecode)
	assert.NotErrorIs(t, err, ErrUnknownTypeDescriptor)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "com.example.NoSuchModel", se.Name)
}

func TestUnknownTypeDescriptor(t *testing.T) {
	reg := newTestRegistry(t)
	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_e"))
	require.NoError(t, err)
	doc.ConstructorArgs["labelType"] = TypeTag{Name: "Nope"}

	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, nil)
	require.ErrorIs(t, err, ErrUnknownTypeDescriptor)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "labelType", se.Name)
	assert.Equal(t, "Nope", se.Value)
	assert.Equal(t, "logreg_e", se.StageUID)
}

func TestModelInstantiationError(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name   string
		factor string
	}{
		{name: "constructor returns error", factor: "-1"},
		{name: "constructor panics", factor: "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := &Document{
				IsModel:   true,
				ClassName: brokenClass,
				UID:       "broken_1",
				ConstructorArgs: map[string]AnyValue{
					"factor": Value{Raw: json.RawMessage(tc.factor)},
				},
			}
			loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, nil)
			assert.Nil(t, loaded)
			require.ErrorIs(t, err, ErrModelInstantiation)

			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, brokenClass, se.ClassName)
			assert.Equal(t, "broken_1", se.StageUID)
		})
	}
}

func TestModelWithoutUIDGetsFreshUID(t *testing.T) {
	reg := newTestRegistry(t)
	doc := &Document{
		IsModel:   true,
		ClassName: brokenClass,
		ConstructorArgs: map[string]AnyValue{
			"factor": Value{Raw: json.RawMessage(`2`)},
		},
	}
	loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^BrokenModel_[0-9a-f]{12}$`, loaded.UID())
}

func TestNestedSubStageRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	label, age, graph := testGraph(t)

	best := newLogisticModel("logreg_best", label, age)
	selected := &SelectedModel{
		ModelBase: NewModelBase("selector_1"),
		Best:      best,
		Metric:    "auROC",
	}
	selected.SetInputs(label, age)

	doc, err := NewWriter(WithRegistry(reg)).Write(selected)
	require.NoError(t, err)
	assert.Equal(t, DeferredSubStage{}, doc.ConstructorArgs["best"])
	require.Contains(t, doc.Params, "best")

	data, err := RenderDocument(doc)
	require.NoError(t, err)

	loaded, err := NewReader(WithRegistry(reg)).LoadBytes(nil, data, graph)
	require.NoError(t, err)

	got := loaded.(*SelectedModel)
	assert.Equal(t, "auROC", got.Metric)
	inner, ok := got.Best.(*LogisticModel)
	require.True(t, ok, "expected nested *LogisticModel, got %T", got.Best)
	assert.Equal(t, best.UID(), inner.UID())
	assert.Equal(t, best.Coefficients, inner.Coefficients)
	assert.Same(t, label, inner.Inputs()[0])
	assert.Same(t, label, got.Inputs()[0])
	assert.False(t, got.Params().Has("best"))
}

func TestNestedSubStageMissingDocument(t *testing.T) {
	reg := newTestRegistry(t)
	selected := &SelectedModel{
		ModelBase: NewModelBase("selector_2"),
		Best:      newLogisticModel("logreg_f"),
		Metric:    "auPR",
	}
	doc, err := NewWriter(WithRegistry(reg)).Write(selected)
	require.NoError(t, err)
	delete(doc.Params, "best")

	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, nil)
	require.ErrorIs(t, err, ErrMissingConstructorArgument)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "best", se.Name)
}

func TestNestedSubStageErrorsPropagate(t *testing.T) {
	reg := newTestRegistry(t)
	selected := &SelectedModel{
		ModelBase: NewModelBase("selector_3"),
		Best:      newLogisticModel("logreg_g"),
		Metric:    "auPR",
	}
	doc, err := NewWriter(WithRegistry(reg)).Write(selected)
	require.NoError(t, err)
	doc.Params["best"] = json.RawMessage(`{"isModel":true,"className":"com.example.Gone","constructorArgs":{}}`)

	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, nil)
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestInvalidParamIsDecodeError(t *testing.T) {
	reg := newTestRegistry(t)
	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_h"))
	require.NoError(t, err)
	doc.Params["threshold"] = json.RawMessage(`"high"`)

	_, err = NewReader(WithRegistry(reg)).Load(nil, doc, nil)
	require.ErrorIs(t, err, ErrArgumentDecode)
	assert.ErrorIs(t, err, params.ErrTypeMismatch)
}

func TestConcurrentLoadsShareGraph(t *testing.T) {
	reg := newTestRegistry(t)
	label, age, graph := testGraph(t)

	data, err := NewWriter(WithRegistry(reg)).WriteBytes(newLogisticModel("logreg_shared", label, age))
	require.NoError(t, err)

	reader := NewReader(WithRegistry(reg))
	const workers = 16
	results := make([]Stage, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = reader.LoadBytes(nil, data, graph)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, age, results[i].Inputs()[1])
	}
	assert.Equal(t, 2, graph.Len())
}

func TestReaderLogsTransitions(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, graph := testGraph(t)
	logger := &TestLogger{t: t}

	doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_i"))
	require.NoError(t, err)

	_, err = NewReader(WithRegistry(reg), WithLogger(logger)).Load(nil, doc, graph)
	require.NoError(t, err)
	assert.Contains(t, logger.messages, "DEBUG")

	delete(doc.ConstructorArgs, "intercept")
	_, err = NewReader(WithRegistry(reg), WithLogger(logger)).Load(nil, doc, graph)
	require.Error(t, err)
	assert.Contains(t, logger.messages, "WARN")
}

func TestNilSubStageRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(MustModelClassOf[EnsembleModel](ensembleClass)))
	label, age, graph := testGraph(t)

	tests := []struct {
		name     string
		fallback *LogisticModel
	}{
		{name: "without fallback", fallback: nil},
		{name: "with fallback", fallback: newLogisticModel("logreg_fb", label, age)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &EnsembleModel{ModelBase: NewModelBase("ensemble_1"), Fallback: tc.fallback, Weight: 0.5}

			data, err := NewWriter(WithRegistry(reg)).WriteBytes(m)
			require.NoError(t, err)

			loaded, err := NewReader(WithRegistry(reg)).LoadBytes(nil, data, graph)
			require.NoError(t, err)

			got := loaded.(*EnsembleModel)
			assert.Equal(t, 0.5, got.Weight)
			if tc.fallback == nil {
				assert.Nil(t, got.Fallback)
				return
			}
			require.NotNil(t, got.Fallback)
			assert.Equal(t, "logreg_fb", got.Fallback.UID())
			assert.Equal(t, tc.fallback.Coefficients, got.Fallback.Coefficients)
		})
	}
}

func TestNullConstructorArgument(t *testing.T) {
	reg := newTestRegistry(t)
	label, age, graph := testGraph(t)

	for _, arg := range []string{"maxIter", "penalty"} {
		t.Run(arg, func(t *testing.T) {
			doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_null", label, age))
			require.NoError(t, err)
			doc.ConstructorArgs[arg] = Value{Raw: json.RawMessage(`null`)}

			loaded, err := NewReader(WithRegistry(reg)).Load(nil, doc, graph)
			assert.Nil(t, loaded)
			require.ErrorIs(t, err, ErrArgumentDecode)

			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, arg, se.Name)
		})
	}
}

func TestInputFeaturesMustBeAnArray(t *testing.T) {
	reg := newTestRegistry(t)
	label, age, graph := testGraph(t)

	for _, raw := range []string{`null`, `{}`, `"f-1"`} {
		t.Run(raw, func(t *testing.T) {
			doc, err := NewWriter(WithRegistry(reg)).Write(newLogisticModel("logreg_in", label, age))
			require.NoError(t, err)
			doc.Params[ParamInputFeatures] = json.RawMessage(raw)

			_, err = NewReader(WithRegistry(reg)).Load(nil, doc, graph)
			assert.ErrorIs(t, err, ErrMalformedDocument)

			prototype := newScaler("scaler_in")
			prototype.SetInputs(age)
			tdoc, err := NewWriter().Write(prototype)
			require.NoError(t, err)
			tdoc.Params[ParamInputFeatures] = json.RawMessage(raw)

			_, err = NewReader().Load(prototype, tdoc, graph)
			assert.ErrorIs(t, err, ErrMalformedDocument)
			assert.Equal(t, []*Feature{age}, prototype.Inputs())
		})
	}
}
