package featurestage

import (
	"encoding/json"
	"fmt"
)

// Writer turns live stages into Documents. It holds no per-call state.
type Writer struct {
	registry *Registry
	codec    *Codec
	logger   Logger
	metrics  *Metrics
}

// NewWriter creates a writer with the given options.
func NewWriter(opts ...Option) *Writer {
	cfg := newConfig(opts)
	return &Writer{
		registry: cfg.registry,
		codec:    NewCodec(cfg.types),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}
}

// Write produces the Document of stage. The stage is not modified.
func (w *Writer) Write(stage Stage) (*Document, error) {
	if stage == nil || isNilPointer(stage) {
		return nil, fmt.Errorf("stage cannot be nil")
	}
	doc, err := w.write(stage)
	w.metrics.observeWrite(IsModel(stage), err)
	if err != nil {
		w.logger.Warn("Failed to write stage %s: %v", stage.UID(), err)
		return nil, err
	}
	w.logger.Debug("Wrote stage %s as %s (model=%t)", doc.UID, doc.ClassName, doc.IsModel)
	return doc, nil
}

// WriteBytes writes stage and renders the resulting Document.
func (w *Writer) WriteBytes(stage Stage) ([]byte, error) {
	doc, err := w.Write(stage)
	if err != nil {
		return nil, err
	}
	return RenderDocument(doc)
}

func (w *Writer) write(stage Stage) (*Document, error) {
	doc := &Document{
		ClassName:       typeName(stage),
		UID:             stage.UID(),
		ConstructorArgs: map[string]AnyValue{},
		Params:          map[string]json.RawMessage{},
	}

	encoded, err := stage.Params().Encode()
	if err != nil {
		return nil, &StageError{Kind: ErrArgumentEncode, StageUID: doc.UID, ClassName: doc.ClassName, Name: "params", Err: err}
	}
	for name, raw := range encoded {
		doc.Params[name] = raw
	}

	inputs, err := encodeInputs(stage.Inputs())
	if err != nil {
		return nil, &StageError{Kind: ErrArgumentEncode, StageUID: doc.UID, ClassName: doc.ClassName, Name: ParamInputFeatures, Err: err}
	}
	doc.Params[ParamInputFeatures] = inputs

	model, ok := stage.(Model)
	if !ok {
		return doc, nil
	}

	class, ok := w.registry.ClassOf(model)
	if !ok {
		return nil, &StageError{Kind: ErrClassNotFound, StageUID: doc.UID, ClassName: doc.ClassName, Name: doc.ClassName}
	}
	doc.IsModel = true
	doc.ClassName = class.Name

	values, err := class.Get(model)
	if err != nil {
		return nil, &StageError{Kind: ErrArgumentEncode, StageUID: doc.UID, ClassName: class.Name, Err: err}
	}

	for _, arg := range class.Args {
		value := values[arg.Name]
		av, err := w.codec.Encode(value, arg)
		if err != nil {
			return nil, annotate(err, doc.UID, class.Name)
		}
		doc.ConstructorArgs[arg.Name] = av

		if _, ok := av.(DeferredSubStage); !ok {
			continue
		}
		nested, err := w.write(value.(Stage))
		if err != nil {
			return nil, annotate(err, doc.UID, class.Name)
		}
		data, err := RenderDocument(nested)
		if err != nil {
			return nil, annotate(err, doc.UID, class.Name)
		}
		doc.Params[arg.Name] = data
	}

	return doc, nil
}

func encodeInputs(inputs []*Feature) (json.RawMessage, error) {
	records := make([]featureRecord, len(inputs))
	for i, f := range inputs {
		if f == nil {
			return nil, fmt.Errorf("input %d is nil", i)
		}
		records[i] = featureRecord{
			UID:         f.UID,
			Name:        f.Name,
			TypeName:    f.Type.TypeName(),
			IsResponse:  f.IsResponse,
			OriginStage: f.OriginStage,
			Parents:     f.Parents,
		}
	}
	return json.Marshal(records)
}

// annotate fills in the stage and class of a *StageError raised below the
// reader or writer.
func annotate(err error, stageUID, className string) error {
	se, ok := err.(*StageError)
	if !ok {
		return err
	}
	if se.StageUID == "" {
		se.StageUID = stageUID
	}
	if se.ClassName == "" {
		se.ClassName = className
	}
	return se
}
