package featurestage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Reader rebuilds live stages from Documents and binds their inputs into a
// FeatureGraph. It holds no per-call state and may be used concurrently as
// long as the graph is fully built before any load starts.
type Reader struct {
	registry *Registry
	types    *TypeResolver
	codec    *Codec
	logger   Logger
	metrics  *Metrics
}

// NewReader creates a reader with the given options.
func NewReader(opts ...Option) *Reader {
	cfg := newConfig(opts)
	return &Reader{
		registry: cfg.registry,
		types:    cfg.types,
		codec:    NewCodec(cfg.types),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}
}

// LoadBytes parses data and loads the resulting Document.
func (r *Reader) LoadBytes(prototype Stage, data []byte, graph *FeatureGraph) (Stage, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		r.logger.Warn("Failed to parse stage document: %v", err)
		return nil, err
	}
	return r.Load(prototype, doc, graph)
}

// Load reconstructs the stage described by doc.
//
// Transformers (isModel=false) are not rebuilt: prototype itself is returned
// with its params restored and its inputs bound. Models are rebuilt from the
// class registered under doc.ClassName. Loading is all-or-nothing: on error
// no stage is returned and prototype is left untouched.
func (r *Reader) Load(prototype Stage, doc *Document, graph *FeatureGraph) (Stage, error) {
	if doc == nil {
		return nil, malformed("", "", fmt.Errorf("document cannot be nil"))
	}

	start := time.Now()
	stage, err := r.load(prototype, doc, graph)
	r.metrics.observeLoad(doc.IsModel, start, err)
	if err != nil {
		r.logger.Warn("Failed to load stage %s (%s): %v", doc.UID, doc.ClassName, err)
		return nil, err
	}

	r.logger.Debug("Loaded stage %s (%s) with %d inputs", stage.UID(), doc.ClassName, len(stage.Inputs()))
	return stage, nil
}

// pendingArg is a constructor argument restored from a nested document.
type pendingArg struct {
	name  string
	stage Stage
}

func (r *Reader) load(prototype Stage, doc *Document, graph *FeatureGraph) (Stage, error) {
	var (
		stage    Stage
		class    *ModelClass
		deferred map[string]bool
	)

	if doc.IsModel {
		model, c, d, err := r.construct(doc)
		if err != nil {
			return nil, err
		}
		stage, class, deferred = model, c, d
	} else {
		if prototype == nil {
			return nil, malformed("prototype", doc.ClassName, fmt.Errorf("transformer documents need a prototype stage"))
		}
		stage = prototype
	}

	uid := stage.UID()
	r.logger.Debug("Restoring params of stage %s", uid)

	restored := stage.Params().Clone()
	inputs := stage.Inputs()
	var pending []pendingArg

	for _, name := range sortedKeys(doc.Params) {
		raw := doc.Params[name]
		switch {
		case name == ParamInputFeatures:
			transient, err := r.transientInputs(raw)
			if err != nil {
				return nil, annotate(err, uid, doc.ClassName)
			}
			inputs = transient
		case deferred[name]:
			sub, err := r.loadNested(name, raw, graph)
			if err != nil {
				return nil, annotate(err, uid, doc.ClassName)
			}
			pending = append(pending, pendingArg{name: name, stage: sub})
		default:
			if err := restored.Restore(name, raw); err != nil {
				return nil, &StageError{
					Kind:      ErrArgumentDecode,
					StageUID:  uid,
					ClassName: doc.ClassName,
					Name:      "params." + name,
					Value:     string(raw),
					Err:       err,
				}
			}
		}
	}

	for name := range deferred {
		if _, ok := doc.Params[name]; !ok {
			return nil, &StageError{
				Kind:      ErrMissingConstructorArgument,
				StageUID:  uid,
				ClassName: doc.ClassName,
				Name:      name,
				Err:       fmt.Errorf("no nested document under params"),
			}
		}
	}

	r.logger.Debug("Binding %d inputs of stage %s", len(inputs), uid)
	bound, err := bindInputs(inputs, graph)
	if err != nil {
		return nil, annotate(err, uid, doc.ClassName)
	}

	for _, p := range pending {
		if err := class.Set(stage.(Model), p.name, p.stage); err != nil {
			return nil, &StageError{Kind: ErrModelInstantiation, StageUID: uid, ClassName: doc.ClassName, Name: p.name, Err: err}
		}
	}

	b := stage.base()
	b.Params().Replace(restored)
	b.inputs = bound
	return stage, nil
}

// construct resolves the class of doc, decodes its constructor arguments and
// builds the model. It returns the names of the deferred arguments.
func (r *Reader) construct(doc *Document) (Model, *ModelClass, map[string]bool, error) {
	class, ok := r.registry.Lookup(doc.ClassName)
	if !ok {
		return nil, nil, nil, &StageError{Kind: ErrClassNotFound, StageUID: doc.UID, ClassName: doc.ClassName, Name: doc.ClassName}
	}

	uid := doc.UID
	if uid == "" {
		uid = NewUID(shortName(class.Name))
	}
	r.logger.Debug("Resolved class %s for stage %s", class.Name, uid)

	args := make(Args, len(class.Args))
	deferred := make(map[string]bool)
	for _, spec := range class.Args {
		av, ok := doc.ConstructorArgs[spec.Name]
		if !ok {
			return nil, nil, nil, &StageError{Kind: ErrMissingConstructorArgument, StageUID: uid, ClassName: class.Name, Name: spec.Name}
		}
		value, err := r.codec.Decode(av, spec)
		if err != nil {
			return nil, nil, nil, annotate(err, uid, class.Name)
		}
		if IsDeferred(value) {
			if class.Set == nil {
				return nil, nil, nil, &StageError{
					Kind:      ErrArgumentDecode,
					StageUID:  uid,
					ClassName: class.Name,
					Name:      spec.Name,
					Err:       fmt.Errorf("class cannot restore deferred arguments"),
				}
			}
			deferred[spec.Name] = true
		}
		args[spec.Name] = value
	}

	model, err := instantiate(class, uid, args)
	if err != nil {
		return nil, nil, nil, err
	}
	return model, class, deferred, nil
}

// instantiate calls the class constructor, turning errors and panics into
// ModelInstantiationError.
func instantiate(class *ModelClass, uid string, args Args) (model Model, err error) {
	defer func() {
		if p := recover(); p != nil {
			model = nil
			err = &StageError{Kind: ErrModelInstantiation, StageUID: uid, ClassName: class.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	model, err = class.New(uid, args)
	if err != nil {
		return nil, &StageError{Kind: ErrModelInstantiation, StageUID: uid, ClassName: class.Name, Err: err}
	}
	if model == nil {
		return nil, &StageError{Kind: ErrModelInstantiation, StageUID: uid, ClassName: class.Name, Err: fmt.Errorf("constructor returned nil")}
	}
	if b := model.base(); b.uid == "" {
		b.uid = uid
	}
	return model, nil
}

// loadNested loads the sub-stage document stored under params[name].
func (r *Reader) loadNested(name string, raw json.RawMessage, graph *FeatureGraph) (Stage, error) {
	nested, err := ParseDocument(raw)
	if err != nil {
		if se, ok := err.(*StageError); ok && se.Name != "" {
			se.Name = name + "." + se.Name
			return nil, se
		}
		return nil, malformed(name, "", err)
	}
	if !nested.IsModel {
		return nil, malformed(name, "", fmt.Errorf("nested stage %s is not a model", nested.ClassName))
	}
	r.logger.Debug("Loading nested stage %s for argument %s", nested.ClassName, name)
	return r.load(nil, nested, graph)
}

func (r *Reader) transientInputs(raw json.RawMessage) ([]*Feature, error) {
	if isNull(raw) {
		return nil, &StageError{Kind: ErrMalformedDocument, Name: ParamInputFeatures, Value: string(raw), Err: fmt.Errorf("inputs must be an array")}
	}
	var records []featureRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &StageError{Kind: ErrMalformedDocument, Name: ParamInputFeatures, Value: string(raw), Err: err}
	}

	out := make([]*Feature, len(records))
	for i, rec := range records {
		if rec.UID == "" {
			return nil, &StageError{Kind: ErrMalformedDocument, Name: ParamInputFeatures, Err: fmt.Errorf("input %d has no uid", i)}
		}
		typ, ok := r.types.FeatureType(rec.TypeName)
		if !ok {
			return nil, &StageError{Kind: ErrUnknownTypeDescriptor, Name: ParamInputFeatures, Value: rec.TypeName}
		}
		f := NewTransientFeature(rec.UID, rec.Name, typ)
		f.IsResponse = rec.IsResponse
		f.OriginStage = rec.OriginStage
		f.Parents = rec.Parents
		out[i] = f
	}
	return out, nil
}

// bindInputs resolves every input against graph. Inputs that are already
// live are looked up too, so a stage never points outside graph.
func bindInputs(inputs []*Feature, graph *FeatureGraph) ([]*Feature, error) {
	bound := make([]*Feature, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, &StageError{Kind: ErrMalformedDocument, Name: ParamInputFeatures, Err: fmt.Errorf("input %d is nil", i)}
		}
		live, ok := graph.Lookup(in.UID)
		if !ok {
			return nil, &StageError{Kind: ErrDanglingFeatureReference, Name: in.UID}
		}
		if !in.Type.IsZero() && live.Type.TypeName() != in.Type.TypeName() {
			return nil, &StageError{
				Kind: ErrDanglingFeatureReference,
				Name: in.UID,
				Err:  fmt.Errorf("declared as %s but graph holds %s", in.Type.TypeName(), live.Type.TypeName()),
			}
		}
		bound[i] = live
	}
	return bound, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shortName returns the last dot-separated segment of a class name.
func shortName(className string) string {
	if i := strings.LastIndex(className, "."); i >= 0 {
		return className[i+1:]
	}
	return className
}
