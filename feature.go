package featurestage

import (
	"fmt"
)

// Feature is a typed node in the pipeline's data-flow graph.
type Feature struct {
	// UID is the unique identifier of the feature
	UID string
	// Name is the human-readable feature name
	Name string
	// Type is the feature type
	Type FeatureType
	// IsResponse marks label features
	IsResponse bool
	// OriginStage is the uid of the stage that produces the feature, empty for raw features
	OriginStage string
	// Parents holds the uids of the features the origin stage consumes
	Parents []string

	transient bool
}

// NewRawFeature creates a root input feature with a fresh uid.
func NewRawFeature(name string, typ FeatureType, isResponse bool) *Feature {
	return &Feature{
		UID:        NewUID(typ.TypeName()),
		Name:       name,
		Type:       typ,
		IsResponse: isResponse,
	}
}

// NewDerivedFeature creates the output feature of stage over its inputs.
func NewDerivedFeature(name string, typ FeatureType, stage Stage) *Feature {
	inputs := stage.Inputs()
	parents := make([]string, len(inputs))
	isResponse := len(inputs) > 0
	for i, in := range inputs {
		parents[i] = in.UID
		isResponse = isResponse && in.IsResponse
	}
	return &Feature{
		UID:         NewUID(typ.TypeName()),
		Name:        name,
		Type:        typ,
		IsResponse:  isResponse,
		OriginStage: stage.UID(),
		Parents:     parents,
	}
}

// NewTransientFeature creates an unresolved placeholder for the feature uid.
func NewTransientFeature(uid, name string, typ FeatureType) *Feature {
	return &Feature{UID: uid, Name: name, Type: typ, transient: true}
}

// IsTransient reports whether f is a placeholder that still needs to be
// resolved against a FeatureGraph.
func (f *Feature) IsTransient() bool { return f.transient }

// IsRaw reports whether f is a root input.
func (f *Feature) IsRaw() bool { return f.OriginStage == "" }

func (f *Feature) String() string {
	return fmt.Sprintf("%s(%s:%s)", f.Name, f.UID, f.Type.TypeName())
}

// FeatureGraph holds the live features of a pipeline indexed by uid.
// It is immutable once built, so concurrent lookups need no locking.
type FeatureGraph struct {
	byUID map[string]*Feature
	order []*Feature
}

// NewFeatureGraph builds a graph from fully materialized features.
func NewFeatureGraph(features ...*Feature) (*FeatureGraph, error) {
	g := &FeatureGraph{
		byUID: make(map[string]*Feature, len(features)),
		order: make([]*Feature, 0, len(features)),
	}
	for _, f := range features {
		if f == nil {
			return nil, fmt.Errorf("feature graph: nil feature")
		}
		if f.transient {
			return nil, fmt.Errorf("feature graph: feature %s is transient", f.UID)
		}
		if _, exists := g.byUID[f.UID]; exists {
			return nil, fmt.Errorf("feature graph: duplicate feature uid %s", f.UID)
		}
		g.byUID[f.UID] = f
		g.order = append(g.order, f)
	}
	return g, nil
}

// Lookup returns the feature with the given uid.
func (g *FeatureGraph) Lookup(uid string) (*Feature, bool) {
	if g == nil {
		return nil, false
	}
	f, ok := g.byUID[uid]
	return f, ok
}

// Features returns the features in insertion order.
func (g *FeatureGraph) Features() []*Feature {
	if g == nil {
		return nil
	}
	out := make([]*Feature, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of features.
func (g *FeatureGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}
