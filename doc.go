// Package featurestage persists and restores the stages of a feature-engineering pipeline.
//
// A pipeline is a graph of typed features produced and consumed by stages.
// Transformers are stateless and are already live when a pipeline is loaded;
// models hold fitted state and must be rebuilt from a registered class and a
// full set of constructor arguments.
//
// Core components include:
//   - Writer: turns a live stage into a self-describing Document
//   - Reader: rebuilds a stage from a Document and binds its inputs into a FeatureGraph
//   - Codec: encodes constructor arguments as type tags, deferred sub-stages or JSON values
//   - Registry: maps class names to model constructors (see RegisterModel and ModelClassOf)
//   - TypeResolver: resolves feature type and value type names
//
// Documents render to JSON of the form
//
//	{"isModel": true, "className": "...", "uid": "...",
//	 "constructorArgs": {"<arg>": {"type": "TypeTag"|"SparkWrappedStage"|"Value", "value": ...}},
//	 "params": {...}}
//
// Every failure is a *StageError matching one of the Err* kinds with errors.Is.
package featurestage
