// Package params provides the generic parameter mechanism carried by every stage.
//
// A Map holds named parameter values together with their concrete Go types.
// Parameters can be declared ahead of time with a type so that values restored
// from a persisted document decode to the right Go type instead of to a raw
// JSON value.
//
// Core features include:
//   - Type-safe reads using generics (Get, GetOrDefault)
//   - Optional per-parameter type declarations checked on Set
//   - JSON encoding of all set parameters and per-parameter restoration
//   - JSON Schema generation for declared parameter types
//   - Thread-safe operations and cloning for all-or-nothing updates
package params
