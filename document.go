package featurestage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reserved params entries.
const (
	// ParamInputFeatures holds the stage's declared inputs as transient feature records.
	ParamInputFeatures = "inputFeatures"
)

// Document is the persisted, self-describing record of one stage.
type Document struct {
	// IsModel is true when the stage must be rebuilt from ClassName and ConstructorArgs
	IsModel bool
	// ClassName identifies the stage's class
	ClassName string
	// UID is the stage uid; optional on the wire
	UID string
	// ConstructorArgs holds the encoded constructor arguments of a model
	ConstructorArgs map[string]AnyValue
	// Params holds the encoded generic parameters, passed through opaquely
	Params map[string]json.RawMessage
}

// wireDocument is the JSON shape of a Document.
type wireDocument struct {
	IsModel         bool                       `json:"isModel"`
	ClassName       string                     `json:"className"`
	UID             string                     `json:"uid,omitempty"`
	ConstructorArgs map[string]wireValue       `json:"constructorArgs"`
	Params          map[string]json.RawMessage `json:"params"`
}

// featureRecord is the persisted form of a declared input.
type featureRecord struct {
	UID         string   `json:"uid"`
	Name        string   `json:"name"`
	TypeName    string   `json:"typeName"`
	IsResponse  bool     `json:"isResponse,omitempty"`
	OriginStage string   `json:"originStage,omitempty"`
	Parents     []string `json:"parents,omitempty"`
}

func malformed(field, className string, err error) *StageError {
	return &StageError{Kind: ErrMalformedDocument, Name: field, ClassName: className, Err: err}
}

// ParseDocument parses a rendered document. Unknown top-level keys are
// ignored. isModel and className are required; constructorArgs is required
// and validated only for models.
func ParseDocument(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, malformed("", "", err)
	}
	if top == nil {
		return nil, malformed("", "", fmt.Errorf("document is null"))
	}

	doc := &Document{
		ConstructorArgs: map[string]AnyValue{},
		Params:          map[string]json.RawMessage{},
	}

	if err := requireField(top, "isModel", &doc.IsModel); err != nil {
		return nil, malformed("isModel", "", err)
	}
	if err := requireField(top, "className", &doc.ClassName); err != nil {
		return nil, malformed("className", "", err)
	}
	if doc.ClassName == "" {
		return nil, malformed("className", "", fmt.Errorf("empty class name"))
	}
	if raw, ok := top["uid"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &doc.UID); err != nil {
			return nil, malformed("uid", doc.ClassName, err)
		}
	}

	if doc.IsModel {
		var args map[string]wireValue
		if err := requireField(top, "constructorArgs", &args); err != nil {
			return nil, malformed("constructorArgs", doc.ClassName, err)
		}
		for name, w := range args {
			av, err := fromWire(w)
			if err != nil {
				return nil, malformed("constructorArgs."+name, doc.ClassName, err)
			}
			doc.ConstructorArgs[name] = av
		}
	}

	if raw, ok := top["params"]; ok {
		var ps map[string]json.RawMessage
		if err := json.Unmarshal(raw, &ps); err != nil || ps == nil {
			if err == nil {
				err = fmt.Errorf("params must be an object")
			}
			return nil, malformed("params", doc.ClassName, err)
		}
		for name, v := range ps {
			var buf bytes.Buffer
			if err := json.Compact(&buf, v); err != nil {
				return nil, malformed("params."+name, doc.ClassName, err)
			}
			doc.Params[name] = buf.Bytes()
		}
	}

	return doc, nil
}

// RenderDocument renders doc as compact JSON with sorted keys.
func RenderDocument(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}

	w := wireDocument{
		IsModel:         doc.IsModel,
		ClassName:       doc.ClassName,
		UID:             doc.UID,
		ConstructorArgs: make(map[string]wireValue, len(doc.ConstructorArgs)),
		Params:          make(map[string]json.RawMessage, len(doc.Params)),
	}
	for name, av := range doc.ConstructorArgs {
		wv, err := toWire(av)
		if err != nil {
			return nil, malformed("constructorArgs."+name, doc.ClassName, err)
		}
		w.ConstructorArgs[name] = wv
	}
	for name, raw := range doc.Params {
		w.Params[name] = raw
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to render document for %s: %w", doc.ClassName, err)
	}
	return data, nil
}

// DocumentSchema returns the JSON Schema of the rendered document format.
func DocumentSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	return reflector.Reflect(&wireDocument{})
}

func requireField(top map[string]json.RawMessage, name string, out any) error {
	raw, ok := top[name]
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	if isNull(raw) {
		return fmt.Errorf("field %q is null", name)
	}
	return json.Unmarshal(raw, out)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
