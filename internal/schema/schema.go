// Package schema models the dataset schema document threaded through the
// pipeline stages. Two wire shapes are accepted everywhere: a bare JSON-Schema
// object (type/properties/required) and the actor specification wrapper
// carrying a fields sub-object plus optional views. Normalize converts either
// into the one Document form the rest of the code works with.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// SpecVersion is the actor specification revision this pipeline produces.
const SpecVersion = 1

// Document is the normalized schema representation.
type Document struct {
	SpecVersion int
	Fields      map[string]any
	Required    []string
	Views       map[string]any
}

// Parse decodes raw JSON and normalizes it.
func Parse(raw []byte) (Document, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Document{}, errs.Wrap(errs.ErrSchemaShape, err.Error())
	}
	return Normalize(decoded)
}

// Normalize accepts either accepted shape and returns the Document form.
// The field container is found under "fields" or "properties"; when the
// container itself is a JSON-Schema object its inner "properties" is used.
func Normalize(raw map[string]any) (Document, error) {
	if raw == nil {
		return Document{}, errs.Wrap(errs.ErrSchemaShape, "schema document is null")
	}

	doc := Document{
		SpecVersion: intValue(raw["actorSpecification"]),
		Views:       mapValue(raw["views"]),
	}

	container, containerFound := fieldContainer(raw)
	if !containerFound {
		return Document{}, errs.Wrap(errs.ErrSchemaShape, "schema document has no fields or properties object")
	}

	inner := mapValue(container["properties"])
	if typeName, _ := container["type"].(string); typeName == "object" && inner != nil {
		// JSON-Schema form: the container is {type: object, properties: {...}}.
		doc.Fields = inner
		doc.Required = stringSlice(container["required"])
	} else {
		// Flat form: the container maps field names to specs directly.
		doc.Fields = container
		doc.Required = stringSlice(raw["required"])
	}

	if len(doc.Fields) == 0 {
		return Document{}, errs.Wrap(errs.ErrSchemaShape, "schema document has an empty field set")
	}
	return doc, nil
}

func fieldContainer(raw map[string]any) (map[string]any, bool) {
	if fields := mapValue(raw["fields"]); fields != nil {
		return fields, true
	}
	if properties := mapValue(raw["properties"]); properties != nil {
		// Bare JSON-Schema shape: required lives alongside properties.
		return map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   raw["required"],
		}, true
	}
	return nil, false
}

// FieldNames returns the field names in sorted order.
func (d Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldSpec returns the declared spec object for one field, or nil.
func (d Document) FieldSpec(name string) map[string]any {
	return mapValue(d.Fields[name])
}

// FieldType returns the declared JSON type of a field ("" when undeclared).
func (d Document) FieldType(name string) string {
	spec := d.FieldSpec(name)
	if spec == nil {
		return ""
	}
	switch typed := spec["type"].(type) {
	case string:
		return typed
	case []any:
		// Nullable fields are commonly declared as ["string", "null"]; the
		// first non-null entry is the effective type.
		for _, candidate := range typed {
			if text, ok := candidate.(string); ok && text != "null" {
				return text
			}
		}
	}
	return ""
}

// Nullable reports whether a field declares null as an admissible value.
func (d Document) Nullable(name string) bool {
	spec := d.FieldSpec(name)
	if spec == nil {
		return false
	}
	if nullable, ok := spec["nullable"].(bool); ok && nullable {
		return true
	}
	if list, ok := spec["type"].([]any); ok {
		for _, candidate := range list {
			if text, ok := candidate.(string); ok && text == "null" {
				return true
			}
		}
	}
	return false
}

// SameFieldSet reports whether two documents expose exactly the same field
// names (specs may differ; refinement only touches metadata).
func SameFieldSet(a, b Document) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for name := range a.Fields {
		if _, ok := b.Fields[name]; !ok {
			return false
		}
	}
	return true
}

// Artifact renders the document into the dataset_schema.json wire form. The
// fields object is always emitted in full JSON-Schema shape so the platform
// can validate pushed items against it.
func (d Document) Artifact() map[string]any {
	fields := map[string]any{
		"type":       "object",
		"properties": d.Fields,
	}
	if len(d.Required) > 0 {
		fields["required"] = d.Required
	}
	artifact := map[string]any{
		"actorSpecification": SpecVersion,
		"fields":             fields,
	}
	if len(d.Views) > 0 {
		artifact["views"] = d.Views
	}
	return artifact
}

// MarshalIndent renders the artifact as pretty-printed JSON with a trailing
// newline, matching how the schema files are stored in actor repositories.
func (d Document) MarshalIndent() ([]byte, error) {
	rendered, err := json.MarshalIndent(d.Artifact(), "", "    ")
	if err != nil {
		return nil, err
	}
	return append(rendered, '\n'), nil
}

func intValue(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case float64:
		return int(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return int(parsed)
		}
	}
	return 0
}

func mapValue(value any) map[string]any {
	typed, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return typed
}

func stringSlice(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if text, ok := entry.(string); ok {
			out = append(out, text)
		}
	}
	return out
}
