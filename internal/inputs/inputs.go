// Package inputs models the four-variant test input set for an actor, its
// structural validation, and the LLM-backed generator that produces it.
package inputs

import (
	"encoding/json"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// The four canonical variant names.
const (
	VariantMinimal = "minimal"
	VariantNormal  = "normal"
	VariantMaximal = "maximal"
	VariantEdge    = "edge"
)

// VariantOrder is the canonical reporting order for the four variants.
var VariantOrder = []string{VariantMinimal, VariantNormal, VariantMaximal, VariantEdge}

// TestInputSet holds one candidate input document per variant. Values are
// arbitrary JSON; validation decides which are structurally usable.
type TestInputSet struct {
	ActorID  string         `json:"actorId,omitempty"`
	Variants map[string]any `json:"variants"`
}

// Variant returns the named variant as an object when it is one.
func (s TestInputSet) Variant(name string) (map[string]any, bool) {
	object, isObject := s.Variants[name].(map[string]any)
	if !isObject || object == nil {
		return nil, false
	}
	return object, true
}

// Normalized returns a set where every canonical variant is a non-nil
// object; anything missing or structurally unusable becomes an empty object.
// The actor still runs under all four variants, some just degenerate.
func (s TestInputSet) Normalized() TestInputSet {
	variants := make(map[string]any, len(VariantOrder))
	for _, name := range VariantOrder {
		if object, isObject := s.Variant(name); isObject {
			variants[name] = object
		} else {
			variants[name] = map[string]any{}
		}
	}
	return TestInputSet{ActorID: s.ActorID, Variants: variants}
}

// ParseSet decodes a test input set from either accepted shape: a wrapper
// object with a "variants" key, or a bare map of variant name to input.
func ParseSet(raw []byte, actorID string) (TestInputSet, error) {
	var document map[string]any
	if unmarshalErr := json.Unmarshal(raw, &document); unmarshalErr != nil {
		return TestInputSet{}, errs.Wrap(unmarshalErr, "parse test input set")
	}

	variants := document
	if wrapped, hasWrapper := document["variants"]; hasWrapper {
		variantsObject, isObject := wrapped.(map[string]any)
		if !isObject {
			return TestInputSet{}, errs.New("test input set \"variants\" key is not an object")
		}
		variants = variantsObject
		if actorID == "" {
			if declared, isString := document["actorId"].(string); isString {
				actorID = declared
			}
		}
	}
	return TestInputSet{ActorID: actorID, Variants: variants}, nil
}
