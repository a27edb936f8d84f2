package validation

import (
	"fmt"
	"math"

	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
)

// Per-dataset diagnostics are capped; past this the count is summarized.
const maxDiagnosticsPerDataset = 5

// CheckItems validates every item against the schema document and returns
// one diagnostic per violation. Unknown extra fields are not violations:
// schema inference is additive and production data drifts.
func CheckItems(doc schema.Document, items []map[string]any) []string {
	diagnostics := make([]string, 0)
	for index, item := range items {
		for _, required := range doc.Required {
			if _, present := item[required]; !present {
				diagnostics = append(diagnostics, fmt.Sprintf("item %d: required field %q is missing", index, required))
			}
		}
		for fieldName, value := range item {
			declaredType := doc.FieldType(fieldName)
			if declaredType == "" {
				continue
			}
			if value == nil {
				if !doc.Nullable(fieldName) {
					diagnostics = append(diagnostics, fmt.Sprintf("item %d: field %q is null but not declared nullable", index, fieldName))
				}
				continue
			}
			if !typeMatches(declaredType, value) {
				diagnostics = append(diagnostics, fmt.Sprintf("item %d: field %q is %s, schema declares %s", index, fieldName, jsonTypeName(value), declaredType))
			}
		}
	}
	return diagnostics
}

func typeMatches(declaredType string, value any) bool {
	switch declaredType {
	case "string":
		_, isString := value.(string)
		return isString
	case "boolean":
		_, isBool := value.(bool)
		return isBool
	case "number":
		_, isNumber := value.(float64)
		return isNumber
	case "integer":
		number, isNumber := value.(float64)
		return isNumber && number == math.Trunc(number)
	case "array":
		_, isArray := value.([]any)
		return isArray
	case "object":
		_, isObject := value.(map[string]any)
		return isObject
	}
	// Unknown declared types are not checkable; tolerate them.
	return true
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func summarizeDiagnostics(diagnostics []string) string {
	if len(diagnostics) == 0 {
		return ""
	}
	shown := diagnostics
	suffix := ""
	if len(diagnostics) > maxDiagnosticsPerDataset {
		shown = diagnostics[:maxDiagnosticsPerDataset]
		suffix = fmt.Sprintf("; and %d more", len(diagnostics)-maxDiagnosticsPerDataset)
	}
	summary := shown[0]
	for _, diagnostic := range shown[1:] {
		summary += "; " + diagnostic
	}
	return summary + suffix
}
