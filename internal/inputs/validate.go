package inputs

import (
	"fmt"
	"strings"
)

// Accepting a generated set requires this many of the four variants to pass
// the structural check.
const minimumValidVariants = 2

// VariantCheck is the structural verdict for one variant.
type VariantCheck struct {
	Variant string
	Valid   bool
	Reason  string
}

// ValidationResult aggregates the per-variant checks in canonical order.
type ValidationResult struct {
	Checks     []VariantCheck
	ValidCount int
}

// Acceptable reports whether enough variants passed to proceed.
func (r ValidationResult) Acceptable() bool { return r.ValidCount >= minimumValidVariants }

// Validate applies the structural check to every canonical variant. The
// check is deliberately generic: each variant must be a non-null JSON
// object. The target actor is arbitrary, so no business rules apply here.
// Validate never fails; bad variants become failed checks.
func Validate(set TestInputSet) ValidationResult {
	result := ValidationResult{Checks: make([]VariantCheck, 0, len(VariantOrder))}
	for _, name := range VariantOrder {
		check := VariantCheck{Variant: name, Valid: true}
		value, present := set.Variants[name]
		switch {
		case !present:
			check.Valid = false
			check.Reason = "not present in the generated set"
		case value == nil:
			check.Valid = false
			check.Reason = "is null, expected a JSON object"
		default:
			if _, isObject := value.(map[string]any); !isObject {
				check.Valid = false
				check.Reason = fmt.Sprintf("is a JSON %s, expected an object", jsonTypeName(value))
			}
		}
		if check.Valid {
			result.ValidCount++
		}
		result.Checks = append(result.Checks, check)
	}
	return result
}

// Feedback renders an attempt-specific critique of the failed variants,
// suitable for appending to the next generation prompt. It is a pure
// function of one validation result.
func Feedback(result ValidationResult) string {
	failed := make([]VariantCheck, 0, len(result.Checks))
	for _, check := range result.Checks {
		if !check.Valid {
			failed = append(failed, check)
		}
	}
	if len(failed) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d of %d input variants failed structural validation:\n", len(failed), len(result.Checks)))
	for _, check := range failed {
		sb.WriteString("- ")
		sb.WriteString(check.Variant)
		sb.WriteString(": ")
		sb.WriteString(check.Reason)
		sb.WriteString("\n")
	}
	sb.WriteString("Every variant must be a JSON object. Return all four variants (minimal, normal, maximal, edge) again.")
	return sb.String()
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
