package schema

import (
	"strings"
)

// Display formats understood by the platform's dataset table component.
const (
	FormatText   = "text"
	FormatNumber = "number"
	FormatLink   = "link"
	FormatDate   = "date"
)

const overviewViewName = "overview"

// DeriveOverview builds the default "overview" view: one table column per
// field, format inferred from the field's declared type and name. Used when
// the caller did not ask for AI-generated views and the actor metadata did
// not already carry a view configuration.
func DeriveOverview(doc Document) map[string]any {
	names := doc.FieldNames()
	columns := make(map[string]any, len(names))
	for _, name := range names {
		columns[name] = map[string]any{
			"label":  columnLabel(name),
			"format": columnFormat(name, doc.FieldType(name)),
		}
	}
	return map[string]any{
		overviewViewName: map[string]any{
			"title": "Overview",
			"transformation": map[string]any{
				"fields": anySlice(names),
			},
			"display": map[string]any{
				"component":  "table",
				"properties": columns,
			},
		},
	}
}

func columnFormat(name, fieldType string) string {
	lowered := strings.ToLower(name)
	switch {
	case fieldType == "number" || fieldType == "integer":
		return FormatNumber
	case strings.Contains(lowered, "url"):
		return FormatLink
	case isDateLike(lowered):
		return FormatDate
	default:
		return FormatText
	}
}

func isDateLike(lowered string) bool {
	switch {
	case strings.Contains(lowered, "date"), strings.Contains(lowered, "timestamp"):
		return true
	case strings.HasSuffix(lowered, "_at"), strings.HasSuffix(lowered, "createdat"), strings.HasSuffix(lowered, "updatedat"):
		return true
	}
	return false
}

// columnLabel turns snake_case or camelCase field names into a spaced,
// capitalized column label.
func columnLabel(name string) string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for index, r := range name {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case r >= 'A' && r <= 'Z' && index > 0:
			flush()
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	flush()
	if len(words) == 0 {
		return name
	}
	for index, word := range words {
		if word == "" {
			continue
		}
		words[index] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for index, value := range values {
		out[index] = value
	}
	return out
}
