package synthesis

import "testing"

func TestSampleSize(t *testing.T) {
	testCases := []struct {
		itemCount int
		expected  int
	}{
		{itemCount: 0, expected: generationSampleCap},
		{itemCount: -5, expected: generationSampleCap},
		{itemCount: 1, expected: 1},
		{itemCount: 9, expected: 5},
		{itemCount: 10, expected: 5},
		{itemCount: 2000, expected: generationSampleCap},
	}
	for _, testCase := range testCases {
		if actual := sampleSize(testCase.itemCount); actual != testCase.expected {
			t.Fatalf("sampleSize(%d): expected %d, got %d", testCase.itemCount, testCase.expected, actual)
		}
	}
}

func TestExtractDraftPrecedence(t *testing.T) {
	inner := map[string]any{"fields": map[string]any{"a": map[string]any{"type": "string"}}}
	items := []map[string]any{
		{"note": "not schema shaped"},
		{"schema": inner, "fields": map[string]any{"ignored": true}},
	}
	draft, found := extractDraft(items)
	if !found {
		t.Fatalf("expected a draft")
	}
	draftFields, hasFields := draft["fields"].(map[string]any)
	if !hasFields {
		t.Fatalf("expected the unwrapped inner schema, got %v", draft)
	}
	if _, fromInner := draftFields["a"]; !fromInner {
		t.Fatalf("inner schema fields missing, got %v", draftFields)
	}
	if _, fromOuter := draftFields["ignored"]; fromOuter {
		t.Fatalf("outer wrapper fields leaked into the draft")
	}
}
