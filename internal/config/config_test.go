package config_test

import (
	"strings"
	"testing"

	"github.com/apify-store/dataset-schema-super-actor/internal/config"
)

func loadFromYAML(t *testing.T, content string) (config.Root, error) {
	t.Helper()
	return config.LoadRoot(config.RootConfigurationSource{Reference: "test", Content: []byte(content)})
}

func TestLoadRootAppliesDefaults(t *testing.T) {
	root, err := loadFromYAML(t, `
common:
  llm:
    endpoint: https://example.test/v1
  apify:
    endpoint: https://platform.example.test
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if root.Validation.LookbackDays != 30 {
		t.Fatalf("expected default lookback 30, got %d", root.Validation.LookbackDays)
	}
	if root.Validation.MaxResults != 25 {
		t.Fatalf("expected default max results 25, got %d", root.Validation.MaxResults)
	}
	if root.Common.Apify.RunTimeoutSeconds != 300 {
		t.Fatalf("expected default run timeout 300, got %d", root.Common.Apify.RunTimeoutSeconds)
	}
	if root.Output.Directory != "./output" {
		t.Fatalf("expected default output directory, got %s", root.Output.Directory)
	}
}

func TestLoadRootValidationFailures(t *testing.T) {
	testCases := []struct {
		name          string
		content       string
		expectedError string
	}{
		{
			name:          "empty content",
			content:       "",
			expectedError: "is empty",
		},
		{
			name:          "missing llm endpoint",
			content:       "common:\n  apify:\n    endpoint: https://platform.example.test\n",
			expectedError: "common.llm.endpoint",
		},
		{
			name:          "missing platform endpoint",
			content:       "common:\n  llm:\n    endpoint: https://example.test/v1\n",
			expectedError: "common.apify.endpoint",
		},
		{
			name: "inverted result bounds",
			content: `
common:
  llm:
    endpoint: https://example.test/v1
  apify:
    endpoint: https://platform.example.test
validation:
  min_results: 10
  max_results: 5
`,
			expectedError: "min_results",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := loadFromYAML(t, testCase.content)
			if err == nil {
				t.Fatalf("expected error for %s", testCase.name)
			}
			if !strings.Contains(err.Error(), testCase.expectedError) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.expectedError, err)
			}
		})
	}
}

func TestStageFlagsDefaultEnabled(t *testing.T) {
	root, err := loadFromYAML(t, `
common:
  llm:
    endpoint: https://example.test/v1
  apify:
    endpoint: https://platform.example.test
stages:
  create_pr: false
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !config.Enabled(root.Stages.GenerateInputs) {
		t.Fatal("absent stage flag must default to enabled")
	}
	if config.Enabled(root.Stages.CreatePR) {
		t.Fatal("explicit false must disable the stage")
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	root, err := loadFromYAML(t, `
common:
  llm:
    endpoint: https://example.test/v1
    model: file-model
  apify:
    endpoint: https://platform.example.test
  charts:
    query_id: 7
`)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Setenv("SCHEMA_PIPELINE_COMMON_LLM_MODEL", "env-model")
	t.Setenv("SCHEMA_PIPELINE_COMMON_CHARTS_QUERY_ID", "42")
	t.Setenv("SCHEMA_PIPELINE_PUBLISH_REPOSITORY", "acme/monorepo")

	config.ApplyEnvironmentOverrides(&root)

	if root.Common.LLM.Model != "env-model" {
		t.Fatalf("expected env model override, got %s", root.Common.LLM.Model)
	}
	if root.Common.Charts.QueryID != 42 {
		t.Fatalf("expected env query id override, got %d", root.Common.Charts.QueryID)
	}
	if root.Publish.Repository != "acme/monorepo" {
		t.Fatalf("expected env repository override, got %s", root.Publish.Repository)
	}
	// Untouched values keep their file-sourced settings.
	if root.Common.LLM.Endpoint != "https://example.test/v1" {
		t.Fatalf("endpoint must keep file value, got %s", root.Common.LLM.Endpoint)
	}
}
