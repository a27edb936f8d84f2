package schemapipeline_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	schemapipeline "github.com/apify-store/dataset-schema-super-actor/cmd/schema-pipeline"
	"github.com/apify-store/dataset-schema-super-actor/internal/config"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

const (
	platformTokenEnvironmentVariable = "TEST_PLATFORM_TOKEN"
	chartsKeyEnvironmentVariable     = "TEST_CHARTS_KEY"
	llmKeyEnvironmentVariable        = "TEST_LLM_API_KEY"
	githubTokenEnvironmentVariable   = "TEST_GITHUB_TOKEN"
	testActorName                    = "acme/demo-scraper"
	testQueryID                      = 7
	suppliedSchemaBody               = `{
    "actorSpecification": 1,
    "fields": {
        "type": "object",
        "properties": {
            "title": {"type": "string"},
            "price": {"type": "number"}
        },
        "required": ["title"]
    }
}`
)

func writeRunConfig(t *testing.T, directory string, mutate func(root *config.Root)) string {
	t.Helper()

	rootConfiguration := config.Root{}
	rootConfiguration.Common.LLM.Endpoint = "https://llm.invalid/v1"
	rootConfiguration.Common.LLM.APIKeyEnv = llmKeyEnvironmentVariable
	rootConfiguration.Common.LLM.Model = "test-model"
	rootConfiguration.Common.Apify.Endpoint = "https://platform.invalid"
	rootConfiguration.Common.Apify.TokenEnv = platformTokenEnvironmentVariable
	rootConfiguration.Common.Charts.Endpoint = "https://charts.invalid"
	rootConfiguration.Common.Charts.APIKeyEnv = chartsKeyEnvironmentVariable
	rootConfiguration.Common.Charts.QueryID = testQueryID
	rootConfiguration.Common.GitHub.Endpoint = "https://github.invalid"
	rootConfiguration.Common.GitHub.TokenEnv = githubTokenEnvironmentVariable
	if mutate != nil {
		mutate(&rootConfiguration)
	}

	configData, marshalErr := yaml.Marshal(rootConfiguration)
	if marshalErr != nil {
		t.Fatalf("marshal config: %v", marshalErr)
	}
	configPath := filepath.Join(directory, "config.yaml")
	if writeErr := os.WriteFile(configPath, configData, 0o600); writeErr != nil {
		t.Fatalf("write config: %v", writeErr)
	}
	return configPath
}

func executeRootCommand(t *testing.T, args []string) (string, error) {
	t.Helper()

	rootCommand := schemapipeline.NewRootCommand(zap.NewNop().Sugar())
	var commandOutput bytes.Buffer
	rootCommand.SetOut(&commandOutput)
	rootCommand.SetErr(&commandOutput)
	rootCommand.SetArgs(args)
	executionErr := rootCommand.Execute()
	return commandOutput.String(), executionErr
}

type reportDocument struct {
	RunID     string            `json:"runId"`
	ActorName string            `json:"actorName"`
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Progress  map[string]string `json:"progress"`
	Artifacts struct {
		Validation *struct {
			TotalDatasets int `json:"totalDatasets"`
			ValidDatasets int `json:"validDatasets"`
		} `json:"validation"`
	} `json:"artifacts"`
}

func readReport(t *testing.T, outputDirectory string) reportDocument {
	t.Helper()
	reportBytes, readErr := os.ReadFile(filepath.Join(outputDirectory, "report.json"))
	if readErr != nil {
		t.Fatalf("read report: %v", readErr)
	}
	var report reportDocument
	if unmarshalErr := json.Unmarshal(reportBytes, &report); unmarshalErr != nil {
		t.Fatalf("unmarshal report: %v", unmarshalErr)
	}
	return report
}

func TestRunCommandAllStagesDisabledWritesReport(t *testing.T) {
	directory := t.TempDir()
	configPath := writeRunConfig(t, directory, nil)
	outputDirectory := filepath.Join(directory, "out")

	commandOutput, executionErr := executeRootCommand(t, []string{
		"run", testActorName,
		"--config", configPath,
		"--generate-inputs=false",
		"--run-actor=false",
		"--generate-schema=false",
		"--validate-schema=false",
		"--create-pr=false",
		"--output-dir", outputDirectory,
	})
	if executionErr != nil {
		t.Fatalf("execute run: %v\nOutput: %s", executionErr, commandOutput)
	}

	report := readReport(t, outputDirectory)
	if !report.Success {
		t.Fatalf("expected a successful report, got error %q", report.Error)
	}
	if report.ActorName != testActorName {
		t.Fatalf("expected actor %q in the report, got %q", testActorName, report.ActorName)
	}
	if report.RunID == "" {
		t.Fatalf("expected a run ID in the report")
	}
	for stage, status := range report.Progress {
		if status != "skipped" {
			t.Fatalf("expected stage %s to stay skipped, got %s", stage, status)
		}
	}
}

func TestRunCommandValidatesSuppliedSchemaAgainstProduction(t *testing.T) {
	datasetItems := map[string][]map[string]any{
		"ds-1": {{"title": "first", "price": 1.5}},
		"ds-2": {{"title": "second", "price": 2.0}, {"title": "third"}},
	}

	platformServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, httpRequest *http.Request) {
		if !strings.HasPrefix(httpRequest.URL.Path, "/v2/datasets/") || !strings.HasSuffix(httpRequest.URL.Path, "/items") {
			t.Fatalf("unexpected platform request path: %s", httpRequest.URL.Path)
		}
		datasetID := strings.TrimSuffix(strings.TrimPrefix(httpRequest.URL.Path, "/v2/datasets/"), "/items")
		items, known := datasetItems[datasetID]
		if !known {
			responseWriter.WriteHeader(http.StatusNotFound)
			return
		}
		responseWriter.Header().Set("Content-Type", "application/json")
		if encodeErr := json.NewEncoder(responseWriter).Encode(items); encodeErr != nil {
			t.Fatalf("encode items: %v", encodeErr)
		}
	}))
	t.Cleanup(platformServer.Close)

	chartsServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, httpRequest *http.Request) {
		if httpRequest.URL.Path != "/api/queries/7/results" {
			t.Fatalf("unexpected charts request path: %s", httpRequest.URL.Path)
		}
		payload := map[string]any{
			"query_result": map[string]any{
				"data": map[string]any{
					"rows": []map[string]any{{"dataset_id": "ds-1"}, {"dataset_id": "ds-2"}},
				},
			},
		}
		responseWriter.Header().Set("Content-Type", "application/json")
		if encodeErr := json.NewEncoder(responseWriter).Encode(payload); encodeErr != nil {
			t.Fatalf("encode rows: %v", encodeErr)
		}
	}))
	t.Cleanup(chartsServer.Close)

	t.Setenv(platformTokenEnvironmentVariable, "platform-token")
	t.Setenv(chartsKeyEnvironmentVariable, "charts-key")

	directory := t.TempDir()
	configPath := writeRunConfig(t, directory, func(root *config.Root) {
		root.Common.Apify.Endpoint = platformServer.URL
		root.Common.Charts.Endpoint = chartsServer.URL
	})
	schemaPath := filepath.Join(directory, "dataset_schema.json")
	if writeErr := os.WriteFile(schemaPath, []byte(suppliedSchemaBody), 0o644); writeErr != nil {
		t.Fatalf("write schema: %v", writeErr)
	}
	outputDirectory := filepath.Join(directory, "out")

	commandOutput, executionErr := executeRootCommand(t, []string{
		"run",
		"--actor", testActorName,
		"--config", configPath,
		"--generate-inputs=false",
		"--run-actor=false",
		"--generate-schema=false",
		"--schema", schemaPath,
		"--create-pr=false",
		"--output-dir", outputDirectory,
	})
	if executionErr != nil {
		t.Fatalf("execute run: %v\nOutput: %s", executionErr, commandOutput)
	}

	report := readReport(t, outputDirectory)
	if !report.Success {
		t.Fatalf("expected a successful report, got error %q", report.Error)
	}
	if report.Progress["validate-schema"] != "completed" {
		t.Fatalf("expected validate-schema completed, got %q", report.Progress["validate-schema"])
	}
	if report.Artifacts.Validation == nil {
		t.Fatalf("expected a validation outcome in the report")
	}
	if report.Artifacts.Validation.TotalDatasets != 2 || report.Artifacts.Validation.ValidDatasets != 2 {
		t.Fatalf("expected 2/2 datasets valid, got %d/%d",
			report.Artifacts.Validation.ValidDatasets, report.Artifacts.Validation.TotalDatasets)
	}

	schemaCopy, readErr := os.ReadFile(filepath.Join(outputDirectory, "dataset_schema.local.json"))
	if readErr != nil {
		t.Fatalf("read local schema copy: %v", readErr)
	}
	if !strings.Contains(string(schemaCopy), `"actorSpecification": 1`) {
		t.Fatalf("expected the local schema copy to carry the actorSpecification marker; got:\n%s", schemaCopy)
	}
}

func TestRunCommandMissingRepositoryIsConfigurationError(t *testing.T) {
	t.Setenv("SCHEMA_PIPELINE_PUBLISH_REPOSITORY", "")

	directory := t.TempDir()
	configPath := writeRunConfig(t, directory, nil)

	_, executionErr := executeRootCommand(t, []string{
		"run", testActorName,
		"--config", configPath,
		"--generate-inputs=false",
		"--run-actor=false",
		"--generate-schema=false",
		"--validate-schema=false",
	})
	if executionErr == nil {
		t.Fatalf("expected the run to fail without a repository")
	}
	if !errs.Is(executionErr, errs.ErrConfiguration) {
		t.Fatalf("expected a configuration error, got %v", executionErr)
	}
	if !strings.Contains(executionErr.Error(), "repository") {
		t.Fatalf("expected the error to name the missing repository, got %v", executionErr)
	}
}
