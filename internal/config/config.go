package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	rootConfigurationEmptyContentErrorFormat = "root configuration %s is empty"
	rootConfigurationUnmarshalErrorFormat    = "unmarshal root configuration %s: %w"
	missingLLMEndpointErrorMessage           = "common.llm.endpoint is empty"
	missingPlatformEndpointErrorMessage      = "common.apify.endpoint is empty"
	resultBoundsErrorMessage                 = "validation.min_results must not exceed validation.max_results"

	defaultLookbackDays        = 30
	defaultMinResults          = 1
	defaultMaxResults          = 25
	defaultItemsPerDataset     = 100
	defaultRunTimeoutSeconds   = 300
	defaultPollIntervalSeconds = 2
	defaultPollMaxAttempts     = 60
	defaultMaxCompletionTokens = 4096
	defaultOutputDirectory     = "./output"
)

// Root is the unified configuration document for the schema pipeline.
type Root struct {
	Common     Common     `yaml:"common"`
	Stages     Stages     `yaml:"stages"`
	Validation Validation `yaml:"validation"`
	Publish    Publish    `yaml:"publish"`
	Output     Output     `yaml:"output"`
}

type Common struct {
	LLM struct {
		Endpoint            string  `yaml:"endpoint"`
		APIKeyEnv           string  `yaml:"api_key_env"`
		Model               string  `yaml:"model"`
		MaxCompletionTokens int     `yaml:"max_completion_tokens"`
		Temperature         float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Apify struct {
		Endpoint             string `yaml:"endpoint"`
		TokenEnv             string `yaml:"token_env"`
		SchemaGeneratorActor string `yaml:"schema_generator_actor"`
		RunTimeoutSeconds    int    `yaml:"run_timeout_seconds"`
	} `yaml:"apify"`
	Charts struct {
		Endpoint            string `yaml:"endpoint"`
		APIKeyEnv           string `yaml:"api_key_env"`
		QueryID             int    `yaml:"query_id"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		PollMaxAttempts     int    `yaml:"poll_max_attempts"`
	} `yaml:"charts"`
	GitHub struct {
		Endpoint          string `yaml:"endpoint"`
		TokenEnv          string `yaml:"token_env"`
		AppID             int64  `yaml:"app_id"`
		AppInstallationID int64  `yaml:"app_installation_id"`
		AppPrivateKeyEnv  string `yaml:"app_private_key_env"`
	} `yaml:"github"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Stages holds the per-stage enable flags. Pointer fields distinguish a flag
// absent from the file (defaults to enabled) from an explicit false.
type Stages struct {
	GenerateInputs *bool `yaml:"generate_inputs"`
	RunActor       *bool `yaml:"run_actor"`
	GenerateSchema *bool `yaml:"generate_schema"`
	ValidateSchema *bool `yaml:"validate_schema"`
	CreatePR       *bool `yaml:"create_pr"`
}

type Validation struct {
	LookbackDays    int `yaml:"lookback_days"`
	MinResults      int `yaml:"min_results"`
	MaxResults      int `yaml:"max_results"`
	ItemsPerDataset int `yaml:"items_per_dataset"`
}

type Publish struct {
	Repository string `yaml:"repository"`
	BaseBranch string `yaml:"base_branch"`
}

type Output struct {
	Directory string `yaml:"directory"`
}

// LoadRoot parses the provided configuration source, applies defaults and
// validates required fields.
func LoadRoot(source RootConfigurationSource) (Root, error) {
	if len(source.Content) == 0 {
		return Root{}, fmt.Errorf(rootConfigurationEmptyContentErrorFormat, source.Reference)
	}

	var rootConfiguration Root
	if err := yaml.Unmarshal(source.Content, &rootConfiguration); err != nil {
		return Root{}, fmt.Errorf(rootConfigurationUnmarshalErrorFormat, source.Reference, err)
	}

	rootConfiguration.applyDefaults()

	if strings.TrimSpace(rootConfiguration.Common.LLM.Endpoint) == "" {
		return Root{}, errors.New(missingLLMEndpointErrorMessage)
	}
	if strings.TrimSpace(rootConfiguration.Common.Apify.Endpoint) == "" {
		return Root{}, errors.New(missingPlatformEndpointErrorMessage)
	}
	if rootConfiguration.Validation.MinResults > rootConfiguration.Validation.MaxResults {
		return Root{}, errors.New(resultBoundsErrorMessage)
	}
	return rootConfiguration, nil
}

func (root *Root) applyDefaults() {
	if root.Validation.LookbackDays <= 0 {
		root.Validation.LookbackDays = defaultLookbackDays
	}
	if root.Validation.MinResults <= 0 {
		root.Validation.MinResults = defaultMinResults
	}
	if root.Validation.MaxResults <= 0 {
		root.Validation.MaxResults = defaultMaxResults
	}
	if root.Validation.ItemsPerDataset <= 0 {
		root.Validation.ItemsPerDataset = defaultItemsPerDataset
	}
	if root.Common.Apify.RunTimeoutSeconds <= 0 {
		root.Common.Apify.RunTimeoutSeconds = defaultRunTimeoutSeconds
	}
	if root.Common.Charts.PollIntervalSeconds <= 0 {
		root.Common.Charts.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if root.Common.Charts.PollMaxAttempts <= 0 {
		root.Common.Charts.PollMaxAttempts = defaultPollMaxAttempts
	}
	if root.Common.LLM.MaxCompletionTokens <= 0 {
		root.Common.LLM.MaxCompletionTokens = defaultMaxCompletionTokens
	}
	if strings.TrimSpace(root.Output.Directory) == "" {
		root.Output.Directory = defaultOutputDirectory
	}
}

// Enabled resolves one stage flag; flags absent from the file default to true.
func Enabled(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}
