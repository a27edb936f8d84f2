package config

import (
	"strings"

	"github.com/spf13/viper"
)

const environmentPrefix = "SCHEMA_PIPELINE"

// Environment-overridable keys. Secrets are not listed here: they stay behind
// the *_env indirection and are read from the environment by the CLI layer.
var environmentKeys = []string{
	"common.llm.endpoint",
	"common.llm.model",
	"common.apify.endpoint",
	"common.apify.schema_generator_actor",
	"common.charts.endpoint",
	"common.charts.query_id",
	"common.github.endpoint",
	"publish.repository",
	"publish.base_branch",
	"output.directory",
}

// ApplyEnvironmentOverrides overlays SCHEMA_PIPELINE_* environment variables
// onto an already-loaded root configuration. File values lose to environment
// values; flags are resolved later by the CLI layer and win over both.
func ApplyEnvironmentOverrides(root *Root) {
	viperInstance := viper.New()
	viperInstance.SetEnvPrefix(environmentPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()
	for _, key := range environmentKeys {
		// AutomaticEnv alone does not surface keys that were never Set; an
		// explicit binding makes IsSet work for pure-environment values.
		_ = viperInstance.BindEnv(key)
	}

	overrideString(viperInstance, "common.llm.endpoint", &root.Common.LLM.Endpoint)
	overrideString(viperInstance, "common.llm.model", &root.Common.LLM.Model)
	overrideString(viperInstance, "common.apify.endpoint", &root.Common.Apify.Endpoint)
	overrideString(viperInstance, "common.apify.schema_generator_actor", &root.Common.Apify.SchemaGeneratorActor)
	overrideString(viperInstance, "common.charts.endpoint", &root.Common.Charts.Endpoint)
	overrideInt(viperInstance, "common.charts.query_id", &root.Common.Charts.QueryID)
	overrideString(viperInstance, "common.github.endpoint", &root.Common.GitHub.Endpoint)
	overrideString(viperInstance, "publish.repository", &root.Publish.Repository)
	overrideString(viperInstance, "publish.base_branch", &root.Publish.BaseBranch)
	overrideString(viperInstance, "output.directory", &root.Output.Directory)
}

func overrideString(viperInstance *viper.Viper, key string, target *string) {
	if value := strings.TrimSpace(viperInstance.GetString(key)); value != "" {
		*target = value
	}
}

func overrideInt(viperInstance *viper.Viper, key string, target *int) {
	if value := viperInstance.GetInt(key); value > 0 {
		*target = value
	}
}
