package schemapipeline

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/apify-store/dataset-schema-super-actor/internal/config"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/pipeline"
)

const (
	configurationLoaderInitializationErrorFormat = "initialize configuration loader"
	rootConfigurationLoadErrorFormat             = "load configuration %s"
)

func loadRootConfiguration(configurationPath string) (config.Root, error) {
	configurationLoader, loaderErr := config.NewDefaultRootConfigurationLoader()
	if loaderErr != nil {
		return config.Root{}, errs.Wrap(loaderErr, configurationLoaderInitializationErrorFormat)
	}
	configurationSource, sourceErr := configurationLoader.Load(configurationPath)
	if sourceErr != nil {
		return config.Root{}, sourceErr
	}
	rootConfiguration, loadErr := config.LoadRoot(configurationSource)
	if loadErr != nil {
		return config.Root{}, errs.Wrapf(loadErr, rootConfigurationLoadErrorFormat, configurationSource.Reference)
	}
	config.ApplyEnvironmentOverrides(&rootConfiguration)
	return rootConfiguration, nil
}

// requiredSecret reads a credential through its configured environment
// variable name. Secrets never live in the configuration file itself.
func requiredSecret(environmentVariable, description string) (string, error) {
	name := strings.TrimSpace(environmentVariable)
	if name == "" {
		return "", errs.Configurationf("no environment variable configured for the %s", description)
	}
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", errs.Configurationf("missing %s: set %s", description, name)
	}
	return value, nil
}

// stageToggles is the effective enable state of the five stages after merging
// configuration defaults with the command line. A changed flag wins over the
// file; an untouched flag falls back to the configured value, which itself
// defaults to enabled.
type stageToggles struct {
	generateInputs bool
	runActor       bool
	generateSchema bool
	validateSchema bool
	createPR       bool
}

func resolveStageToggles(flags *pflag.FlagSet, options runCommandOptions, stages config.Stages) stageToggles {
	return stageToggles{
		generateInputs: resolveStageToggle(flags, generateInputsFlagName, options.generateInputs, stages.GenerateInputs),
		runActor:       resolveStageToggle(flags, runActorFlagName, options.runActor, stages.RunActor),
		generateSchema: resolveStageToggle(flags, generateSchemaFlagName, options.generateSchema, stages.GenerateSchema),
		validateSchema: resolveStageToggle(flags, validateSchemaFlagName, options.validateSchema, stages.ValidateSchema),
		createPR:       resolveStageToggle(flags, createPRFlagName, options.createPR, stages.CreatePR),
	}
}

func resolveStageToggle(flags *pflag.FlagSet, flagName string, flagValue bool, configured *bool) bool {
	if flags != nil {
		if registered := flags.Lookup(flagName); registered != nil && registered.Changed {
			return flagValue
		}
	}
	return config.Enabled(configured)
}

func stageEnabledInConfig(stages config.Stages, stage pipeline.Stage) bool {
	switch stage {
	case pipeline.StageGenerateInputs:
		return config.Enabled(stages.GenerateInputs)
	case pipeline.StageRunActor:
		return config.Enabled(stages.RunActor)
	case pipeline.StageGenerateSchema:
		return config.Enabled(stages.GenerateSchema)
	case pipeline.StageValidateSchema:
		return config.Enabled(stages.ValidateSchema)
	case pipeline.StageCreatePR:
		return config.Enabled(stages.CreatePR)
	}
	return false
}

// resolveLogger honors common.logging.level. The bootstrap logger from main
// keeps serving the exit path; pipeline components get a logger rebuilt at
// the configured level when it differs from the default.
func resolveLogger(base *zap.SugaredLogger, configuredLevel string) *zap.SugaredLogger {
	if base == nil {
		base = zap.NewNop().Sugar()
	}
	trimmed := strings.TrimSpace(configuredLevel)
	if trimmed == "" {
		return base
	}
	parsedLevel, parseErr := zapcore.ParseLevel(trimmed)
	if parseErr != nil {
		base.Warnw("unknown logging level, keeping the default", "level", trimmed)
		return base
	}
	if parsedLevel == zapcore.InfoLevel {
		return base
	}
	loggingConfiguration := zap.NewProductionConfig()
	loggingConfiguration.Level = zap.NewAtomicLevelAt(parsedLevel)
	rebuilt, buildErr := loggingConfiguration.Build()
	if buildErr != nil {
		return base
	}
	return rebuilt.Sugar()
}
