package schemapipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/fsops"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
	"github.com/apify-store/dataset-schema-super-actor/internal/validation"
)

type validateCommandOptions struct {
	configPath   string
	actorName    string
	schemaPath   string
	datasetIDs   []string
	lookbackDays int
	minResults   int
	maxResults   int
}

func newValidateCommand(logger *zap.SugaredLogger) *cobra.Command {
	options := &validateCommandOptions{}

	command := &cobra.Command{
		Use:   validateCommandUse,
		Short: validateCommandShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateCommand(cmd, *options, logger)
		},
	}

	command.Flags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)
	command.Flags().StringVar(&options.actorName, actorFlagName, "", actorFlagUsage)
	command.Flags().StringVar(&options.schemaPath, schemaFlagName, "", schemaFlagUsage)
	command.Flags().StringSliceVar(&options.datasetIDs, datasetIDsFlagName, nil, datasetIDsFlagUsage)
	command.Flags().IntVar(&options.lookbackDays, lookbackDaysFlagName, 0, lookbackDaysFlagUsage)
	command.Flags().IntVar(&options.minResults, minResultsFlagName, 0, minResultsFlagUsage)
	command.Flags().IntVar(&options.maxResults, maxResultsFlagName, 0, maxResultsFlagUsage)

	return command
}

// runValidateCommand runs the schema validation stage standalone: a local
// schema document against explicit dataset IDs or a fresh production query.
func runValidateCommand(command *cobra.Command, options validateCommandOptions, logger *zap.SugaredLogger) error {
	schemaPath := strings.TrimSpace(options.schemaPath)
	if schemaPath == "" {
		return errs.Configurationf("a schema document is required: pass --%s", schemaFlagName)
	}
	if strings.TrimSpace(options.actorName) == "" && len(options.datasetIDs) == 0 {
		return errs.Configurationf("pass --%s for a production query or --%s for explicit datasets", actorFlagName, datasetIDsFlagName)
	}

	rootConfiguration, configurationErr := loadRootConfiguration(options.configPath)
	if configurationErr != nil {
		return configurationErr
	}
	componentLogger := resolveLogger(logger, rootConfiguration.Common.Logging.Level)

	fileOps := fsops.NewOps(fsops.NewOS())
	rawSchema, readErr := fileOps.FS.ReadFile(schemaPath)
	if readErr != nil {
		return errs.Wrapf(readErr, "read schema document %s", schemaPath)
	}
	document, parseErr := schema.Parse(rawSchema)
	if parseErr != nil {
		return errs.Wrapf(parseErr, "parse schema document %s", schemaPath)
	}

	platformToken, tokenErr := requiredSecret(rootConfiguration.Common.Apify.TokenEnv, "actor platform token")
	if tokenErr != nil {
		return tokenErr
	}
	validator := validation.Validator{
		Platform:        apify.NewClient(rootConfiguration.Common.Apify.Endpoint, platformToken, componentLogger),
		ItemsPerDataset: rootConfiguration.Validation.ItemsPerDataset,
		Logger:          componentLogger,
	}

	var outcome validation.Outcome
	if len(options.datasetIDs) > 0 {
		outcome = validator.ValidateDatasets(command.Context(), document, options.datasetIDs)
	} else {
		chartsKey, keyErr := requiredSecret(rootConfiguration.Common.Charts.APIKeyEnv, "charts API key")
		if keyErr != nil {
			return keyErr
		}
		chartsClient := charts.NewClient(rootConfiguration.Common.Charts.Endpoint, chartsKey, rootConfiguration.Common.Charts.QueryID, componentLogger)
		chartsClient.PollInterval = time.Duration(rootConfiguration.Common.Charts.PollIntervalSeconds) * time.Second
		chartsClient.PollMaxAttempts = rootConfiguration.Common.Charts.PollMaxAttempts
		validator.Charts = chartsClient

		window := charts.Window{Days: chooseInt(options.lookbackDays, rootConfiguration.Validation.LookbackDays)}
		bounds := charts.Bounds{
			MinResults: chooseInt(options.minResults, rootConfiguration.Validation.MinResults),
			MaxResults: chooseInt(options.maxResults, rootConfiguration.Validation.MaxResults),
		}
		recentOutcome, validateErr := validator.ValidateRecent(command.Context(), document, options.actorName, window, bounds)
		if validateErr != nil {
			return validateErr
		}
		outcome = recentOutcome
	}

	if writeErr := renderValidationOutcome(command, outcome); writeErr != nil {
		return writeErr
	}
	return outcome.Verdict()
}

func renderValidationOutcome(command *cobra.Command, outcome validation.Outcome) error {
	outputWriter := command.OutOrStdout()
	lines := []string{
		fmt.Sprintf("datasets checked\t%d", outcome.TotalDatasets),
		fmt.Sprintf("valid\t%d", outcome.ValidDatasets),
		fmt.Sprintf("invalid\t%d", outcome.InvalidDatasets),
		fmt.Sprintf("not found\t%d", outcome.NotFoundDatasets),
		fmt.Sprintf("success rate\t%.0f%%", outcome.SuccessRate()*100),
	}
	for _, line := range lines {
		if _, writeErr := fmt.Fprintln(outputWriter, line); writeErr != nil {
			return errs.Wrap(writeErr, "write validation outcome")
		}
	}
	for _, failure := range outcome.Failures {
		if _, writeErr := fmt.Fprintf(outputWriter, "dataset %s: %s\n", failure.DatasetID, failure.Reason); writeErr != nil {
			return errs.Wrap(writeErr, "write validation outcome")
		}
	}
	return nil
}
