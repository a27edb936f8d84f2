package schemapipeline

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/pipeline"
)

type stagesCommandOptions struct {
	configPath string
}

func newStagesCommand() *cobra.Command {
	options := &stagesCommandOptions{}

	command := &cobra.Command{
		Use:   stagesCommandUse,
		Short: stagesCommandShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStagesCommand(cmd, *options)
		},
	}

	command.Flags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)

	return command
}

func runStagesCommand(command *cobra.Command, options stagesCommandOptions) error {
	rootConfiguration, configurationErr := loadRootConfiguration(options.configPath)
	if configurationErr != nil {
		return configurationErr
	}

	outputWriter := command.OutOrStdout()
	for _, descriptor := range pipeline.Descriptors() {
		stageStateLabel := enabledStateLabel
		if !stageEnabledInConfig(rootConfiguration.Stages, descriptor.Stage) {
			stageStateLabel = disabledStateLabel
		}
		_, writeErr := fmt.Fprintf(outputWriter, "%s\t(%s)\t%s\n", descriptor.Stage, stageStateLabel, descriptor.Summary)
		if writeErr != nil {
			return errs.Wrap(writeErr, "write stage listing")
		}
	}

	return nil
}
