package schemapipeline

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCommand assembles the CLI tree. The logger is shared by every
// subcommand; tests pass a nop logger.
func NewRootCommand(logger *zap.SugaredLogger) *cobra.Command {
	command := &cobra.Command{
		Use:           rootCommandUse,
		Short:         rootCommandShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.AddCommand(newRunCommand(logger))
	command.AddCommand(newStagesCommand())
	command.AddCommand(newValidateCommand(logger))
	return command
}

// Execute runs the CLI and reports the failure, if any, to the caller.
func Execute(logger *zap.SugaredLogger) error {
	return NewRootCommand(logger).Execute()
}
