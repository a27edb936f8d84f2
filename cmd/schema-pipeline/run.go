package schemapipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/apify"
	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
	"github.com/apify-store/dataset-schema-super-actor/internal/config"
	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/fsops"
	"github.com/apify-store/dataset-schema-super-actor/internal/github"
	"github.com/apify-store/dataset-schema-super-actor/internal/inputs"
	"github.com/apify-store/dataset-schema-super-actor/internal/llm"
	"github.com/apify-store/dataset-schema-super-actor/internal/pipeline"
	"github.com/apify-store/dataset-schema-super-actor/internal/publish"
	"github.com/apify-store/dataset-schema-super-actor/internal/refine"
	"github.com/apify-store/dataset-schema-super-actor/internal/runner"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
	"github.com/apify-store/dataset-schema-super-actor/internal/synthesis"
	"github.com/apify-store/dataset-schema-super-actor/internal/validation"
)

const (
	reportFileName      = "report.json"
	localSchemaFileName = "dataset_schema.local.json"
)

type runCommandOptions struct {
	configPath string
	actorName  string

	generateInputs bool
	runActor       bool
	generateSchema bool
	validateSchema bool
	createPR       bool

	testInputsPath string
	datasetIDs     []string
	schemaPath     string

	repository      string
	baseBranch      string
	wantViews       bool
	dryRun          bool
	outputDirectory string

	lookbackDays int
	minResults   int
	maxResults   int
}

func newRunCommand(logger *zap.SugaredLogger) *cobra.Command {
	options := &runCommandOptions{}

	command := &cobra.Command{
		Use:   runCommandUse,
		Short: runCommandShort,
		Args:  cobra.MaximumNArgs(runCommandArgsMax),
		RunE: func(cmd *cobra.Command, args []string) error {
			effectiveOptions := *options
			if len(args) > 0 {
				effectiveOptions.actorName = strings.TrimSpace(args[0])
			}
			return runPipelineCommand(cmd, effectiveOptions, logger)
		},
	}

	command.Flags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)
	command.Flags().StringVar(&options.actorName, actorFlagName, "", actorFlagUsage)

	addBoolChoiceFlag(command.Flags(), &options.generateInputs, generateInputsFlagName, generateInputsFlagUsage, "true")
	addBoolChoiceFlag(command.Flags(), &options.runActor, runActorFlagName, runActorFlagUsage, "true")
	addBoolChoiceFlag(command.Flags(), &options.generateSchema, generateSchemaFlagName, generateSchemaFlagUsage, "true")
	addBoolChoiceFlag(command.Flags(), &options.validateSchema, validateSchemaFlagName, validateSchemaFlagUsage, "true")
	addBoolChoiceFlag(command.Flags(), &options.createPR, createPRFlagName, createPRFlagUsage, "true")

	command.Flags().StringVar(&options.testInputsPath, testInputsFlagName, "", testInputsFlagUsage)
	command.Flags().StringSliceVar(&options.datasetIDs, datasetIDsFlagName, nil, datasetIDsFlagUsage)
	command.Flags().StringVar(&options.schemaPath, schemaFlagName, "", schemaFlagUsage)

	command.Flags().StringVar(&options.repository, repositoryFlagName, "", repositoryFlagUsage)
	command.Flags().StringVar(&options.baseBranch, baseBranchFlagName, "", baseBranchFlagUsage)
	addBoolChoiceFlag(command.Flags(), &options.wantViews, viewsFlagName, viewsFlagUsage, "false")
	addBoolChoiceFlag(command.Flags(), &options.dryRun, dryRunFlagName, dryRunFlagUsage, "false")
	command.Flags().StringVar(&options.outputDirectory, outputDirFlagName, "", outputDirFlagUsage)

	command.Flags().IntVar(&options.lookbackDays, lookbackDaysFlagName, 0, lookbackDaysFlagUsage)
	command.Flags().IntVar(&options.minResults, minResultsFlagName, 0, minResultsFlagUsage)
	command.Flags().IntVar(&options.maxResults, maxResultsFlagName, 0, maxResultsFlagUsage)

	return command
}

func runPipelineCommand(command *cobra.Command, options runCommandOptions, logger *zap.SugaredLogger) error {
	rootConfiguration, configurationErr := loadRootConfiguration(options.configPath)
	if configurationErr != nil {
		return configurationErr
	}
	componentLogger := resolveLogger(logger, rootConfiguration.Common.Logging.Level)

	toggles := resolveStageToggles(command.Flags(), options, rootConfiguration.Stages)
	fileOps := fsops.NewOps(fsops.NewOS())

	pipelineRequest, requestErr := buildPipelineRequest(options, rootConfiguration, toggles, fileOps)
	if requestErr != nil {
		return requestErr
	}

	controller, controllerErr := buildController(rootConfiguration, toggles, componentLogger)
	if controllerErr != nil {
		return controllerErr
	}

	report, runErr := controller.Run(command.Context(), pipelineRequest)
	renderRunReport(report, toggles)

	outputDirectory := strings.TrimSpace(options.outputDirectory)
	if outputDirectory == "" {
		outputDirectory = rootConfiguration.Output.Directory
	}
	if writeErr := writeRunArtifacts(fileOps, outputDirectory, report); writeErr != nil {
		componentLogger.Warnw("run artifacts not written", "directory", outputDirectory, "error", writeErr)
	} else {
		pterm.Info.Printf("Run report written to %s\n", fileOps.FS.Join(outputDirectory, reportFileName))
	}

	return runErr
}

// buildPipelineRequest merges the command line, the configuration file, and
// any substitute documents into the immutable pipeline request.
func buildPipelineRequest(options runCommandOptions, rootConfiguration config.Root, toggles stageToggles, fileOps fsops.Ops) (pipeline.Request, error) {
	actorName := strings.TrimSpace(options.actorName)

	request := pipeline.Request{
		ActorName:      actorName,
		GenerateInputs: toggles.generateInputs,
		RunActor:       toggles.runActor,
		GenerateSchema: toggles.generateSchema,
		ValidateSchema: toggles.validateSchema,
		CreatePR:       toggles.createPR,
		Window:         charts.Window{Days: chooseInt(options.lookbackDays, rootConfiguration.Validation.LookbackDays)},
		Bounds: charts.Bounds{
			MinResults: chooseInt(options.minResults, rootConfiguration.Validation.MinResults),
			MaxResults: chooseInt(options.maxResults, rootConfiguration.Validation.MaxResults),
		},
		Repository: chooseString(options.repository, rootConfiguration.Publish.Repository),
		BaseBranch: chooseString(options.baseBranch, rootConfiguration.Publish.BaseBranch),
		WantViews:  options.wantViews,
		DryRun:     options.dryRun,
		RunID:      uuid.NewString(),
	}

	if !toggles.generateInputs && strings.TrimSpace(options.testInputsPath) != "" {
		rawSet, readErr := fileOps.FS.ReadFile(options.testInputsPath)
		if readErr != nil {
			return pipeline.Request{}, errs.Wrapf(readErr, "read test input set %s", options.testInputsPath)
		}
		suppliedSet, parseErr := inputs.ParseSet(rawSet, actorName)
		if parseErr != nil {
			return pipeline.Request{}, errs.Wrapf(parseErr, "parse test input set %s", options.testInputsPath)
		}
		request.SuppliedInputs = &suppliedSet
	}

	if !toggles.runActor && len(options.datasetIDs) > 0 {
		request.SuppliedDatasetIDs = options.datasetIDs
	}

	if !toggles.generateSchema && strings.TrimSpace(options.schemaPath) != "" {
		rawSchema, readErr := fileOps.FS.ReadFile(options.schemaPath)
		if readErr != nil {
			return pipeline.Request{}, errs.Wrapf(readErr, "read schema document %s", options.schemaPath)
		}
		suppliedSchema, parseErr := schema.Parse(rawSchema)
		if parseErr != nil {
			return pipeline.Request{}, errs.Wrapf(parseErr, "parse schema document %s", options.schemaPath)
		}
		request.SuppliedSchema = &suppliedSchema
	}

	if toggles.createPR && strings.TrimSpace(request.Repository) == "" {
		return pipeline.Request{}, errs.Configurationf("create-pr needs a repository: set publish.repository or pass --%s", repositoryFlagName)
	}

	return request, nil
}

// buildController wires the concrete clients the enabled stages need. A
// credential is only required when some enabled stage will use its service.
func buildController(rootConfiguration config.Root, toggles stageToggles, logger *zap.SugaredLogger) (*pipeline.Controller, error) {
	controller := &pipeline.Controller{Logger: logger}

	llmNeeded := toggles.generateInputs || toggles.generateSchema
	platformNeeded := toggles.generateInputs || toggles.runActor || toggles.generateSchema || toggles.validateSchema
	chartsNeeded := toggles.generateSchema || toggles.validateSchema

	var chatAdapter llm.Adapter
	if llmNeeded {
		apiKey, keyErr := requiredSecret(rootConfiguration.Common.LLM.APIKeyEnv, "LLM API key")
		if keyErr != nil {
			return nil, keyErr
		}
		chatAdapter = llm.Adapter{
			Client: llm.Client{
				HTTPBaseURL: rootConfiguration.Common.LLM.Endpoint,
				APIKey:      apiKey,
			},
			DefaultModel:        rootConfiguration.Common.LLM.Model,
			DefaultTemp:         rootConfiguration.Common.LLM.Temperature,
			DefaultTokens:       rootConfiguration.Common.LLM.MaxCompletionTokens,
			SupportsTemperature: rootConfiguration.Common.LLM.Temperature > 0,
		}
	}

	var platform apify.Platform
	if platformNeeded {
		platformToken, tokenErr := requiredSecret(rootConfiguration.Common.Apify.TokenEnv, "actor platform token")
		if tokenErr != nil {
			return nil, tokenErr
		}
		platform = apify.NewClient(rootConfiguration.Common.Apify.Endpoint, platformToken, logger)
	}

	var chartsBackend charts.Backend
	if chartsNeeded {
		chartsKey, keyErr := requiredSecret(rootConfiguration.Common.Charts.APIKeyEnv, "charts API key")
		if keyErr != nil {
			return nil, keyErr
		}
		chartsClient := charts.NewClient(rootConfiguration.Common.Charts.Endpoint, chartsKey, rootConfiguration.Common.Charts.QueryID, logger)
		chartsClient.PollInterval = time.Duration(rootConfiguration.Common.Charts.PollIntervalSeconds) * time.Second
		chartsClient.PollMaxAttempts = rootConfiguration.Common.Charts.PollMaxAttempts
		chartsBackend = chartsClient
	}

	runTimeout := time.Duration(rootConfiguration.Common.Apify.RunTimeoutSeconds) * time.Second

	if toggles.generateInputs {
		controller.Inputs = inputs.Generator{Chat: chatAdapter, Platform: platform, Logger: logger}
	}
	if toggles.runActor {
		controller.Runner = runner.Runner{Platform: platform, Timeout: runTimeout, Logger: logger}
	}
	if toggles.generateSchema {
		controller.Synthesis = synthesis.Synthesizer{
			Platform:       platform,
			Charts:         chartsBackend,
			GeneratorActor: rootConfiguration.Common.Apify.SchemaGeneratorActor,
			RunTimeout:     runTimeout,
			Logger:         logger,
		}
		controller.Refiner = refine.Refiner{Chat: chatAdapter, Logger: logger}
	}
	if toggles.validateSchema {
		controller.Validator = validation.Validator{
			Platform:        platform,
			Charts:          chartsBackend,
			ItemsPerDataset: rootConfiguration.Validation.ItemsPerDataset,
			Logger:          logger,
		}
	}
	if toggles.createPR {
		tokens, tokensErr := buildGitHubTokens(rootConfiguration)
		if tokensErr != nil {
			return nil, tokensErr
		}
		controller.Publisher = &publish.Publisher{
			API:    github.NewClient(rootConfiguration.Common.GitHub.Endpoint, tokens, logger),
			Logger: logger,
		}
	}

	return controller, nil
}

// buildGitHubTokens prefers GitHub App credentials when both identifiers are
// configured and falls back to a personal access token.
func buildGitHubTokens(rootConfiguration config.Root) (github.TokenSource, error) {
	githubConfiguration := rootConfiguration.Common.GitHub
	if githubConfiguration.AppID != 0 && githubConfiguration.AppInstallationID != 0 {
		privateKeyPEM, keyErr := requiredSecret(githubConfiguration.AppPrivateKeyEnv, "GitHub App private key")
		if keyErr != nil {
			return nil, keyErr
		}
		return github.NewAppAuth(githubConfiguration.AppID, githubConfiguration.AppInstallationID, []byte(privateKeyPEM), githubConfiguration.Endpoint)
	}
	token, tokenErr := requiredSecret(githubConfiguration.TokenEnv, "GitHub token")
	if tokenErr != nil {
		return nil, tokenErr
	}
	return github.StaticToken(token), nil
}

func renderRunReport(report pipeline.Report, toggles stageToggles) {
	tableData := pterm.TableData{{"Stage", "Status"}}
	for _, descriptor := range pipeline.Descriptors() {
		status := string(report.Progress[descriptor.Stage])
		if !stageToggleEnabled(toggles, descriptor.Stage) && report.Progress[descriptor.Stage] == pipeline.StatusSkipped {
			status = disabledStateLabel
		}
		tableData = append(tableData, []string{string(descriptor.Stage), status})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	if report.Success {
		pterm.Success.Printf("Pipeline run %s finished for %s\n", report.RunID, report.ActorName)
		if publishResult := report.Artifacts.Publish; publishResult != nil && publishResult.DryRun {
			pterm.Info.Printf("Dry run: would commit %s and %s on %s\n", publishResult.SchemaPath, publishResult.MetadataPath, publishResult.Branch)
		}
		if report.PublishURL != "" {
			pterm.Info.Printf("Pull request: %s\n", report.PublishURL)
		}
		return
	}
	pterm.Error.Printf("Pipeline run %s failed at %s: %s\n", report.RunID, report.FailedStage, report.Error)
}

func stageToggleEnabled(toggles stageToggles, stage pipeline.Stage) bool {
	switch stage {
	case pipeline.StageGenerateInputs:
		return toggles.generateInputs
	case pipeline.StageRunActor:
		return toggles.runActor
	case pipeline.StageGenerateSchema:
		return toggles.generateSchema
	case pipeline.StageValidateSchema:
		return toggles.validateSchema
	case pipeline.StageCreatePR:
		return toggles.createPR
	}
	return false
}

// writeRunArtifacts persists the machine-readable report and, when a schema
// was produced, a local copy of the rendered document.
func writeRunArtifacts(fileOps fsops.Ops, directory string, report pipeline.Report) error {
	if strings.TrimSpace(directory) == "" {
		return errs.Configurationf("output directory is empty")
	}
	if writeErr := fileOps.WriteJSON(fileOps.FS.Join(directory, reportFileName), report); writeErr != nil {
		return errs.Wrap(writeErr, "write run report")
	}
	if report.Artifacts.Schema != nil {
		rendered, marshalErr := report.Artifacts.Schema.MarshalIndent()
		if marshalErr != nil {
			return errs.Wrap(marshalErr, "render local schema copy")
		}
		if writeErr := fileOps.WriteBytes(fileOps.FS.Join(directory, localSchemaFileName), rendered); writeErr != nil {
			return errs.Wrap(writeErr, "write local schema copy")
		}
	}
	return nil
}

func chooseInt(flagValue, configuredValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configuredValue
}

func chooseString(flagValue, configuredValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	return configuredValue
}
