package schemapipeline

const (
	rootCommandUse   = "schema-pipeline"
	rootCommandShort = "Generate, validate, and publish dataset schemas for actors"

	runCommandUse        = "run [ACTOR]"
	runCommandShort      = "Run the schema pipeline for one actor"
	runCommandArgsMax    = 1
	stagesCommandUse     = "stages"
	stagesCommandShort   = "List the pipeline stages with their enabled state"
	validateCommandUse   = "validate"
	validateCommandShort = "Validate a local schema document against production datasets"

	configFlagName  = "config"
	configFlagUsage = "Path to config.yaml"

	actorFlagName  = "actor"
	actorFlagUsage = "Technical name of the target actor (user/name)"

	generateInputsFlagName  = "generate-inputs"
	generateInputsFlagUsage = "Enable the test input generation stage"
	runActorFlagName        = "run-actor"
	runActorFlagUsage       = "Enable the variant run stage"
	generateSchemaFlagName  = "generate-schema"
	generateSchemaFlagUsage = "Enable the schema generation stage"
	validateSchemaFlagName  = "validate-schema"
	validateSchemaFlagUsage = "Enable the schema validation stage"
	createPRFlagName        = "create-pr"
	createPRFlagUsage       = "Enable the pull request stage"

	testInputsFlagName  = "test-inputs"
	testInputsFlagUsage = "Path to a test input set JSON file, used when generate-inputs is disabled"
	datasetIDsFlagName  = "dataset-ids"
	datasetIDsFlagUsage = "Dataset IDs to generate the schema from, used when run-actor is disabled"
	schemaFlagName      = "schema"
	schemaFlagUsage     = "Path to a schema document JSON file, used when generate-schema is disabled"

	repositoryFlagName  = "repository"
	repositoryFlagUsage = "Repository to open the pull request against (owner/name or URL)"
	baseBranchFlagName  = "base-branch"
	baseBranchFlagUsage = "Base branch for the pull request (defaults to the repository default branch)"
	viewsFlagName       = "views"
	viewsFlagUsage      = "Ask the schema enhancer to generate display views"
	dryRunFlagName      = "dry-run"
	dryRunFlagUsage     = "Resolve and build the publish artifacts without writing to the repository"

	outputDirFlagName  = "output-dir"
	outputDirFlagUsage = "Directory for the run report and local schema copy"

	lookbackDaysFlagName  = "lookback-days"
	lookbackDaysFlagUsage = "How many days back the production dataset query looks"
	minResultsFlagName    = "min-results"
	minResultsFlagUsage   = "Minimum datasets the production query should yield"
	maxResultsFlagName    = "max-results"
	maxResultsFlagUsage   = "Maximum datasets the production query may yield"

	enabledStateLabel  = "enabled"
	disabledStateLabel = "disabled"
)
