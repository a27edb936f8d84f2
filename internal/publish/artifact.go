package publish

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
)

const (
	schemaFileName   = "dataset_schema.json"
	datasetReference = "./" + schemaFileName
)

// repoFile is one path/content pair headed for the commit tree.
type repoFile struct {
	Path    string
	Content []byte
}

// fileSet is the two-file bundle a publish run commits.
type fileSet struct {
	SchemaPath   string
	MetadataPath string
	Files        []repoFile
}

// buildFiles renders the schema artifact and the patched metadata file. View
// configuration found at the metadata top level is relocated into the
// artifact; otherwise a default overview is derived unless view generation
// was delegated to the refiner. The metadata patch is surgical: drop the
// relocated views, point storages.dataset at the artifact, touch nothing
// else.
func buildFiles(request Request, metadataPath string, metadataRaw []byte, logger *zap.SugaredLogger) (fileSet, error) {
	var metadata map[string]any
	if err := json.Unmarshal(metadataRaw, &metadata); err != nil {
		return fileSet{}, errs.Wrapf(err, "parse %s", metadataPath)
	}
	if metadata == nil {
		return fileSet{}, errs.Newf("%s is not a JSON object", metadataPath)
	}

	doc := request.Schema
	if relocated := objectValue(metadata["views"]); len(relocated) > 0 {
		if len(doc.Views) > 0 {
			logger.Debugw("metadata views replace refined views", "path", metadataPath)
		}
		doc.Views = relocated
	} else if len(doc.Views) == 0 && !request.WantViews {
		doc.Views = schema.DeriveOverview(doc)
	}

	schemaBytes, err := doc.MarshalIndent()
	if err != nil {
		return fileSet{}, errs.Wrap(err, "render schema artifact")
	}

	delete(metadata, "views")
	storages := objectValue(metadata["storages"])
	if storages == nil {
		storages = map[string]any{}
	}
	storages["dataset"] = datasetReference
	metadata["storages"] = storages

	metadataBytes, err := json.MarshalIndent(metadata, "", "    ")
	if err != nil {
		return fileSet{}, errs.Wrapf(err, "render %s", metadataPath)
	}
	metadataBytes = append(metadataBytes, '\n')

	schemaPath := path.Join(path.Dir(metadataPath), schemaFileName)
	return fileSet{
		SchemaPath:   schemaPath,
		MetadataPath: metadataPath,
		Files: []repoFile{
			{Path: schemaPath, Content: schemaBytes},
			{Path: metadataPath, Content: metadataBytes},
		},
	}, nil
}

// pullRequestBody renders the PR description: what the change is, the
// validation outcome table when datasets were checked, and the run ID.
func pullRequestBody(request Request, files fileSet) string {
	var builder strings.Builder
	builder.WriteString("Adds `")
	builder.WriteString(files.SchemaPath)
	builder.WriteString("` describing the dataset produced by `")
	builder.WriteString(request.ActorName)
	builder.WriteString("` and points `")
	builder.WriteString(files.MetadataPath)
	builder.WriteString("` at it.\n")

	outcome := request.Validation
	if outcome.TotalDatasets > 0 {
		builder.WriteString("\n| Validation | |\n")
		builder.WriteString("| --- | --- |\n")
		fmt.Fprintf(&builder, "| Datasets checked | %d |\n", outcome.TotalDatasets)
		fmt.Fprintf(&builder, "| Valid | %d |\n", outcome.ValidDatasets)
		fmt.Fprintf(&builder, "| Invalid | %d |\n", outcome.InvalidDatasets)
		fmt.Fprintf(&builder, "| Not found | %d |\n", outcome.NotFoundDatasets)
		fmt.Fprintf(&builder, "| Success rate | %.0f%% |\n", outcome.SuccessRate()*100)
	}

	if request.RunID != "" {
		fmt.Fprintf(&builder, "\nPipeline run `%s`.\n", request.RunID)
	}
	return builder.String()
}

func objectValue(value any) map[string]any {
	typed, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return typed
}
