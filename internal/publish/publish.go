// Package publish turns a validated schema document into one pull request
// against the actor's repository. The sequence is strictly ordered: resolve
// the base branch, locate the actor metadata file, build the artifact pair,
// create a work branch, commit both files in a single tree update, open the
// pull request. Any failure after the branch exists is an atomicity failure;
// the orphaned branch is harmless but the run is reported as failed.
package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
	"github.com/apify-store/dataset-schema-super-actor/internal/github"
	"github.com/apify-store/dataset-schema-super-actor/internal/schema"
	"github.com/apify-store/dataset-schema-super-actor/internal/validation"
)

const (
	branchPrefix      = "dataset-schema/"
	branchSuffixBytes = 8
)

// Request carries everything one publish run needs.
type Request struct {
	// Repository accepts owner/name, a github.com URL, or an SSH remote.
	Repository string
	// BaseBranch overrides the repository default branch when set.
	BaseBranch string
	// ActorName is the technical name, usually username/actor-name.
	ActorName string
	// Schema is the refined document to publish.
	Schema schema.Document
	// Validation is rendered into the pull request body when present.
	Validation validation.Outcome
	// RunID correlates the branch name and PR body with the pipeline logs.
	RunID string
	// WantViews marks that view generation was delegated to the refiner, so
	// no default overview is derived even when the document carries none.
	WantViews bool
	// DryRun stops before the first write call.
	DryRun bool
}

// Result reports what was published, or would be for a dry run.
type Result struct {
	Repository        string `json:"repository"`
	BaseBranch        string `json:"baseBranch"`
	Branch            string `json:"branch,omitempty"`
	CommitSHA         string `json:"commitSha,omitempty"`
	SchemaPath        string `json:"schemaPath"`
	MetadataPath      string `json:"metadataPath"`
	PullRequestURL    string `json:"pullRequestUrl,omitempty"`
	PullRequestNumber int    `json:"pullRequestNumber,omitempty"`
	DryRun            bool   `json:"dryRun,omitempty"`
}

// Publisher drives the branch/commit/PR sequence against one repository.
type Publisher struct {
	API    github.API
	Logger *zap.SugaredLogger
}

// Publish runs the full sequence and returns the pull request identity.
func (p *Publisher) Publish(ctx context.Context, request Request) (Result, error) {
	ref, err := github.ParseRepoRef(request.Repository)
	if err != nil {
		return Result{}, err
	}

	base := request.BaseBranch
	if base == "" {
		repository, repositoryErr := p.API.GetRepository(ctx, ref)
		if repositoryErr != nil {
			return Result{}, errs.Wrapf(repositoryErr, "resolve default branch of %s", ref)
		}
		base = repository.DefaultBranch
	}

	branch, err := p.API.GetBranch(ctx, ref, base)
	if err != nil {
		return Result{}, errs.Wrapf(err, "read branch %s of %s", base, ref)
	}

	metadataPath, err := p.locateMetadata(ctx, ref, branch.TreeSHA, request.ActorName)
	if err != nil {
		return Result{}, err
	}

	metadataRaw, err := p.API.GetContents(ctx, ref, metadataPath, base)
	if err != nil {
		return Result{}, errs.Wrapf(err, "read %s from %s", metadataPath, base)
	}

	files, err := buildFiles(request, metadataPath, metadataRaw, p.logger())
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Repository:   ref.String(),
		BaseBranch:   base,
		SchemaPath:   files.SchemaPath,
		MetadataPath: files.MetadataPath,
		Branch:       workBranchName(request.ActorName, request.RunID),
	}

	if request.DryRun {
		result.DryRun = true
		p.logger().Infow("dry run, stopping before branch creation",
			"repository", result.Repository,
			"branch", result.Branch,
			"schemaPath", result.SchemaPath,
			"metadataPath", result.MetadataPath)
		return result, nil
	}

	if refErr := p.API.CreateRef(ctx, ref, result.Branch, branch.HeadSHA); refErr != nil {
		return Result{}, errs.Wrapf(refErr, "create branch %s in %s", result.Branch, ref)
	}

	commitSHA, commitErr := p.commitFiles(ctx, ref, branch, result.Branch, request.ActorName, files)
	if commitErr != nil {
		return Result{}, errs.Wrapf(errs.ErrPublishAtomicity,
			"commit to %s failed, branch is orphaned: %v", result.Branch, commitErr)
	}
	result.CommitSHA = commitSHA

	pull, pullErr := p.API.CreatePullRequest(ctx, ref, github.PullRequestParams{
		Title: pullRequestTitle(request.ActorName),
		Head:  result.Branch,
		Base:  base,
		Body:  pullRequestBody(request, files),
	})
	if pullErr != nil {
		return Result{}, errs.Wrapf(errs.ErrPublishAtomicity,
			"pull request from %s failed, branch holds commit %s: %v", result.Branch, commitSHA, pullErr)
	}
	result.PullRequestURL = pull.URL
	result.PullRequestNumber = pull.Number

	p.logger().Infow("pull request opened",
		"repository", result.Repository,
		"branch", result.Branch,
		"pullRequest", pull.URL)
	return result, nil
}

// locateMetadata scans the recursive tree for the first matching candidate
// path. There is deliberately no fallback beyond the fixed list: publishing
// into a guessed location in a monorepo is worse than failing.
func (p *Publisher) locateMetadata(ctx context.Context, ref github.RepoRef, treeSHA, actorName string) (string, error) {
	tree, err := p.API.GetTree(ctx, ref, treeSHA, true)
	if err != nil {
		return "", errs.Wrapf(err, "read tree of %s", ref)
	}
	if tree.Truncated {
		p.logger().Warnw("repository tree listing truncated, metadata search may miss paths", "repository", ref.String())
	}

	present := make(map[string]bool, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.Type == github.TypeBlob {
			present[entry.Path] = true
		}
	}

	candidates := metadataCandidates(actorName)
	for _, candidate := range candidates {
		if present[candidate] {
			p.logger().Debugw("metadata file located", "path", candidate)
			return candidate, nil
		}
	}
	return "", errs.Wrapf(errs.ErrPublishLocationNotFound,
		"no actor metadata file in %s, tried %s", ref, strings.Join(candidates, ", "))
}

// commitFiles performs the single-tree-single-commit update: both blobs go
// into one tree layered on the base tree, one commit, one ref move. The two
// files land together or not at all.
func (p *Publisher) commitFiles(ctx context.Context, ref github.RepoRef, base github.Branch, branch, actorName string, files fileSet) (string, error) {
	entries := make([]github.TreeEntry, 0, len(files.Files))
	for _, file := range files.Files {
		blobSHA, blobErr := p.API.CreateBlob(ctx, ref, file.Content)
		if blobErr != nil {
			return "", errs.Wrapf(blobErr, "create blob for %s", file.Path)
		}
		entries = append(entries, github.TreeEntry{
			Path: file.Path,
			Mode: github.ModeFile,
			Type: github.TypeBlob,
			SHA:  blobSHA,
		})
	}

	treeSHA, treeErr := p.API.CreateTree(ctx, ref, base.TreeSHA, entries)
	if treeErr != nil {
		return "", errs.Wrap(treeErr, "create tree")
	}

	commitSHA, commitErr := p.API.CreateCommit(ctx, ref, commitMessage(actorName), treeSHA, []string{base.HeadSHA})
	if commitErr != nil {
		return "", errs.Wrap(commitErr, "create commit")
	}

	if updateErr := p.API.UpdateRef(ctx, ref, branch, commitSHA); updateErr != nil {
		return "", errs.Wrapf(updateErr, "move %s to %s", branch, commitSHA)
	}
	return commitSHA, nil
}

// metadataCandidates is the ordered search list: repository root layouts
// first, then the monorepo layouts keyed by the actor's short name.
func metadataCandidates(actorName string) []string {
	candidates := []string{
		".actor/actor.json",
		"actor.json",
	}
	short := shortActorName(actorName)
	if short != "" {
		candidates = append(candidates,
			"actors/"+short+"/.actor/actor.json",
			"actors/"+short+"/actor.json",
			short+"/.actor/actor.json",
			short+"/actor.json",
		)
	}
	return candidates
}

func workBranchName(actorName, runID string) string {
	suffix := strings.ReplaceAll(runID, "-", "")
	if suffix == "" {
		suffix = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(suffix) > branchSuffixBytes {
		suffix = suffix[:branchSuffixBytes]
	}
	return branchPrefix + branchSlug(shortActorName(actorName)) + "-" + suffix
}

func shortActorName(actorName string) string {
	if index := strings.LastIndex(actorName, "/"); index >= 0 {
		return actorName[index+1:]
	}
	return actorName
}

// branchSlug keeps only ref-safe characters from the actor name.
func branchSlug(name string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	slug := strings.Trim(builder.String(), "-")
	if slug == "" {
		return "actor"
	}
	return slug
}

func commitMessage(actorName string) string {
	return fmt.Sprintf("Add dataset schema for %s", actorName)
}

func pullRequestTitle(actorName string) string {
	return fmt.Sprintf("Add dataset schema for %s", actorName)
}

func (p *Publisher) logger() *zap.SugaredLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop().Sugar()
}
