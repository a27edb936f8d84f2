// Package github is the GitHub REST v3 surface the publisher needs: repo and
// branch metadata, tree reads, and the blob/tree/commit/ref/PR write path.
// Client talks to the real API; Mem is the in-memory twin used by tests.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

const (
	acceptHeader     = "application/vnd.github+json"
	apiVersionHeader = "2022-11-28"

	// ModeFile is the git mode for a regular file tree entry.
	ModeFile = "100644"
	// TypeBlob marks a file entry in a tree.
	TypeBlob = "blob"
)

// Repository is the subset of repo metadata the publisher reads.
type Repository struct {
	FullName      string
	DefaultBranch string
}

// Branch carries the head commit SHA and that commit's tree SHA.
type Branch struct {
	Name    string
	HeadSHA string
	TreeSHA string
}

// TreeEntry is one path in a git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Tree is a (possibly recursive) git tree listing.
type Tree struct {
	SHA       string
	Entries   []TreeEntry
	Truncated bool
}

// PullRequestParams describes the PR to open.
type PullRequestParams struct {
	Title string
	Head  string
	Base  string
	Body  string
}

// PullRequest is the created PR's identity.
type PullRequest struct {
	Number int
	URL    string
}

// API is the source-control surface the publisher consumes.
type API interface {
	GetRepository(ctx context.Context, ref RepoRef) (Repository, error)
	GetBranch(ctx context.Context, ref RepoRef, branch string) (Branch, error)
	GetTree(ctx context.Context, ref RepoRef, treeSHA string, recursive bool) (Tree, error)
	GetContents(ctx context.Context, ref RepoRef, path, gitRef string) ([]byte, error)
	CreateBlob(ctx context.Context, ref RepoRef, content []byte) (string, error)
	CreateTree(ctx context.Context, ref RepoRef, baseTreeSHA string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, ref RepoRef, message, treeSHA string, parents []string) (string, error)
	CreateRef(ctx context.Context, ref RepoRef, branch, sha string) error
	UpdateRef(ctx context.Context, ref RepoRef, branch, sha string) error
	CreatePullRequest(ctx context.Context, ref RepoRef, params PullRequestParams) (PullRequest, error)
}

// Client is the HTTP implementation of API.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// NewClient builds a Client with a nop logger when none is supplied.
func NewClient(baseURL string, tokens TokenSource, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Tokens: tokens, Logger: logger}
}

// GetRepository fetches repo metadata, including the default branch.
func (c *Client) GetRepository(ctx context.Context, ref RepoRef) (Repository, error) {
	var payload struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", ref.Owner, ref.Name), nil, &payload); err != nil {
		return Repository{}, errs.Wrapf(err, "get repository %s", ref)
	}
	return Repository{FullName: payload.FullName, DefaultBranch: payload.DefaultBranch}, nil
}

// GetBranch fetches a branch's head commit SHA and tree SHA.
func (c *Client) GetBranch(ctx context.Context, ref RepoRef, branch string) (Branch, error) {
	var payload struct {
		Name   string `json:"name"`
		Commit struct {
			SHA    string `json:"sha"`
			Commit struct {
				Tree struct {
					SHA string `json:"sha"`
				} `json:"tree"`
			} `json:"commit"`
		} `json:"commit"`
	}
	requestPath := fmt.Sprintf("/repos/%s/%s/branches/%s", ref.Owner, ref.Name, url.PathEscape(branch))
	if err := c.do(ctx, http.MethodGet, requestPath, nil, &payload); err != nil {
		return Branch{}, errs.Wrapf(err, "get branch %s of %s", branch, ref)
	}
	return Branch{Name: payload.Name, HeadSHA: payload.Commit.SHA, TreeSHA: payload.Commit.Commit.Tree.SHA}, nil
}

// GetTree lists a git tree, recursively when asked.
func (c *Client) GetTree(ctx context.Context, ref RepoRef, treeSHA string, recursive bool) (Tree, error) {
	requestPath := fmt.Sprintf("/repos/%s/%s/git/trees/%s", ref.Owner, ref.Name, url.PathEscape(treeSHA))
	if recursive {
		requestPath += "?recursive=1"
	}
	var payload struct {
		SHA       string      `json:"sha"`
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	if err := c.do(ctx, http.MethodGet, requestPath, nil, &payload); err != nil {
		return Tree{}, errs.Wrapf(err, "get tree %s of %s", treeSHA, ref)
	}
	if payload.Truncated {
		c.Logger.Warnw("tree listing truncated by the API", "repository", ref.String(), "tree", treeSHA)
	}
	return Tree{SHA: payload.SHA, Entries: payload.Tree, Truncated: payload.Truncated}, nil
}

// GetContents reads one file's decoded body at a git ref.
func (c *Client) GetContents(ctx context.Context, ref RepoRef, path, gitRef string) ([]byte, error) {
	requestPath := fmt.Sprintf("/repos/%s/%s/contents/%s", ref.Owner, ref.Name, escapePath(path))
	if gitRef != "" {
		requestPath += "?ref=" + url.QueryEscape(gitRef)
	}
	var payload struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.do(ctx, http.MethodGet, requestPath, nil, &payload); err != nil {
		return nil, errs.Wrapf(err, "get contents %s of %s", path, ref)
	}
	if payload.Encoding != "base64" {
		return nil, errs.Newf("contents of %s use unexpected encoding %q", path, payload.Encoding)
	}
	decoded, decodeErr := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if decodeErr != nil {
		return nil, errs.Wrapf(decodeErr, "decode contents of %s", path)
	}
	return decoded, nil
}

// CreateBlob uploads one file body and returns its blob SHA.
func (c *Client) CreateBlob(ctx context.Context, ref RepoRef, content []byte) (string, error) {
	requestBody := map[string]any{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var payload struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/blobs", ref.Owner, ref.Name), requestBody, &payload); err != nil {
		return "", errs.Wrapf(err, "create blob in %s", ref)
	}
	return payload.SHA, nil
}

// CreateTree layers entries on top of a base tree and returns the new tree
// SHA.
func (c *Client) CreateTree(ctx context.Context, ref RepoRef, baseTreeSHA string, entries []TreeEntry) (string, error) {
	requestBody := map[string]any{"tree": entries}
	if baseTreeSHA != "" {
		requestBody["base_tree"] = baseTreeSHA
	}
	var payload struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/trees", ref.Owner, ref.Name), requestBody, &payload); err != nil {
		return "", errs.Wrapf(err, "create tree in %s", ref)
	}
	return payload.SHA, nil
}

// CreateCommit records a commit pointing at treeSHA.
func (c *Client) CreateCommit(ctx context.Context, ref RepoRef, message, treeSHA string, parents []string) (string, error) {
	requestBody := map[string]any{
		"message": message,
		"tree":    treeSHA,
		"parents": parents,
	}
	var payload struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/commits", ref.Owner, ref.Name), requestBody, &payload); err != nil {
		return "", errs.Wrapf(err, "create commit in %s", ref)
	}
	return payload.SHA, nil
}

// CreateRef creates refs/heads/<branch> at the given SHA.
func (c *Client) CreateRef(ctx context.Context, ref RepoRef, branch, sha string) error {
	requestBody := map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", ref.Owner, ref.Name), requestBody, nil); err != nil {
		return errs.Wrapf(err, "create ref %s in %s", branch, ref)
	}
	return nil
}

// UpdateRef fast-forwards refs/heads/<branch> to the given SHA.
func (c *Client) UpdateRef(ctx context.Context, ref RepoRef, branch, sha string) error {
	requestBody := map[string]any{"sha": sha, "force": false}
	requestPath := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", ref.Owner, ref.Name, escapePath(branch))
	if err := c.do(ctx, http.MethodPatch, requestPath, requestBody, nil); err != nil {
		return errs.Wrapf(err, "update ref %s in %s", branch, ref)
	}
	return nil
}

// CreatePullRequest opens the PR and returns its number and URL.
func (c *Client) CreatePullRequest(ctx context.Context, ref RepoRef, params PullRequestParams) (PullRequest, error) {
	requestBody := map[string]any{
		"title": params.Title,
		"head":  params.Head,
		"base":  params.Base,
		"body":  params.Body,
	}
	var payload struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", ref.Owner, ref.Name), requestBody, &payload); err != nil {
		return PullRequest{}, errs.Wrapf(err, "create pull request in %s", ref)
	}
	return PullRequest{Number: payload.Number, URL: payload.HTMLURL}, nil
}

func (c *Client) do(ctx context.Context, method, requestPath string, body any, target any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return marshalErr
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpRequest, buildErr := http.NewRequestWithContext(ctx, method, c.BaseURL+requestPath, bodyReader)
	if buildErr != nil {
		return buildErr
	}
	token, tokenErr := c.Tokens.Token(ctx)
	if tokenErr != nil {
		return tokenErr
	}
	httpRequest.Header.Set("Authorization", "Bearer "+token)
	httpRequest.Header.Set("Accept", acceptHeader)
	httpRequest.Header.Set("X-GitHub-Api-Version", apiVersionHeader)
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpResponse, httpErr := httpClient.Do(httpRequest)
	if httpErr != nil {
		return httpErr
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return readErr
	}
	if httpResponse.StatusCode == http.StatusNotFound {
		return errs.NotFoundf("%s %s returned 404", method, requestPath)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		preview := string(bodyBytes)
		if len(preview) > 512 {
			preview = preview[:512] + "…"
		}
		return errs.Newf("github http error %d: %s", httpResponse.StatusCode, preview)
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(bodyBytes, target)
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
