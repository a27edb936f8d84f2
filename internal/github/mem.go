package github

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// CommitRecord is one commit stored by Mem.
type CommitRecord struct {
	TreeSHA string
	Parents []string
	Message string
}

// PullRequestRecord pairs the creation params with the resulting PR.
type PullRequestRecord struct {
	Params PullRequestParams
	Result PullRequest
}

// Mem is an in-memory API carrying just enough git semantics for the
// publisher: content-addressed blobs, flat path trees, commits, and branch
// refs. SHAs are sequence-numbered, not hashes.
type Mem struct {
	mu           sync.Mutex
	repoRef      RepoRef
	repository   Repository
	blobs        map[string][]byte
	trees        map[string]map[string]string
	commits      map[string]CommitRecord
	refs         map[string]string
	pullRequests []PullRequestRecord
	sequence     int

	// Per-operation failure injection for atomicity tests.
	CreateBlobErr        error
	CreateTreeErr        error
	CreateCommitErr      error
	CreateRefErr         error
	UpdateRefErr         error
	CreatePullRequestErr error
}

// NewMem seeds a repository whose default branch holds the given files.
func NewMem(ref RepoRef, defaultBranch string, files map[string]string) *Mem {
	m := &Mem{
		repoRef:    ref,
		repository: Repository{FullName: ref.String(), DefaultBranch: defaultBranch},
		blobs:      map[string][]byte{},
		trees:      map[string]map[string]string{},
		commits:    map[string]CommitRecord{},
		refs:       map[string]string{},
	}

	tree := map[string]string{}
	for path, content := range files {
		blobSHA := m.nextSHA("blob")
		m.blobs[blobSHA] = []byte(content)
		tree[path] = blobSHA
	}
	treeSHA := m.nextSHA("tree")
	m.trees[treeSHA] = tree
	commitSHA := m.nextSHA("commit")
	m.commits[commitSHA] = CommitRecord{TreeSHA: treeSHA, Message: "seed"}
	m.refs[defaultBranch] = commitSHA
	return m
}

func (m *Mem) nextSHA(kind string) string {
	m.sequence++
	return fmt.Sprintf("%s-%d", kind, m.sequence)
}

// GetRepository returns the seeded repository when the reference matches.
func (m *Mem) GetRepository(_ context.Context, ref RepoRef) (Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref != m.repoRef {
		return Repository{}, errs.NotFoundf("repository %s not found", ref)
	}
	return m.repository, nil
}

// GetBranch resolves a branch to its head commit and tree.
func (m *Mem) GetBranch(_ context.Context, ref RepoRef, branch string) (Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	commitSHA, exists := m.refs[branch]
	if !exists {
		return Branch{}, errs.NotFoundf("branch %s not found in %s", branch, ref)
	}
	commit := m.commits[commitSHA]
	return Branch{Name: branch, HeadSHA: commitSHA, TreeSHA: commit.TreeSHA}, nil
}

// GetTree lists a stored tree with entries sorted by path.
func (m *Mem) GetTree(_ context.Context, ref RepoRef, treeSHA string, _ bool) (Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, exists := m.trees[treeSHA]
	if !exists {
		return Tree{}, errs.NotFoundf("tree %s not found in %s", treeSHA, ref)
	}
	paths := make([]string, 0, len(tree))
	for path := range tree {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	entries := make([]TreeEntry, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, TreeEntry{Path: path, Mode: ModeFile, Type: TypeBlob, SHA: tree[path]})
	}
	return Tree{SHA: treeSHA, Entries: entries}, nil
}

// GetContents resolves gitRef (default branch when empty) and reads the file
// body at path.
func (m *Mem) GetContents(_ context.Context, ref RepoRef, path, gitRef string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gitRef == "" {
		gitRef = m.repository.DefaultBranch
	}
	commitSHA, exists := m.refs[gitRef]
	if !exists {
		return nil, errs.NotFoundf("ref %s not found in %s", gitRef, ref)
	}
	tree := m.trees[m.commits[commitSHA].TreeSHA]
	blobSHA, present := tree[path]
	if !present {
		return nil, errs.NotFoundf("path %s not found at %s", path, gitRef)
	}
	return append([]byte(nil), m.blobs[blobSHA]...), nil
}

// CreateBlob stores content and returns a fresh SHA.
func (m *Mem) CreateBlob(_ context.Context, _ RepoRef, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateBlobErr != nil {
		return "", m.CreateBlobErr
	}
	blobSHA := m.nextSHA("blob")
	m.blobs[blobSHA] = append([]byte(nil), content...)
	return blobSHA, nil
}

// CreateTree layers entries on top of the base tree.
func (m *Mem) CreateTree(_ context.Context, _ RepoRef, baseTreeSHA string, entries []TreeEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateTreeErr != nil {
		return "", m.CreateTreeErr
	}
	layered := map[string]string{}
	if baseTreeSHA != "" {
		base, exists := m.trees[baseTreeSHA]
		if !exists {
			return "", errs.NotFoundf("base tree %s not found", baseTreeSHA)
		}
		for path, blobSHA := range base {
			layered[path] = blobSHA
		}
	}
	for _, entry := range entries {
		layered[entry.Path] = entry.SHA
	}
	treeSHA := m.nextSHA("tree")
	m.trees[treeSHA] = layered
	return treeSHA, nil
}

// CreateCommit stores a commit record.
func (m *Mem) CreateCommit(_ context.Context, _ RepoRef, message, treeSHA string, parents []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateCommitErr != nil {
		return "", m.CreateCommitErr
	}
	if _, exists := m.trees[treeSHA]; !exists {
		return "", errs.NotFoundf("tree %s not found", treeSHA)
	}
	commitSHA := m.nextSHA("commit")
	m.commits[commitSHA] = CommitRecord{TreeSHA: treeSHA, Parents: append([]string(nil), parents...), Message: message}
	return commitSHA, nil
}

// CreateRef creates a new branch; creating an existing branch fails like the
// real API does.
func (m *Mem) CreateRef(_ context.Context, _ RepoRef, branch, sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateRefErr != nil {
		return m.CreateRefErr
	}
	if _, exists := m.refs[branch]; exists {
		return errs.Newf("ref %s already exists", branch)
	}
	if _, exists := m.commits[sha]; !exists {
		return errs.NotFoundf("commit %s not found", sha)
	}
	m.refs[branch] = sha
	return nil
}

// UpdateRef moves an existing branch to a new commit.
func (m *Mem) UpdateRef(_ context.Context, _ RepoRef, branch, sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateRefErr != nil {
		return m.UpdateRefErr
	}
	if _, exists := m.refs[branch]; !exists {
		return errs.NotFoundf("ref %s not found", branch)
	}
	if _, exists := m.commits[sha]; !exists {
		return errs.NotFoundf("commit %s not found", sha)
	}
	m.refs[branch] = sha
	return nil
}

// CreatePullRequest records the PR and mints its number and URL.
func (m *Mem) CreatePullRequest(_ context.Context, ref RepoRef, params PullRequestParams) (PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreatePullRequestErr != nil {
		return PullRequest{}, m.CreatePullRequestErr
	}
	if _, exists := m.refs[params.Head]; !exists {
		return PullRequest{}, errs.NotFoundf("head branch %s not found", params.Head)
	}
	result := PullRequest{
		Number: len(m.pullRequests) + 1,
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", ref.Owner, ref.Name, len(m.pullRequests)+1),
	}
	m.pullRequests = append(m.pullRequests, PullRequestRecord{Params: params, Result: result})
	return result, nil
}

// PullRequests returns every recorded PR creation.
func (m *Mem) PullRequests() []PullRequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PullRequestRecord(nil), m.pullRequests...)
}

// BranchHead reports a branch's current commit SHA.
func (m *Mem) BranchHead(branch string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	commitSHA, exists := m.refs[branch]
	return commitSHA, exists
}

// FileAt reads a file body at a branch head, for test assertions.
func (m *Mem) FileAt(branch, path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	commitSHA, exists := m.refs[branch]
	if !exists {
		return nil, false
	}
	tree := m.trees[m.commits[commitSHA].TreeSHA]
	blobSHA, present := tree[path]
	if !present {
		return nil, false
	}
	return append([]byte(nil), m.blobs[blobSHA]...), true
}

// HeadCommit returns the commit record a branch points at.
func (m *Mem) HeadCommit(branch string) (CommitRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	commitSHA, exists := m.refs[branch]
	if !exists {
		return CommitRecord{}, false
	}
	return m.commits[commitSHA], true
}
