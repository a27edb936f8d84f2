package github

import (
	"strings"

	"github.com/apify-store/dataset-schema-super-actor/internal/errs"
)

// RepoRef identifies one repository.
type RepoRef struct {
	Owner string
	Name  string
}

// String returns the owner/name form.
func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// ParseRepoRef accepts "owner/name", a full https URL, or an SSH remote and
// returns the canonical reference. Anything else is a configuration error.
func ParseRepoRef(reference string) (RepoRef, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return RepoRef{}, errs.Configurationf("repository reference is empty")
	}

	switch {
	case strings.HasPrefix(trimmed, "https://github.com/"):
		trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	case strings.HasPrefix(trimmed, "http://github.com/"):
		trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	case strings.HasPrefix(trimmed, "git@github.com:"):
		trimmed = strings.TrimPrefix(trimmed, "git@github.com:")
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	segments := strings.Split(trimmed, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return RepoRef{}, errs.Configurationf("repository reference %q is not owner/name, an https URL, or an SSH remote", reference)
	}
	return RepoRef{Owner: segments[0], Name: segments[1]}, nil
}
