package semantic

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHubSource loads semantic models from a directory of a GitHub repository.
type GitHubSource struct {
	client *github.Client
	owner  string
	repo   string
	dir    string
	ref    string
}

// NewGitHubSource creates a source over "owner/repo" at the given directory
// and ref. An empty token works for public repositories.
func NewGitHubSource(repo, dir, ref, token string) (*GitHubSource, error) {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return NewGitHubSourceWithClient(client, repo, dir, ref)
}

// NewGitHubSourceWithClient injects a prepared client. Tests use it to point
// the source at a local server.
func NewGitHubSourceWithClient(client *github.Client, repo, dir, ref string) (*GitHubSource, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo format: %s (expected owner/repo)", repo)
	}

	return &GitHubSource{
		client: client,
		owner:  parts[0],
		repo:   parts[1],
		dir:    strings.Trim(dir, "/"),
		ref:    ref,
	}, nil
}

// Load fetches the named model file. The name is tried as given, then with
// .yaml and .yml appended.
func (s *GitHubSource) Load(ctx context.Context, name string) ([]byte, error) {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." {
		return nil, &NotFoundError{Name: name}
	}

	candidates := []string{base}
	if !hasYAMLSuffix(base) {
		candidates = append(candidates, base+".yaml", base+".yml")
	}

	opts := &github.RepositoryContentGetOptions{Ref: s.ref}
	for _, candidate := range candidates {
		fileContent, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path.Join(s.dir, candidate), opts)
		if err != nil {
			if isGitHubNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("fetch semantic model %s: %w", candidate, err)
		}
		if fileContent == nil {
			// Name resolved to a directory
			continue
		}
		content, err := fileContent.GetContent()
		if err != nil {
			return nil, fmt.Errorf("decode semantic model %s: %w", candidate, err)
		}
		return []byte(content), nil
	}

	return nil, &NotFoundError{Name: name}
}

// List returns the YAML file names (without extension) in the configured
// repository directory, sorted.
func (s *GitHubSource) List(ctx context.Context) ([]string, error) {
	opts := &github.RepositoryContentGetOptions{Ref: s.ref}
	_, dirContent, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.dir, opts)
	if err != nil {
		return nil, fmt.Errorf("list semantic models: %w", err)
	}

	var names []string
	for _, entry := range dirContent {
		if entry.GetType() != "file" || !hasYAMLSuffix(entry.GetName()) {
			continue
		}
		names = append(names, trimYAMLSuffix(entry.GetName()))
	}
	sort.Strings(names)
	return names, nil
}

func isGitHubNotFound(err error) bool {
	errResp, ok := err.(*github.ErrorResponse)
	return ok && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}
