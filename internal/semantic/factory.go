package semantic

import (
	"fmt"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
)

// NewSource creates a model source based on configuration
// This is a factory function that eliminates if-else branches
func NewSource(cfg *config.Config) (Source, error) {
	switch cfg.ModelSource {
	case "local_files":
		return NewDirSource(cfg.ModelPath), nil

	case "github":
		return NewGitHubSource(cfg.ModelRepo, cfg.ModelRepoDir, cfg.ModelRepoRef, cfg.GitHubToken)

	case "memory":
		return NewMemorySource(), nil

	default:
		return nil, fmt.Errorf("unknown semantic model source: %s (supported: local_files, github, memory)", cfg.ModelSource)
	}
}
