package semantic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Source loads semantic model files by name.
type Source interface {
	// Load returns the raw YAML for the named model.
	Load(ctx context.Context, name string) ([]byte, error)

	// List returns the model names the source knows about.
	List(ctx context.Context) ([]string, error)
}

// NotFoundError reports an unknown model name. The API layer maps it to 404.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("semantic model not found: %s", e.Name)
}

// DirSource reads models from a local directory.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Load tries the name as given, then with .yaml and .yml appended. Path
// separators are stripped so a model name can never escape the directory.
func (s *DirSource) Load(_ context.Context, name string) ([]byte, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." {
		return nil, &NotFoundError{Name: name}
	}

	candidates := []string{base}
	if !hasYAMLSuffix(base) {
		candidates = append(candidates, base+".yaml", base+".yml")
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(filepath.Join(s.dir, candidate))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read semantic model %s: %w", candidate, err)
		}
	}

	return nil, &NotFoundError{Name: name}
}

// List returns the model names (file names without extension) in the
// directory, sorted.
func (s *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list semantic models: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !hasYAMLSuffix(name) {
			continue
		}
		names = append(names, trimYAMLSuffix(name))
	}
	sort.Strings(names)
	return names, nil
}

// MemorySource holds models in memory. Tests and embedding callers use it.
type MemorySource struct {
	mu     sync.RWMutex
	models map[string][]byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{models: make(map[string][]byte)}
}

// Add registers or replaces a model under the given name.
func (s *MemorySource) Add(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[trimYAMLSuffix(name)] = data
}

func (s *MemorySource) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.models[trimYAMLSuffix(name)]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return data, nil
}

func (s *MemorySource) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func hasYAMLSuffix(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func trimYAMLSuffix(name string) string {
	name = strings.TrimSuffix(name, ".yaml")
	name = strings.TrimSuffix(name, ".yml")
	return name
}
