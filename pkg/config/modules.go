package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ModuleSpec declares one extraction module: its prompts, schema, and the
// slot its payload occupies in the unified document. The declaration order
// (Order field) fixes execution order within a job.
type ModuleSpec struct {
	ID           string `yaml:"id"`
	Title        string `yaml:"title"`
	Slot         string `yaml:"slot"`
	InstanceType string `yaml:"instance_type"`
	Order        int    `yaml:"order"`
	Enabled      *bool  `yaml:"enabled"`

	// File names under <promptsDir>/<id>/. Defaults: pass1.md, pass2.md,
	// schema.json.
	Pass1PromptFile string `yaml:"pass1_prompt"`
	Pass2PromptFile string `yaml:"pass2_prompt"`
	SchemaFile      string `yaml:"schema"`
}

// IsEnabled reports whether the module participates in runs (default true).
func (m ModuleSpec) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// PromptSet is the loaded prompt/schema text for one module. The text feeds
// directly into cache keys, so a reload naturally invalidates stale entries.
type PromptSet struct {
	Pass1  string
	Pass2  string
	Schema string
}

// ModuleRegistry holds the ordered module declarations and their loaded
// prompt sets. Reload swaps the prompt sets atomically; declarations are
// immutable after Initialize.
type ModuleRegistry struct {
	promptsDir string
	specs      []ModuleSpec

	mu         sync.RWMutex
	prompts    map[string]PromptSet
	components map[string]string // shared component schemas by file name
}

// NewModuleRegistry builds a registry from declarations and loads all prompt
// files. Missing prompt or schema files fail fast with the offending path.
func NewModuleRegistry(promptsDir string, specs []ModuleSpec) (*ModuleRegistry, error) {
	ordered := make([]ModuleSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	r := &ModuleRegistry{
		promptsDir: promptsDir,
		specs:      ordered,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Modules returns enabled module specs in declared order.
func (r *ModuleRegistry) Modules() []ModuleSpec {
	out := make([]ModuleSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		if spec.IsEnabled() {
			out = append(out, spec)
		}
	}
	return out
}

// AllModules returns every declared module, enabled or not.
func (r *ModuleRegistry) AllModules() []ModuleSpec {
	out := make([]ModuleSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Module returns the spec for one module id.
func (r *ModuleRegistry) Module(id string) (ModuleSpec, error) {
	for _, spec := range r.specs {
		if spec.ID == id {
			return spec, nil
		}
	}
	return ModuleSpec{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
}

// Prompts returns the loaded prompt set for one module id.
func (r *ModuleRegistry) Prompts(id string) (PromptSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.prompts[id]
	if !ok {
		return PromptSet{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return ps, nil
}

// ComponentSchemas returns the shared component schemas (file name → JSON
// text) used for $ref resolution during schema validation.
func (r *ModuleRegistry) ComponentSchemas() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.components))
	for k, v := range r.components {
		out[k] = v
	}
	return out
}

// Reload re-reads every prompt and schema file from disk and swaps them in
// atomically. Called at startup and by the fsnotify watcher.
func (r *ModuleRegistry) Reload() error {
	prompts := make(map[string]PromptSet, len(r.specs))
	for _, spec := range r.specs {
		ps, err := r.loadPromptSet(spec)
		if err != nil {
			return err
		}
		prompts[spec.ID] = ps
	}

	components, err := r.loadComponentSchemas()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.prompts = prompts
	r.components = components
	r.mu.Unlock()
	return nil
}

func (r *ModuleRegistry) loadPromptSet(spec ModuleSpec) (PromptSet, error) {
	read := func(name, fallback string) (string, error) {
		if name == "" {
			name = fallback
		}
		path := filepath.Join(r.promptsDir, spec.ID, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}

	pass1, err := read(spec.Pass1PromptFile, "pass1.md")
	if err != nil {
		return PromptSet{}, err
	}
	pass2, err := read(spec.Pass2PromptFile, "pass2.md")
	if err != nil {
		return PromptSet{}, err
	}
	schema, err := read(spec.SchemaFile, "schema.json")
	if err != nil {
		return PromptSet{}, err
	}
	return PromptSet{Pass1: pass1, Pass2: pass2, Schema: schema}, nil
}

// loadComponentSchemas reads <promptsDir>/components/*.json. The directory
// is optional.
func (r *ModuleRegistry) loadComponentSchemas() (map[string]string, error) {
	dir := filepath.Join(r.promptsDir, "components")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading component schemas: %w", err)
	}

	out := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading component schema %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = string(data)
	}
	return out, nil
}
