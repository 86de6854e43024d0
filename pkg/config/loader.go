package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// protocoldYAML represents the complete protocold.yaml file structure.
type protocoldYAML struct {
	LLM            *LLMConfig            `yaml:"llm"`
	Quality        *QualityConfig        `yaml:"quality"`
	Cache          *CacheConfig          `yaml:"cache"`
	Pipeline       *PipelineConfig       `yaml:"pipeline"`
	Interpretation *InterpretationConfig `yaml:"interpretation"`
	Supervisor     *SupervisorConfig     `yaml:"supervisor"`
	Modules        []ModuleSpec          `yaml:"modules"`
	PromptsDir     string                `yaml:"prompts_dir"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load protocold.yaml from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Merge user values over built-in defaults
//  4. Build the module registry (loads every prompt/schema file)
//  5. Validate all configuration
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAML(configDir, "protocold.yaml")
	if err != nil {
		return nil, NewLoadError("protocold.yaml", err)
	}

	cfg, err := resolve(configDir, raw)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"modules", len(cfg.ModuleRegistry.Modules()),
		"primary_model", cfg.LLM.PrimaryModel,
		"fallback_models", len(cfg.LLM.FallbackModels))

	return cfg, nil
}

func loadYAML(configDir, filename string) (*protocoldYAML, error) {
	path := filepath.Join(configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var raw protocoldYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &raw, nil
}

// resolve merges user values over built-in defaults and builds registries.
func resolve(configDir string, raw *protocoldYAML) (*Config, error) {
	llm := DefaultLLMConfig()
	if raw.LLM != nil {
		if err := mergo.Merge(llm, raw.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	quality := DefaultQualityConfig()
	if raw.Quality != nil {
		if err := mergo.Merge(quality, raw.Quality, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge quality config: %w", err)
		}
	}

	cache := DefaultCacheConfig()
	if raw.Cache != nil {
		if err := mergo.Merge(cache, raw.Cache, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cache config: %w", err)
		}
	}

	pipeline := DefaultPipelineConfig()
	if raw.Pipeline != nil {
		if err := mergo.Merge(pipeline, raw.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}

	interp := DefaultInterpretationConfig()
	if raw.Interpretation != nil {
		if err := mergo.Merge(interp, raw.Interpretation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge interpretation config: %w", err)
		}
	}

	supervisor := DefaultSupervisorConfig()
	if raw.Supervisor != nil {
		if err := mergo.Merge(supervisor, raw.Supervisor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge supervisor config: %w", err)
		}
	}

	promptsDir := raw.PromptsDir
	if promptsDir == "" {
		promptsDir = filepath.Join(configDir, "prompts")
	} else if !filepath.IsAbs(promptsDir) {
		promptsDir = filepath.Join(configDir, promptsDir)
	}

	registry, err := NewModuleRegistry(promptsDir, raw.Modules)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:      configDir,
		LLM:            llm,
		Quality:        quality,
		Cache:          cache,
		Pipeline:       pipeline,
		Interpretation: interp,
		Supervisor:     supervisor,
		ModuleRegistry: registry,
	}, nil
}
