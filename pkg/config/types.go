package config

import (
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// Config is the fully resolved application configuration, constructed once
// at entry and threaded through calls. There is no process-wide mutable
// configuration state.
type Config struct {
	configDir string

	LLM            *LLMConfig
	Quality        *QualityConfig
	Cache          *CacheConfig
	Pipeline       *PipelineConfig
	Interpretation *InterpretationConfig
	Supervisor     *SupervisorConfig

	ModuleRegistry *ModuleRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// LLMConfig holds model selection and transport settings. FallbackModels are
// tried in order when the primary model's call fails at the transport layer.
type LLMConfig struct {
	PrimaryModel     string        `yaml:"primary_model"`
	FallbackModels   []string      `yaml:"fallback_models"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	TransportRetries int           `yaml:"transport_retries"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	MaxOutputTokens  int           `yaml:"max_output_tokens"`
	Temperature      float64       `yaml:"temperature"`
}

// ModelChain returns the primary model followed by its fallbacks.
func (c *LLMConfig) ModelChain() []string {
	chain := make([]string, 0, 1+len(c.FallbackModels))
	chain = append(chain, c.PrimaryModel)
	chain = append(chain, c.FallbackModels...)
	return chain
}

// QualityConfig holds quality thresholds and retry bounds for the two-phase
// extractor.
type QualityConfig struct {
	Thresholds models.Thresholds `yaml:"thresholds"`

	// MaxRetries bounds quality-directed retries per pass (distinct from
	// transport retries in LLMConfig).
	MaxRetries int `yaml:"max_retries"`

	// Surgical-retry gates: surgical repair is attempted only when the
	// average score of dimensions-with-issues is at least
	// SurgicalMinAvgScore and schema adherence is at least
	// SurgicalMinAdherence.
	SurgicalMinAvgScore  float64 `yaml:"surgical_min_avg_score"`
	SurgicalMinAdherence float64 `yaml:"surgical_min_adherence"`
}

// CacheConfig configures the extraction cache tiers.
type CacheConfig struct {
	Directory    string `yaml:"directory"`
	DatabaseTier bool   `yaml:"database_tier"`
}

// PipelineConfig holds output artifact settings shared by all pipelines.
type PipelineConfig struct {
	OutputDir          string `yaml:"output_dir"`
	IntermediateStages bool   `yaml:"intermediate_stages"`
	AgentCatalog       bool   `yaml:"agent_catalog"`
}

// InterpretationConfig controls the 12-stage interpretation pipeline.
type InterpretationConfig struct {
	// TermCacheDir is the on-disk per-term cache for stage 1 domain
	// categorization, keyed by normalized activity name.
	TermCacheDir string `yaml:"term_cache_dir"`

	// BatchSize caps the number of items per batched LLM call.
	BatchSize int `yaml:"batch_size"`

	// MaxCyclesExpansion bounds stage 8 cycle materialization.
	MaxCyclesExpansion int `yaml:"max_cycles_expansion"`
}

// SupervisorConfig controls worker process spawning.
type SupervisorConfig struct {
	// WorkerBinary is the path of the pipeline worker executable. Empty
	// means re-exec the current binary's sibling "protocol-worker".
	WorkerBinary string `yaml:"worker_binary"`

	// CancelGracePeriod is how long a SIGTERM'd worker gets before SIGKILL.
	CancelGracePeriod time.Duration `yaml:"cancel_grace_period"`

	// HeartbeatInterval is how often workers refresh last_heartbeat_at.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanThreshold is how stale a heartbeat must be before the startup
	// sweep declares a non-terminal job orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}
