package config

import (
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// DefaultLLMConfig returns the built-in LLM settings.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		PrimaryModel:     "gemini-2.5-pro",
		FallbackModels:   []string{"gemini-2.5-flash", "gemini-2.0-flash"},
		RequestTimeout:   180 * time.Second,
		TransportRetries: 1,
		APIKeyEnv:        "GOOGLE_API_KEY",
		MaxOutputTokens:  65536,
		Temperature:      0.1,
	}
}

// DefaultQualityConfig returns the built-in thresholds and retry bounds.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{
		Thresholds:           models.DefaultThresholds(),
		MaxRetries:           3,
		SurgicalMinAvgScore:  0.70,
		SurgicalMinAdherence: 0.50,
	}
}

// DefaultCacheConfig returns the built-in cache settings.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Directory:    "./cache/extractions",
		DatabaseTier: true,
	}
}

// DefaultPipelineConfig returns the built-in pipeline output settings.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		OutputDir:          "./output",
		IntermediateStages: true,
		AgentCatalog:       false,
	}
}

// DefaultInterpretationConfig returns the built-in interpretation settings.
func DefaultInterpretationConfig() *InterpretationConfig {
	return &InterpretationConfig{
		TermCacheDir:       "./cache/terms",
		BatchSize:          25,
		MaxCyclesExpansion: 48,
	}
}

// DefaultSupervisorConfig returns the built-in supervisor settings.
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		CancelGracePeriod: 15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		OrphanThreshold:   5 * time.Minute,
	}
}
