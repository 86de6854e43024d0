package config

import (
	"encoding/json"
	"fmt"
)

// validate performs comprehensive validation on resolved configuration.
func validate(cfg *Config) error {
	if err := validateLLM(cfg.LLM); err != nil {
		return err
	}
	if err := validateQuality(cfg.Quality); err != nil {
		return err
	}
	if err := validateModules(cfg.ModuleRegistry); err != nil {
		return err
	}
	return nil
}

func validateLLM(llm *LLMConfig) error {
	if llm.PrimaryModel == "" {
		return NewValidationError("llm", "primary_model", "", ErrMissingRequiredField)
	}
	if llm.RequestTimeout <= 0 {
		return NewValidationError("llm", "request_timeout", "", ErrInvalidValue)
	}
	if llm.TransportRetries < 0 {
		return NewValidationError("llm", "transport_retries", "", ErrInvalidValue)
	}
	return nil
}

func validateQuality(q *QualityConfig) error {
	checks := map[string]float64{
		"thresholds.accuracy":       q.Thresholds.Accuracy,
		"thresholds.completeness":   q.Thresholds.Completeness,
		"thresholds.usdm_adherence": q.Thresholds.Adherence,
		"thresholds.provenance":     q.Thresholds.Provenance,
		"thresholds.terminology":    q.Thresholds.Terminology,
		"surgical_min_avg_score":    q.SurgicalMinAvgScore,
		"surgical_min_adherence":    q.SurgicalMinAdherence,
	}
	for field, v := range checks {
		if v < 0 || v > 1 {
			return NewValidationError("quality", field, "", fmt.Errorf("%w: %v not in [0,1]", ErrInvalidValue, v))
		}
	}
	if q.MaxRetries < 0 {
		return NewValidationError("quality", "max_retries", "", ErrInvalidValue)
	}
	return nil
}

func validateModules(registry *ModuleRegistry) error {
	specs := registry.AllModules()
	if len(specs) == 0 {
		return NewValidationError("modules", "registry", "", fmt.Errorf("%w: no modules declared", ErrMissingRequiredField))
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return NewValidationError("module", spec.Title, "id", ErrMissingRequiredField)
		}
		if seen[spec.ID] {
			return NewValidationError("module", spec.ID, "id", fmt.Errorf("%w: duplicate module id", ErrInvalidValue))
		}
		seen[spec.ID] = true
		if spec.Slot == "" {
			return NewValidationError("module", spec.ID, "slot", ErrMissingRequiredField)
		}
		if spec.InstanceType == "" {
			return NewValidationError("module", spec.ID, "instance_type", ErrMissingRequiredField)
		}

		// Schemas must at least parse; full validation happens in the
		// quality checker with $ref resolution.
		ps, err := registry.Prompts(spec.ID)
		if err != nil {
			return err
		}
		var probe map[string]any
		if err := json.Unmarshal([]byte(ps.Schema), &probe); err != nil {
			return NewValidationError("module", spec.ID, "schema", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}
