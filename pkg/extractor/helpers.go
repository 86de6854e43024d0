package extractor

import (
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
)

// Prompt placeholders. Pass-2 prompts reference the pass-1 output; both
// passes may reference module identity.
const (
	varModuleID     = "{{MODULE_ID}}"
	varModuleTitle  = "{{MODULE_TITLE}}"
	varInstanceType = "{{INSTANCE_TYPE}}"
	varPass1Output  = "{{PASS1_OUTPUT}}"
)

func substitute(prompt string, module config.ModuleSpec, pass1JSON string) string {
	return strings.NewReplacer(
		varModuleID, module.ID,
		varModuleTitle, module.Title,
		varInstanceType, module.InstanceType,
		varPass1Output, pass1JSON,
	).Replace(prompt)
}

// enforceIdentity guarantees the mandatory identity fields on pass-1 output.
// The id may still be empty here; post-processing synthesizes one.
func enforceIdentity(doc map[string]any, module config.ModuleSpec) {
	if _, ok := doc["instanceType"].(string); !ok {
		doc["instanceType"] = module.InstanceType
	}
	if _, ok := doc["id"]; !ok {
		doc["id"] = ""
	}
}

// preserveIdentity copies identity fields present in the pass-1 document but
// absent (or empty) in the pass-2 document.
func preserveIdentity(pass1, pass2 map[string]any) {
	for _, field := range identityFields {
		v1, ok1 := pass1[field]
		if !ok1 {
			continue
		}
		v2, ok2 := pass2[field]
		if !ok2 || v2 == nil || v2 == "" {
			pass2[field] = v1
		}
	}
}

// attachMetadata writes the _metadata envelope onto the deliverable.
func attachMetadata(out *Output, module config.ModuleSpec) {
	out.Data["_metadata"] = map[string]any{
		"moduleId":     module.ID,
		"instanceType": module.InstanceType,
		"pass1Seconds": out.Pass1Seconds,
		"pass2Seconds": out.Pass2Seconds,
		"pass2Skipped": out.Pass2Skipped,
		"pass1Retries": out.Pass1Retries,
		"pass2Retries": out.Pass2Retries,
		"qualityScore": out.Quality.Overall(),
		"fromCache":    out.FromCache,
	}
}
