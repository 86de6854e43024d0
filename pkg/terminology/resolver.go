package terminology

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// Resolution binds one free-text term to a codelist entry.
type Resolution struct {
	Term       string               `json:"term"`
	Code       string               `json:"code"`
	Decode     string               `json:"decode"`
	Confidence float64              `json:"confidence"`
	Source     models.MappingSource `json:"source"`
}

// Resolver maps free-text terms onto a codelist through tiers: exact decode
// or synonym match first, then one batched LLM call for whatever is left.
// Terms the LLM cannot place come back with Source "default" and zero
// confidence so callers can apply their own fallback.
type Resolver struct {
	client    llm.Client
	batchSize int
}

func NewResolver(client llm.Client, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Resolver{client: client, batchSize: batchSize}
}

// Resolve maps each term to an entry of the named codelist. The static tier
// resolves with confidence 1.0; unresolved terms are batched through the LLM,
// never called one at a time.
func (r *Resolver) Resolve(ctx context.Context, codelistName string, terms []string) (map[string]Resolution, error) {
	lists, err := Lists()
	if err != nil {
		return nil, err
	}
	list, ok := lists[codelistName]
	if !ok {
		return nil, fmt.Errorf("unknown codelist %q", codelistName)
	}

	out := make(map[string]Resolution, len(terms))
	var novel []string
	for _, term := range terms {
		if _, done := out[term]; done {
			continue
		}
		if entry := list.ByDecode(term); entry != nil {
			out[term] = Resolution{
				Term: term, Code: entry.Code, Decode: entry.Decode,
				Confidence: 1.0, Source: models.MappingCached,
			}
			continue
		}
		novel = append(novel, term)
	}

	for start := 0; start < len(novel); start += r.batchSize {
		end := min(start+r.batchSize, len(novel))
		batch := novel[start:end]
		resolved, err := r.resolveBatch(ctx, list, batch)
		if err != nil {
			// LLM failure downgrades the whole batch to defaults; the
			// pipeline decides what a default means per stage.
			slog.Warn("Batched terminology resolution failed",
				"codelist", codelistName, "terms", len(batch), "error", err)
			resolved = nil
		}
		for _, term := range batch {
			if res, ok := resolved[term]; ok {
				out[term] = res
				continue
			}
			out[term] = Resolution{Term: term, Source: models.MappingDefault}
		}
	}
	return out, nil
}

func (r *Resolver) resolveBatch(ctx context.Context, list *Codelist, terms []string) (map[string]Resolution, error) {
	if r.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Map each clinical term to an entry of the %q codelist.\n\nCodelist entries:\n", list.Name)
	for _, e := range list.Entries {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Code, e.Decode)
	}
	sb.WriteString("\nTerms:\n")
	for _, t := range terms {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	sb.WriteString(`
Respond with a JSON object: {"mappings": [{"term": "...", "code": "...", "confidence": 0.0}]}.
Use a code from the codelist above, or an empty code when no entry fits. Confidence is in [0,1].`)

	text, err := r.client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Mappings []struct {
			Term       string  `json:"term"`
			Code       string  `json:"code"`
			Confidence float64 `json:"confidence"`
		} `json:"mappings"`
	}
	if err := llm.ParseInto(text, &parsed); err != nil {
		return nil, err
	}

	out := make(map[string]Resolution, len(parsed.Mappings))
	for _, m := range parsed.Mappings {
		entry := list.ByCode(m.Code)
		if entry == nil {
			continue
		}
		out[m.Term] = Resolution{
			Term: m.Term, Code: entry.Code, Decode: entry.Decode,
			Confidence: m.Confidence, Source: models.MappingLLM,
		}
	}
	return out, nil
}
