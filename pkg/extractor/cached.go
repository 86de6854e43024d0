package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
)

// ExtractWithCache looks the extraction up in the cache first. On a hit it
// reconstructs the quality score from the stored entry and returns without
// any LLM call; on a miss it extracts and writes the result back. Cache
// failures never fail the extraction.
func (e *Extractor) ExtractWithCache(ctx context.Context, store cache.Cache, in Input) (*Output, error) {
	key := cache.Key{
		SourceHash: in.SourceHash,
		ModuleID:   in.Module.ID,
		ModelID:    e.client.ModelID(),
		PromptHash: cache.PromptHash(in.Prompts.Pass1, in.Prompts.Pass2, in.Prompts.Schema),
	}

	if store != nil {
		entry, err := store.Get(ctx, key)
		if err == nil {
			out, derr := outputFromEntry(entry, in)
			if derr == nil {
				slog.Info("Extraction served from cache", "module", in.Module.ID)
				return out, nil
			}
			slog.Warn("Discarding corrupt cache entry", "module", in.Module.ID, "error", derr)
		} else if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("Cache lookup failed, extracting", "module", in.Module.ID, "error", err)
		}
	}

	out, err := e.Extract(ctx, in)
	if err != nil {
		return nil, err
	}

	if store != nil {
		data, merr := json.Marshal(out.Data)
		if merr != nil {
			slog.Warn("Failed to encode result for cache", "module", in.Module.ID, "error", merr)
			return out, nil
		}
		if serr := store.Set(ctx, key, &cache.Entry{
			Data:       data,
			Quality:    out.Quality,
			ProtocolID: in.ProtocolID,
		}); serr != nil {
			slog.Warn("Cache write failed", "module", in.Module.ID, "error", serr)
		}
	}
	return out, nil
}

func outputFromEntry(entry *cache.Entry, in Input) (*Output, error) {
	var doc map[string]any
	if err := json.Unmarshal(entry.Data, &doc); err != nil {
		return nil, fmt.Errorf("cached data does not decode: %w", err)
	}
	out := &Output{
		Data:      doc,
		Quality:   entry.Quality,
		FromCache: true,
	}
	out.ProvenanceCoverage = entry.Quality.Provenance
	// The stored envelope keeps its original timings; only the cache flag
	// changes on a hit.
	if meta, ok := doc["_metadata"].(map[string]any); ok {
		meta["fromCache"] = true
	} else {
		attachMetadata(out, in.Module)
	}
	return out, nil
}
